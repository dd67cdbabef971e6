package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
)

func testDomainCampaign() *domain.Campaign {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Campaign{
		ID:          uuid.New(),
		Name:        "Spring Feedback",
		Status:      domain.CampaignStatusDraft,
		Language:    domain.LanguageEnglish,
		Timezone:    "Europe/Rome",
		IntroScript: "Hi, quick survey.",
		Questions: [domain.SurveyQuestionCount]domain.Question{
			{Position: 1, Text: "How satisfied are you?", Type: domain.QuestionTypeScale},
			{Position: 2, Text: "What did you like most?", Type: domain.QuestionTypeFreeText},
			{Position: 3, Text: "How many orders this year?", Type: domain.QuestionTypeNumeric},
		},
		MaxAttempts:        3,
		RetryInterval:      time.Hour,
		CallWindow:         domain.CallWindow{Start: 9 * 60, End: 20 * 60},
		MaxConcurrentCalls: 5,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestCampaignCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignRepository(db)

	mock.ExpectExec("INSERT INTO campaigns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), testDomainCampaign()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignCreateDuplicateName(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignRepository(db)

	mock.ExpectExec("INSERT INTO campaigns").
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode})

	err := repo.Create(context.Background(), testDomainCampaign())
	require.ErrorIs(t, err, repository.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignGetRoundTrip(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignRepository(db)

	want := testDomainCampaign()
	templateID := uuid.New()
	want.EmailTemplates = map[domain.EventType]uuid.UUID{domain.EventSurveyCompleted: templateID}

	questions, err := json.Marshal(want.Questions)
	require.NoError(t, err)
	templates, err := json.Marshal(want.EmailTemplates)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"id", "name", "status", "language", "timezone", "intro_script", "questions",
		"max_attempts", "retry_interval_minutes", "call_window_start", "call_window_end",
		"email_templates", "max_concurrent_calls", "created_at", "updated_at", "started_at", "completed_at",
	}).AddRow(
		want.ID.String(), want.Name, string(want.Status), want.Language, want.Timezone,
		want.IntroScript, questions, want.MaxAttempts, 60, int(want.CallWindow.Start),
		int(want.CallWindow.End), templates, want.MaxConcurrentCalls,
		want.CreatedAt, want.UpdatedAt, nil, nil,
	)

	mock.ExpectQuery("FROM campaigns").
		WithArgs(want.ID).
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), want.ID)
	require.NoError(t, err)
	require.Equal(t, want.Name, got.Name)
	require.Equal(t, want.Questions, got.Questions)
	require.Equal(t, time.Hour, got.RetryInterval)
	require.Equal(t, want.CallWindow, got.CallWindow)
	require.Equal(t, templateID, got.EmailTemplates[domain.EventSurveyCompleted])
	require.Nil(t, got.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignGetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignRepository(db)

	id := uuid.New()
	mock.ExpectQuery("FROM campaigns").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(context.Background(), id)
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignUpdateStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignRepository(db)

	id := uuid.New()

	// Running stamps started_at on the first activation only.
	mock.ExpectExec("started_at = COALESCE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateStatus(context.Background(), id, domain.CampaignStatusRunning))

	mock.ExpectExec("completed_at = \\$2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateStatus(context.Background(), id, domain.CampaignStatusCompleted))

	mock.ExpectExec("UPDATE campaigns SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateStatus(context.Background(), id, domain.CampaignStatusPaused)
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
