package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestEventInsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db)

	attemptID := uuid.New()
	event := &domain.Event{
		ID:            uuid.New(),
		Type:          domain.EventSurveyCompleted,
		CampaignID:    uuid.New(),
		ContactID:     uuid.New(),
		CallAttemptID: &attemptID,
		Payload:       map[string]any{"outcome": "completed"},
		CreatedAt:     time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.Insert(context.Background(), event)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventInsertDuplicateSuppressed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db)

	attemptID := uuid.New()
	event := &domain.Event{
		ID:            uuid.New(),
		Type:          domain.EventSurveyRefused,
		CampaignID:    uuid.New(),
		ContactID:     uuid.New(),
		CallAttemptID: &attemptID,
		CreatedAt:     time.Now().UTC(),
	}

	// ON CONFLICT DO NOTHING reports zero affected rows for the duplicate.
	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.Insert(context.Background(), event)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventListUnpublished(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db)

	id := uuid.New()
	campaignID := uuid.New()
	contactID := uuid.New()
	created := time.Now().UTC().Truncate(time.Second)

	rows := sqlmock.NewRows([]string{
		"id", "event_type", "campaign_id", "contact_id", "call_attempt_id",
		"payload", "created_at", "published_at", "publish_attempts", "dead_lettered",
	}).AddRow(
		id.String(), "survey.completed", campaignID.String(), contactID.String(), nil,
		[]byte(`{"outcome":"completed","attempts_count":2}`), created, nil, 1, false,
	)

	mock.ExpectQuery("FROM events").
		WithArgs(50).
		WillReturnRows(rows)

	events, err := repo.ListUnpublished(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	require.Equal(t, id, event.ID)
	require.Equal(t, domain.EventSurveyCompleted, event.Type)
	require.Nil(t, event.CallAttemptID)
	require.Nil(t, event.PublishedAt)
	require.Equal(t, 1, event.PublishAttempts)
	require.Equal(t, "completed", event.Payload["outcome"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventGetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db)

	id := uuid.New()
	mock.ExpectQuery("FROM events").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(context.Background(), id)
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventMarkPublished(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db)

	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE events SET published_at").
		WithArgs(id, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkPublished(context.Background(), id, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRecordPublishFailure(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db)

	id := uuid.New()
	mock.ExpectExec("publish_attempts \\+ 1").
		WithArgs(id, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordPublishFailure(context.Background(), id, true))
	require.NoError(t, mock.ExpectationsWereMet())
}
