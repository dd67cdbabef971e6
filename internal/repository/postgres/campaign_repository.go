package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
)

// CampaignRepository persists campaign definitions.
type CampaignRepository struct {
	db querier
}

// NewCampaignRepository constructs the repository.
func NewCampaignRepository(db querier) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	questions, err := json.Marshal(campaign.Questions)
	if err != nil {
		return fmt.Errorf("campaigns: marshal questions: %w", err)
	}
	templates, err := json.Marshal(campaign.EmailTemplates)
	if err != nil {
		return fmt.Errorf("campaigns: marshal email templates: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO campaigns (
		id, name, status, language, timezone, intro_script, questions,
		max_attempts, retry_interval_minutes, call_window_start, call_window_end,
		email_templates, max_concurrent_calls, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		campaign.ID, campaign.Name, campaign.Status, campaign.Language, campaign.Timezone,
		campaign.IntroScript, questions, campaign.MaxAttempts,
		int(campaign.RetryInterval/time.Minute), int(campaign.CallWindow.Start), int(campaign.CallWindow.End),
		templates, campaign.MaxConcurrentCalls, campaign.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("campaigns: %w", repository.ErrConflict)
		}
		return fmt.Errorf("campaigns: insert: %w", err)
	}
	return nil
}

// Get loads a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	var rec campaignRecord
	err := r.db.GetContext(ctx, &rec, `SELECT id, name, status, language, timezone, intro_script,
		questions, max_attempts, retry_interval_minutes, call_window_start, call_window_end,
		email_templates, max_concurrent_calls, created_at, updated_at, started_at, completed_at
		FROM campaigns WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("campaigns: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("campaigns: get: %w", err)
	}
	return rec.toModel()
}

// UpdateStatus sets the campaign status. Transition legality is checked by
// the caller against the current row.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	now := time.Now().UTC()
	query := `UPDATE campaigns SET status = $1, updated_at = $2 WHERE id = $3`
	args := []any{status, now, id}
	switch status {
	case domain.CampaignStatusRunning:
		query = `UPDATE campaigns SET status = $1, updated_at = $2, started_at = COALESCE(started_at, $2) WHERE id = $3`
	case domain.CampaignStatusCompleted, domain.CampaignStatusCancelled:
		query = `UPDATE campaigns SET status = $1, updated_at = $2, completed_at = $2 WHERE id = $3`
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("campaigns: update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("campaigns: %w", repository.ErrNotFound)
	}
	return nil
}

// ListByStatus returns campaigns in the given status.
func (r *CampaignRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []campaignRecord
	err := r.db.SelectContext(ctx, &recs, `SELECT id, name, status, language, timezone, intro_script,
		questions, max_attempts, retry_interval_minutes, call_window_start, call_window_end,
		email_templates, max_concurrent_calls, created_at, updated_at, started_at, completed_at
		FROM campaigns WHERE status = $1 ORDER BY created_at ASC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("campaigns: list by status: %w", err)
	}

	result := make([]*domain.Campaign, 0, len(recs))
	for _, rec := range recs {
		model, err := rec.toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, model)
	}
	return result, nil
}

// ContactCountsByState aggregates contact states for campaign dashboards.
func (r *CampaignRepository) ContactCountsByState(ctx context.Context, id uuid.UUID) (map[domain.ContactState]int64, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT state, COUNT(*) FROM contacts WHERE campaign_id = $1 GROUP BY state`, id)
	if err != nil {
		return nil, fmt.Errorf("campaigns: contact counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ContactState]int64)
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("campaigns: scan counts: %w", err)
		}
		counts[domain.ContactState(state)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaigns: counts rows err: %w", err)
	}
	return counts, nil
}

type campaignRecord struct {
	ID                 uuid.UUID    `db:"id"`
	Name               string       `db:"name"`
	Status             string       `db:"status"`
	Language           string       `db:"language"`
	Timezone           string       `db:"timezone"`
	IntroScript        string       `db:"intro_script"`
	Questions          []byte       `db:"questions"`
	MaxAttempts        int          `db:"max_attempts"`
	RetryIntervalMins  int          `db:"retry_interval_minutes"`
	CallWindowStart    int          `db:"call_window_start"`
	CallWindowEnd      int          `db:"call_window_end"`
	EmailTemplates     []byte       `db:"email_templates"`
	MaxConcurrentCalls int          `db:"max_concurrent_calls"`
	CreatedAt          time.Time    `db:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at"`
	StartedAt          sql.NullTime `db:"started_at"`
	CompletedAt        sql.NullTime `db:"completed_at"`
}

func (rec campaignRecord) toModel() (*domain.Campaign, error) {
	var questions [domain.SurveyQuestionCount]domain.Question
	if err := json.Unmarshal(rec.Questions, &questions); err != nil {
		return nil, fmt.Errorf("campaigns: unmarshal questions: %w", err)
	}
	templates := make(map[domain.EventType]uuid.UUID)
	if len(rec.EmailTemplates) > 0 {
		if err := json.Unmarshal(rec.EmailTemplates, &templates); err != nil {
			return nil, fmt.Errorf("campaigns: unmarshal email templates: %w", err)
		}
	}

	campaign := &domain.Campaign{
		ID:                 rec.ID,
		Name:               rec.Name,
		Status:             domain.CampaignStatus(rec.Status),
		Language:           rec.Language,
		Timezone:           rec.Timezone,
		IntroScript:        rec.IntroScript,
		Questions:          questions,
		MaxAttempts:        rec.MaxAttempts,
		RetryInterval:      time.Duration(rec.RetryIntervalMins) * time.Minute,
		CallWindow:         domain.CallWindow{Start: domain.MinuteOfDay(rec.CallWindowStart), End: domain.MinuteOfDay(rec.CallWindowEnd)},
		EmailTemplates:     templates,
		MaxConcurrentCalls: rec.MaxConcurrentCalls,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
	if rec.StartedAt.Valid {
		t := rec.StartedAt.Time
		campaign.StartedAt = &t
	}
	if rec.CompletedAt.Valid {
		t := rec.CompletedAt.Time
		campaign.CompletedAt = &t
	}
	return campaign, nil
}
