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

// EventRepository is the outbox for survey events.
type EventRepository struct {
	db querier
}

// NewEventRepository constructs the repository.
func NewEventRepository(db querier) *EventRepository {
	return &EventRepository{db: db}
}

// Insert appends the event. The unique (event_type, contact_id,
// call_attempt_id) constraint enforces exactly-once emission; a suppressed
// duplicate returns inserted=false.
func (r *EventRepository) Insert(ctx context.Context, event *domain.Event) (bool, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return false, fmt.Errorf("events: marshal payload: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `INSERT INTO events (
		id, event_type, campaign_id, contact_id, call_attempt_id, payload, created_at, publish_attempts
	) VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
	ON CONFLICT (event_type, contact_id, call_attempt_id) DO NOTHING`,
		event.ID, event.Type, event.CampaignID, event.ContactID, event.CallAttemptID,
		payload, event.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("events: insert: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Get loads an event by id.
func (r *EventRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	var rec eventRecord
	err := r.db.GetContext(ctx, &rec, selectEventColumns+` FROM events WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("events: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("events: get: %w", err)
	}
	return rec.toModel()
}

// ListUnpublished returns events still awaiting a successful bus publish,
// oldest first so per-campaign ordering is preserved by the relay.
func (r *EventRepository) ListUnpublished(ctx context.Context, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []eventRecord
	err := r.db.SelectContext(ctx, &recs, selectEventColumns+`
		FROM events
		WHERE published_at IS NULL AND dead_lettered = false
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("events: list unpublished: %w", err)
	}

	result := make([]*domain.Event, 0, len(recs))
	for _, rec := range recs {
		model, err := rec.toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, model)
	}
	return result, nil
}

// MarkPublished stamps the publish time.
func (r *EventRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE events SET published_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("events: mark published: %w", err)
	}
	return nil
}

// RecordPublishFailure bumps the attempt counter and optionally dead-letters
// the row for the reconciliation job.
func (r *EventRepository) RecordPublishFailure(ctx context.Context, id uuid.UUID, deadLettered bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE events
		SET publish_attempts = publish_attempts + 1, dead_lettered = $2
		WHERE id = $1`, id, deadLettered)
	if err != nil {
		return fmt.Errorf("events: record publish failure: %w", err)
	}
	return nil
}

const selectEventColumns = `SELECT id, event_type, campaign_id, contact_id, call_attempt_id,
	payload, created_at, published_at, publish_attempts, dead_lettered`

type eventRecord struct {
	ID              uuid.UUID      `db:"id"`
	Type            string         `db:"event_type"`
	CampaignID      uuid.UUID      `db:"campaign_id"`
	ContactID       uuid.UUID      `db:"contact_id"`
	CallAttemptID   *uuid.UUID     `db:"call_attempt_id"`
	Payload         []byte         `db:"payload"`
	CreatedAt       time.Time      `db:"created_at"`
	PublishedAt     sql.NullTime   `db:"published_at"`
	PublishAttempts int            `db:"publish_attempts"`
	DeadLettered    bool           `db:"dead_lettered"`
}

func (rec eventRecord) toModel() (*domain.Event, error) {
	event := &domain.Event{
		ID:              rec.ID,
		Type:            domain.EventType(rec.Type),
		CampaignID:      rec.CampaignID,
		ContactID:       rec.ContactID,
		CallAttemptID:   rec.CallAttemptID,
		CreatedAt:       rec.CreatedAt,
		PublishAttempts: rec.PublishAttempts,
		DeadLettered:    rec.DeadLettered,
	}
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("events: unmarshal payload: %w", err)
		}
	}
	if rec.PublishedAt.Valid {
		t := rec.PublishedAt.Time
		event.PublishedAt = &t
	}
	return event, nil
}
