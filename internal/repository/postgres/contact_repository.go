package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
)

// ContactRepository persists survey contacts.
type ContactRepository struct {
	db querier
}

// NewContactRepository constructs the repository.
func NewContactRepository(db querier) *ContactRepository {
	return &ContactRepository{db: db}
}

// BulkInsert inserts imported contacts, skipping duplicates per campaign.
func (r *ContactRepository) BulkInsert(ctx context.Context, contacts []*domain.Contact) error {
	if len(contacts) == 0 {
		return nil
	}

	query := `INSERT INTO contacts (
		id, campaign_id, phone, email, preferred_language, has_prior_consent,
		do_not_call, state, attempts_count, created_at, updated_at
	) VALUES (:id, :campaign_id, :phone, :email, :preferred_language, :has_prior_consent,
		:do_not_call, :state, :attempts_count, :created_at, :updated_at)
	ON CONFLICT (campaign_id, phone) DO NOTHING`

	rows := make([]map[string]any, 0, len(contacts))
	for _, c := range contacts {
		rows = append(rows, map[string]any{
			"id":                 c.ID,
			"campaign_id":        c.CampaignID,
			"phone":              c.Phone,
			"email":              c.Email,
			"preferred_language": c.PreferredLanguage,
			"has_prior_consent":  c.HasPriorConsent,
			"do_not_call":        c.DoNotCall,
			"state":              c.State,
			"attempts_count":     c.AttemptsCount,
			"created_at":         c.CreatedAt,
			"updated_at":         c.CreatedAt,
		})
	}

	if _, err := r.db.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("contacts: bulk insert: %w", err)
	}
	return nil
}

// Get loads a contact by id.
func (r *ContactRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	var rec contactRecord
	err := r.db.GetContext(ctx, &rec, selectContactColumns+` FROM contacts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("contacts: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("contacts: get: %w", err)
	}
	return rec.toModel(), nil
}

// SelectEligible implements the scheduler eligibility predicate in a single
// locked query. The call-window comparison interprets now in the campaign
// timezone with inclusive-exclusive bounds.
func (r *ContactRepository) SelectEligible(ctx context.Context, now time.Time, limit int) ([]*domain.Contact, error) {
	if limit <= 0 {
		limit = 100
	}

	query := selectContactColumns + `
		FROM contacts c
		JOIN campaigns cp ON cp.id = c.campaign_id
		WHERE c.state = 'pending'
		  AND c.do_not_call = false
		  AND cp.status = 'running'
		  AND c.attempts_count < cp.max_attempts
		  AND (c.last_attempt_at IS NULL
		       OR c.last_attempt_at <= $1::timestamptz - make_interval(mins => cp.retry_interval_minutes))
		  AND (EXTRACT(HOUR FROM ($1::timestamptz AT TIME ZONE cp.timezone)) * 60
		       + EXTRACT(MINUTE FROM ($1::timestamptz AT TIME ZONE cp.timezone))) >= cp.call_window_start
		  AND (EXTRACT(HOUR FROM ($1::timestamptz AT TIME ZONE cp.timezone)) * 60
		       + EXTRACT(MINUTE FROM ($1::timestamptz AT TIME ZONE cp.timezone))) < cp.call_window_end
		  AND NOT EXISTS (SELECT 1 FROM exclusion_list_entries e WHERE e.phone = c.phone)
		ORDER BY c.attempts_count ASC, c.last_attempt_at ASC NULLS FIRST, c.id ASC
		LIMIT $2
		FOR UPDATE OF c SKIP LOCKED`

	var recs []contactRecord
	if err := r.db.SelectContext(ctx, &recs, query, now, limit); err != nil {
		return nil, fmt.Errorf("contacts: select eligible: %w", err)
	}

	result := make([]*domain.Contact, 0, len(recs))
	for _, rec := range recs {
		result = append(result, rec.toModel())
	}
	return result, nil
}

// RegisterAttempt bumps the attempt counter and moves the contact in progress.
func (r *ContactRepository) RegisterAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE contacts
		SET attempts_count = attempts_count + 1, last_attempt_at = $2, state = 'in_progress', updated_at = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("contacts: register attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("contacts: %w", repository.ErrNotFound)
	}
	return nil
}

// RollbackAttempt reverts RegisterAttempt when the dial request never left
// the process.
func (r *ContactRepository) RollbackAttempt(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE contacts
		SET attempts_count = GREATEST(attempts_count - 1, 0), state = 'pending', updated_at = $2
		WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("contacts: rollback attempt: %w", err)
	}
	return nil
}

// Resolve records the post-attempt state and outcome.
func (r *ContactRepository) Resolve(ctx context.Context, id uuid.UUID, state domain.ContactState, outcome domain.CallOutcome) error {
	res, err := r.db.ExecContext(ctx, `UPDATE contacts
		SET state = $2, last_outcome = $3, updated_at = $4
		WHERE id = $1`, id, state, outcome, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("contacts: resolve: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("contacts: %w", repository.ErrNotFound)
	}
	return nil
}

// SetState updates only the lifecycle state.
func (r *ContactRepository) SetState(ctx context.Context, id uuid.UUID, state domain.ContactState) error {
	res, err := r.db.ExecContext(ctx, `UPDATE contacts SET state = $2, updated_at = $3 WHERE id = $1`,
		id, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("contacts: set state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("contacts: %w", repository.ErrNotFound)
	}
	return nil
}

const selectContactColumns = `SELECT c.id, c.campaign_id, c.phone, c.email, c.preferred_language,
	c.has_prior_consent, c.do_not_call, c.state, c.attempts_count, c.last_attempt_at,
	c.last_outcome, c.created_at, c.updated_at`

type contactRecord struct {
	ID                uuid.UUID      `db:"id"`
	CampaignID        uuid.UUID      `db:"campaign_id"`
	Phone             string         `db:"phone"`
	Email             sql.NullString `db:"email"`
	PreferredLanguage string         `db:"preferred_language"`
	HasPriorConsent   bool           `db:"has_prior_consent"`
	DoNotCall         bool           `db:"do_not_call"`
	State             string         `db:"state"`
	AttemptsCount     int            `db:"attempts_count"`
	LastAttemptAt     sql.NullTime   `db:"last_attempt_at"`
	LastOutcome       sql.NullString `db:"last_outcome"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (rec contactRecord) toModel() *domain.Contact {
	contact := &domain.Contact{
		ID:                rec.ID,
		CampaignID:        rec.CampaignID,
		Phone:             rec.Phone,
		PreferredLanguage: rec.PreferredLanguage,
		HasPriorConsent:   rec.HasPriorConsent,
		DoNotCall:         rec.DoNotCall,
		State:             domain.ContactState(rec.State),
		AttemptsCount:     rec.AttemptsCount,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}
	if rec.Email.Valid {
		v := rec.Email.String
		contact.Email = &v
	}
	if rec.LastAttemptAt.Valid {
		t := rec.LastAttemptAt.Time
		contact.LastAttemptAt = &t
	}
	if rec.LastOutcome.Valid {
		o := domain.CallOutcome(rec.LastOutcome.String)
		contact.LastOutcome = &o
	}
	return contact
}
