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

// CallAttemptRepository persists call attempt rows.
type CallAttemptRepository struct {
	db querier
}

// NewCallAttemptRepository constructs the repository.
func NewCallAttemptRepository(db querier) *CallAttemptRepository {
	return &CallAttemptRepository{db: db}
}

// Create inserts a fresh attempt in queued state.
func (r *CallAttemptRepository) Create(ctx context.Context, attempt *domain.CallAttempt) error {
	metadata, err := json.Marshal(attempt.Metadata)
	if err != nil {
		return fmt.Errorf("call attempts: marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO call_attempts (
		id, contact_id, campaign_id, attempt_number, call_id, provider_call_id,
		state, outcome, error_code, raw_status, started_at, answered_at, ended_at, metadata
	) VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, NULL, $8, NULL, NULL, $9)`,
		attempt.ID, attempt.ContactID, attempt.CampaignID, attempt.AttemptNumber,
		attempt.CallID, attempt.ProviderCallID, attempt.State, attempt.StartedAt, metadata,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("call attempts: %w", repository.ErrConflict)
		}
		return fmt.Errorf("call attempts: insert: %w", err)
	}
	return nil
}

// GetByCallIDForUpdate loads and row-locks the attempt, serializing webhook
// processing for the same call.
func (r *CallAttemptRepository) GetByCallIDForUpdate(ctx context.Context, callID uuid.UUID) (*domain.CallAttempt, error) {
	return r.getByCallID(ctx, callID, true)
}

// GetByCallID loads the attempt without locking.
func (r *CallAttemptRepository) GetByCallID(ctx context.Context, callID uuid.UUID) (*domain.CallAttempt, error) {
	return r.getByCallID(ctx, callID, false)
}

func (r *CallAttemptRepository) getByCallID(ctx context.Context, callID uuid.UUID, forUpdate bool) (*domain.CallAttempt, error) {
	query := `SELECT id, contact_id, campaign_id, attempt_number, call_id, provider_call_id,
		state, outcome, error_code, raw_status, started_at, answered_at, ended_at, metadata
		FROM call_attempts WHERE call_id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var rec callAttemptRecord
	if err := r.db.GetContext(ctx, &rec, query, callID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("call attempts: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("call attempts: get by call id: %w", err)
	}
	return rec.toModel()
}

// CountActive counts attempts without a terminal outcome, the measure of
// in-flight concurrency.
func (r *CallAttemptRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM call_attempts WHERE outcome IS NULL`); err != nil {
		return 0, fmt.Errorf("call attempts: count active: %w", err)
	}
	return count, nil
}

// HasNonTerminal reports whether the contact has an open attempt.
func (r *CallAttemptRepository) HasNonTerminal(ctx context.Context, contactID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM call_attempts WHERE contact_id = $1 AND outcome IS NULL)`, contactID)
	if err != nil {
		return false, fmt.Errorf("call attempts: has non-terminal: %w", err)
	}
	return exists, nil
}

// AdvanceState records provider progress. The WHERE clause enforces the
// monotonic ordering, so stale out-of-order events change nothing.
func (r *CallAttemptRepository) AdvanceState(ctx context.Context, id uuid.UUID, state domain.CallState, providerCallID *string, answeredAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE call_attempts
		SET state = $2,
		    provider_call_id = COALESCE($3, provider_call_id),
		    answered_at = COALESCE($4, answered_at)
		WHERE id = $1 AND outcome IS NULL`,
		id, state, providerCallID, answeredAt)
	if err != nil {
		return fmt.Errorf("call attempts: advance state: %w", err)
	}
	return nil
}

// Close sets the terminal outcome. Once closed the row never changes again.
func (r *CallAttemptRepository) Close(ctx context.Context, id uuid.UUID, outcome domain.CallOutcome, endedAt time.Time, rawStatus string, errorCode *string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE call_attempts
		SET outcome = $2, state = 'ended', ended_at = $3, raw_status = $4, error_code = $5
		WHERE id = $1 AND outcome IS NULL`,
		id, outcome, endedAt, rawStatus, errorCode)
	if err != nil {
		return fmt.Errorf("call attempts: close: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("call attempts: already terminal: %w", repository.ErrConflict)
	}
	return nil
}

// Delete removes an open attempt. Closed attempts are audit rows and stay;
// only rows whose dial request never reached the provider may go.
func (r *CallAttemptRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM call_attempts WHERE id = $1 AND outcome IS NULL`, id)
	if err != nil {
		return fmt.Errorf("call attempts: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("call attempts: already terminal: %w", repository.ErrConflict)
	}
	return nil
}

// SetMetadata replaces the dialogue snapshot stored with the attempt.
func (r *CallAttemptRepository) SetMetadata(ctx context.Context, callID uuid.UUID, metadata map[string]any) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("call attempts: marshal metadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE call_attempts SET metadata = $2 WHERE call_id = $1`, callID, payload)
	if err != nil {
		return fmt.Errorf("call attempts: set metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("call attempts: %w", repository.ErrNotFound)
	}
	return nil
}

// SetProviderCallID stores the provider identifier returned at dial time.
func (r *CallAttemptRepository) SetProviderCallID(ctx context.Context, id uuid.UUID, providerCallID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE call_attempts SET provider_call_id = $2 WHERE id = $1`, id, providerCallID)
	if err != nil {
		return fmt.Errorf("call attempts: set provider call id: %w", err)
	}
	return nil
}

type callAttemptRecord struct {
	ID             uuid.UUID      `db:"id"`
	ContactID      uuid.UUID      `db:"contact_id"`
	CampaignID     uuid.UUID      `db:"campaign_id"`
	AttemptNumber  int            `db:"attempt_number"`
	CallID         uuid.UUID      `db:"call_id"`
	ProviderCallID sql.NullString `db:"provider_call_id"`
	State          string         `db:"state"`
	Outcome        sql.NullString `db:"outcome"`
	ErrorCode      sql.NullString `db:"error_code"`
	RawStatus      sql.NullString `db:"raw_status"`
	StartedAt      time.Time      `db:"started_at"`
	AnsweredAt     sql.NullTime   `db:"answered_at"`
	EndedAt        sql.NullTime   `db:"ended_at"`
	Metadata       []byte         `db:"metadata"`
}

func (rec callAttemptRecord) toModel() (*domain.CallAttempt, error) {
	attempt := &domain.CallAttempt{
		ID:            rec.ID,
		ContactID:     rec.ContactID,
		CampaignID:    rec.CampaignID,
		AttemptNumber: rec.AttemptNumber,
		CallID:        rec.CallID,
		State:         domain.CallState(rec.State),
		StartedAt:     rec.StartedAt,
	}
	if rec.ProviderCallID.Valid {
		v := rec.ProviderCallID.String
		attempt.ProviderCallID = &v
	}
	if rec.Outcome.Valid {
		o := domain.CallOutcome(rec.Outcome.String)
		attempt.Outcome = &o
	}
	if rec.ErrorCode.Valid {
		v := rec.ErrorCode.String
		attempt.ErrorCode = &v
	}
	if rec.RawStatus.Valid {
		v := rec.RawStatus.String
		attempt.RawStatus = &v
	}
	if rec.AnsweredAt.Valid {
		t := rec.AnsweredAt.Time
		attempt.AnsweredAt = &t
	}
	if rec.EndedAt.Valid {
		t := rec.EndedAt.Time
		attempt.EndedAt = &t
	}
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &attempt.Metadata); err != nil {
			return nil, fmt.Errorf("call attempts: unmarshal metadata: %w", err)
		}
	}
	return attempt, nil
}
