package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
)

// ExclusionRepository manages the append-only do-not-call list.
type ExclusionRepository struct {
	db querier
}

// NewExclusionRepository constructs the repository.
func NewExclusionRepository(db querier) *ExclusionRepository {
	return &ExclusionRepository{db: db}
}

// Add appends an exclusion entry. The phone unique index makes writers race-safe.
func (r *ExclusionRepository) Add(ctx context.Context, entry *domain.ExclusionEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO exclusion_list_entries (phone, reason, source, created_at)
		VALUES ($1, $2, $3, $4)`, entry.Phone, entry.Reason, entry.Source, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("exclusion list: %w", repository.ErrConflict)
		}
		return fmt.Errorf("exclusion list: insert: %w", err)
	}
	return nil
}

// Contains reports whether the phone is excluded.
func (r *ExclusionRepository) Contains(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM exclusion_list_entries WHERE phone = $1)`, phone)
	if err != nil {
		return false, fmt.Errorf("exclusion list: contains: %w", err)
	}
	return exists, nil
}
