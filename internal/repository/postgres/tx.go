package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-survey/internal/repository"
)

// querier is satisfied by both *sqlx.DB and *sqlx.Tx so repositories can run
// inside or outside a transaction.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

// Store bundles the relational repositories over a shared pool.
type Store struct {
	db *sqlx.DB
}

// NewStore constructs the store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Campaigns() repository.CampaignRepository { return NewCampaignRepository(s.db) }
func (s *Store) Contacts() repository.ContactRepository   { return NewContactRepository(s.db) }
func (s *Store) CallAttempts() repository.CallAttemptRepository {
	return NewCallAttemptRepository(s.db)
}
func (s *Store) Exclusions() repository.ExclusionRepository { return NewExclusionRepository(s.db) }
func (s *Store) Responses() repository.SurveyResponseRepository {
	return NewSurveyResponseRepository(s.db)
}
func (s *Store) Events() repository.EventRepository           { return NewEventRepository(s.db) }
func (s *Store) Emails() repository.EmailNotificationRepository {
	return NewEmailNotificationRepository(s.db)
}
func (s *Store) Templates() repository.EmailTemplateRepository {
	return NewEmailTemplateRepository(s.db)
}

// WithinTx runs fn inside a transaction, committing on nil error.
func (s *Store) WithinTx(ctx context.Context, fn func(repository.Tx) error) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(txBundle{tx: tx})
	})
}

// txBundle binds the repositories to one transaction.
type txBundle struct {
	tx *sqlx.Tx
}

func (b txBundle) Campaigns() repository.CampaignRepository { return NewCampaignRepository(b.tx) }
func (b txBundle) Contacts() repository.ContactRepository   { return NewContactRepository(b.tx) }
func (b txBundle) CallAttempts() repository.CallAttemptRepository {
	return NewCallAttemptRepository(b.tx)
}
func (b txBundle) Responses() repository.SurveyResponseRepository {
	return NewSurveyResponseRepository(b.tx)
}
func (b txBundle) Events() repository.EventRepository { return NewEventRepository(b.tx) }
func (b txBundle) Emails() repository.EmailNotificationRepository {
	return NewEmailNotificationRepository(b.tx)
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx rollback: %v (original err: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", err)
	}
	return nil
}
