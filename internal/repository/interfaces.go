package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignRepository manages campaign persistence.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error)
	ContactCountsByState(ctx context.Context, id uuid.UUID) (map[domain.ContactState]int64, error)
}

// ContactRepository manages survey contacts.
type ContactRepository interface {
	BulkInsert(ctx context.Context, contacts []*domain.Contact) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error)
	// SelectEligible returns contacts satisfying the scheduler eligibility
	// predicate at now, including the timezone-aware call window, locking
	// the rows with FOR UPDATE SKIP LOCKED.
	SelectEligible(ctx context.Context, now time.Time, limit int) ([]*domain.Contact, error)
	// RegisterAttempt increments attempts_count, stamps last_attempt_at and
	// moves the contact to in_progress in one statement.
	RegisterAttempt(ctx context.Context, id uuid.UUID, at time.Time) error
	// RollbackAttempt undoes RegisterAttempt when the provider request never
	// left the process.
	RollbackAttempt(ctx context.Context, id uuid.UUID) error
	// Resolve sets the terminal (or pending-again) state and last outcome
	// after a call attempt closes.
	Resolve(ctx context.Context, id uuid.UUID, state domain.ContactState, outcome domain.CallOutcome) error
	SetState(ctx context.Context, id uuid.UUID, state domain.ContactState) error
}

// CallAttemptRepository manages call attempt rows.
type CallAttemptRepository interface {
	Create(ctx context.Context, attempt *domain.CallAttempt) error
	// GetByCallIDForUpdate loads the attempt by our call id and takes a row
	// lock, serializing webhook events for the same call.
	GetByCallIDForUpdate(ctx context.Context, callID uuid.UUID) (*domain.CallAttempt, error)
	GetByCallID(ctx context.Context, callID uuid.UUID) (*domain.CallAttempt, error)
	CountActive(ctx context.Context) (int, error)
	HasNonTerminal(ctx context.Context, contactID uuid.UUID) (bool, error)
	AdvanceState(ctx context.Context, id uuid.UUID, state domain.CallState, providerCallID *string, answeredAt *time.Time) error
	Close(ctx context.Context, id uuid.UUID, outcome domain.CallOutcome, endedAt time.Time, rawStatus string, errorCode *string) error
	// Delete removes an open attempt whose dial request never reached the
	// provider, keeping attempts_count equal to the number of attempt rows.
	Delete(ctx context.Context, id uuid.UUID) error
	SetMetadata(ctx context.Context, callID uuid.UUID, metadata map[string]any) error
	SetProviderCallID(ctx context.Context, id uuid.UUID, providerCallID string) error
}

// ExclusionRepository manages the do-not-call list.
type ExclusionRepository interface {
	Add(ctx context.Context, entry *domain.ExclusionEntry) error
	Contains(ctx context.Context, phone string) (bool, error)
}

// SurveyResponseRepository stores completed survey answers.
type SurveyResponseRepository interface {
	// Insert writes the response; a repeated insert for the same
	// (contact, campaign, call attempt) is a silent no-op.
	Insert(ctx context.Context, response *domain.SurveyResponse) error
	GetByCallAttempt(ctx context.Context, callAttemptID uuid.UUID) (*domain.SurveyResponse, error)
}

// EventRepository is the survey-event outbox.
type EventRepository interface {
	// Insert appends the event. Returns false without error when the unique
	// (type, contact, call attempt) constraint suppressed a duplicate.
	Insert(ctx context.Context, event *domain.Event) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	ListUnpublished(ctx context.Context, limit int) ([]*domain.Event, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordPublishFailure(ctx context.Context, id uuid.UUID, deadLettered bool) error
}

// EmailNotificationRepository tracks follow-up email delivery.
type EmailNotificationRepository interface {
	// Create inserts the notification; when a row for the event already
	// exists the stored row is returned with created=false.
	Create(ctx context.Context, n *domain.EmailNotification) (*domain.EmailNotification, bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	IncrementRetry(ctx context.Context, id uuid.UUID) error
}

// EmailTemplateRepository resolves notification templates.
type EmailTemplateRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.EmailTemplate, error)
}

// TranscriptTurn is one dialogue exchange persisted for auditing.
type TranscriptTurn struct {
	CallID    uuid.UUID
	Seq       int
	Role      string // "assistant" or "caller"
	Text      string
	Phase     string
	CreatedAt time.Time
}

// TranscriptStore appends dialogue turns to the wide-column store.
type TranscriptStore interface {
	AppendTurn(ctx context.Context, turn TranscriptTurn) error
	ListTurns(ctx context.Context, callID uuid.UUID, limit int) ([]TranscriptTurn, error)
}

// Tx exposes repositories bound to a single database transaction.
type Tx interface {
	Campaigns() CampaignRepository
	Contacts() ContactRepository
	CallAttempts() CallAttemptRepository
	Responses() SurveyResponseRepository
	Events() EventRepository
	Emails() EmailNotificationRepository
}

// TxRunner runs a function inside a transaction, committing on nil error.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

// LeaderLock guards single-leader sections with a process-wide advisory lock.
type LeaderLock interface {
	// TryAcquire returns a release func when the lock was obtained, or
	// acquired=false when another holder owns it.
	TryAcquire(ctx context.Context) (release func(), acquired bool, err error)
}
