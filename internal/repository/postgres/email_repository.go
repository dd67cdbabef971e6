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

// EmailNotificationRepository tracks follow-up email delivery per event.
type EmailNotificationRepository struct {
	db querier
}

// NewEmailNotificationRepository constructs the repository.
func NewEmailNotificationRepository(db querier) *EmailNotificationRepository {
	return &EmailNotificationRepository{db: db}
}

// Create inserts the notification keyed on event_id. When a row already
// exists the stored row is returned with created=false, so the worker can
// short-circuit on redelivered messages.
func (r *EmailNotificationRepository) Create(ctx context.Context, n *domain.EmailNotification) (*domain.EmailNotification, bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO email_notifications (
		id, event_id, contact_id, campaign_id, template_id, to_email, status, retry_count, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)
	ON CONFLICT (event_id) DO NOTHING`,
		n.ID, n.EventID, n.ContactID, n.CampaignID, n.TemplateID, n.ToEmail, n.Status, n.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("email notifications: insert: %w", err)
	}

	if affected, _ := res.RowsAffected(); affected > 0 {
		return n, true, nil
	}

	existing, err := r.getByEventID(ctx, n.EventID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// MarkSent records the provider acknowledgement.
func (r *EmailNotificationRepository) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE email_notifications
		SET status = 'sent', provider_message_id = $2, updated_at = $3
		WHERE id = $1`, id, providerMessageID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("email notifications: mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a terminal delivery failure.
func (r *EmailNotificationRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE email_notifications
		SET status = 'failed', error_message = $2, updated_at = $3
		WHERE id = $1`, id, errorMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("email notifications: mark failed: %w", err)
	}
	return nil
}

// IncrementRetry bumps the retry counter for a transient send failure.
func (r *EmailNotificationRepository) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE email_notifications
		SET retry_count = retry_count + 1, updated_at = $2
		WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("email notifications: increment retry: %w", err)
	}
	return nil
}

func (r *EmailNotificationRepository) getByEventID(ctx context.Context, eventID uuid.UUID) (*domain.EmailNotification, error) {
	var rec emailNotificationRecord
	err := r.db.GetContext(ctx, &rec, `SELECT id, event_id, contact_id, campaign_id, template_id,
		to_email, status, provider_message_id, error_message, retry_count, created_at, updated_at
		FROM email_notifications WHERE event_id = $1`, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("email notifications: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("email notifications: get by event: %w", err)
	}
	return rec.toModel(), nil
}

type emailNotificationRecord struct {
	ID                uuid.UUID      `db:"id"`
	EventID           uuid.UUID      `db:"event_id"`
	ContactID         uuid.UUID      `db:"contact_id"`
	CampaignID        uuid.UUID      `db:"campaign_id"`
	TemplateID        uuid.UUID      `db:"template_id"`
	ToEmail           string         `db:"to_email"`
	Status            string         `db:"status"`
	ProviderMessageID sql.NullString `db:"provider_message_id"`
	ErrorMessage      sql.NullString `db:"error_message"`
	RetryCount        int            `db:"retry_count"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (rec emailNotificationRecord) toModel() *domain.EmailNotification {
	n := &domain.EmailNotification{
		ID:         rec.ID,
		EventID:    rec.EventID,
		ContactID:  rec.ContactID,
		CampaignID: rec.CampaignID,
		TemplateID: rec.TemplateID,
		ToEmail:    rec.ToEmail,
		Status:     domain.EmailStatus(rec.Status),
		RetryCount: rec.RetryCount,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if rec.ProviderMessageID.Valid {
		v := rec.ProviderMessageID.String
		n.ProviderMessageID = &v
	}
	if rec.ErrorMessage.Valid {
		v := rec.ErrorMessage.String
		n.ErrorMessage = &v
	}
	return n
}

// EmailTemplateRepository resolves stored notification templates.
type EmailTemplateRepository struct {
	db querier
}

// NewEmailTemplateRepository constructs the repository.
func NewEmailTemplateRepository(db querier) *EmailTemplateRepository {
	return &EmailTemplateRepository{db: db}
}

// Get loads a template by id.
func (r *EmailTemplateRepository) Get(ctx context.Context, id uuid.UUID) (*domain.EmailTemplate, error) {
	var rec emailTemplateRecord
	err := r.db.GetContext(ctx, &rec, `SELECT id, name, subject, html_body, text_body, reply_to
		FROM email_templates WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("email templates: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("email templates: get: %w", err)
	}

	tmpl := &domain.EmailTemplate{
		ID:       rec.ID,
		Name:     rec.Name,
		Subject:  rec.Subject,
		HTMLBody: rec.HTMLBody,
		TextBody: rec.TextBody,
	}
	if rec.ReplyTo.Valid {
		v := rec.ReplyTo.String
		tmpl.ReplyTo = &v
	}
	return tmpl, nil
}

type emailTemplateRecord struct {
	ID       uuid.UUID      `db:"id"`
	Name     string         `db:"name"`
	Subject  string         `db:"subject"`
	HTMLBody string         `db:"html_body"`
	TextBody string         `db:"text_body"`
	ReplyTo  sql.NullString `db:"reply_to"`
}
