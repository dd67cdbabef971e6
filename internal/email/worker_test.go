package email_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/outbound-survey/internal/bus"
	busmock "github.com/acme/outbound-survey/internal/bus/mock"
	"github.com/acme/outbound-survey/internal/config"
	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/email"
	emailmock "github.com/acme/outbound-survey/internal/email/mock"
	"github.com/acme/outbound-survey/internal/events"
	"github.com/acme/outbound-survey/internal/repository"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
	"github.com/acme/outbound-survey/pkg/logger"
)

type fakeCampaigns struct {
	rows map[uuid.UUID]*domain.Campaign
}

func (f *fakeCampaigns) Create(ctx context.Context, c *domain.Campaign) error {
	f.rows[c.ID] = c
	return nil
}

func (f *fakeCampaigns) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (f *fakeCampaigns) UpdateStatus(context.Context, uuid.UUID, domain.CampaignStatus) error {
	return nil
}

func (f *fakeCampaigns) ListByStatus(context.Context, domain.CampaignStatus, int) ([]*domain.Campaign, error) {
	return nil, nil
}

func (f *fakeCampaigns) ContactCountsByState(context.Context, uuid.UUID) (map[domain.ContactState]int64, error) {
	return nil, nil
}

type fakeTemplates struct {
	rows map[uuid.UUID]*domain.EmailTemplate
}

func (f *fakeTemplates) Get(ctx context.Context, id uuid.UUID) (*domain.EmailTemplate, error) {
	tpl, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return tpl, nil
}

// fakeEmails stores notifications keyed by event id, mirroring the unique
// constraint the real repository relies on for idempotency.
type fakeEmails struct {
	byEvent    map[uuid.UUID]*domain.EmailNotification
	sent       []uuid.UUID
	failed     []uuid.UUID
	retried    []uuid.UUID
	lastSentID string
}

func newFakeEmails() *fakeEmails {
	return &fakeEmails{byEvent: make(map[uuid.UUID]*domain.EmailNotification)}
}

func (f *fakeEmails) Create(ctx context.Context, n *domain.EmailNotification) (*domain.EmailNotification, bool, error) {
	if existing, ok := f.byEvent[n.EventID]; ok {
		return existing, false, nil
	}
	f.byEvent[n.EventID] = n
	return n, true, nil
}

func (f *fakeEmails) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error {
	f.sent = append(f.sent, id)
	f.lastSentID = providerMessageID
	f.find(id).Status = domain.EmailStatusSent
	return nil
}

func (f *fakeEmails) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	f.failed = append(f.failed, id)
	n := f.find(id)
	n.Status = domain.EmailStatusFailed
	n.ErrorMessage = &errorMessage
	return nil
}

func (f *fakeEmails) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	f.retried = append(f.retried, id)
	f.find(id).RetryCount++
	return nil
}

func (f *fakeEmails) find(id uuid.UUID) *domain.EmailNotification {
	for _, n := range f.byEvent {
		if n.ID == id {
			return n
		}
	}
	panic("unknown notification " + id.String())
}

type workerFixture struct {
	worker    *email.Worker
	bus       *busmock.Bus
	sender    *emailmock.Sender
	campaigns *fakeCampaigns
	templates *fakeTemplates
	emails    *fakeEmails

	campaign *domain.Campaign
	template *domain.EmailTemplate
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	template := &domain.EmailTemplate{
		ID:       uuid.New(),
		Name:     "survey-completed",
		Subject:  "Thanks for taking the {{ campaign_name }} survey",
		HTMLBody: "<p>Outcome: {{ outcome }}</p>",
		TextBody: "Outcome: {{ outcome }}",
	}
	campaign := &domain.Campaign{
		ID:   uuid.New(),
		Name: "Spring Feedback",
		EmailTemplates: map[domain.EventType]uuid.UUID{
			domain.EventSurveyCompleted: template.ID,
		},
	}

	f := &workerFixture{
		bus:       busmock.New(),
		sender:    emailmock.NewSender(),
		campaigns: &fakeCampaigns{rows: map[uuid.UUID]*domain.Campaign{campaign.ID: campaign}},
		templates: &fakeTemplates{rows: map[uuid.UUID]*domain.EmailTemplate{template.ID: template}},
		emails:    newFakeEmails(),
		campaign:  campaign,
		template:  template,
	}
	f.worker = email.NewWorker(
		f.bus,
		f.campaigns,
		f.templates,
		f.emails,
		f.sender,
		config.EmailConfig{MaxRetries: 3, PollInterval: time.Millisecond},
		&logger.Logger{Logger: zap.NewNop()},
	)
	return f
}

func (f *workerFixture) envelope() events.Envelope {
	return events.Envelope{
		EventID:        uuid.NewString(),
		EventType:      string(domain.EventSurveyCompleted),
		CampaignID:     f.campaign.ID.String(),
		ContactID:      uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		AttemptsCount:  1,
		Outcome:        "completed",
		Email:          "ada@example.com",
		Locale:         "en",
		PayloadVersion: domain.EventPayloadVersion,
	}
}

func message(t *testing.T, env events.Envelope) bus.Message {
	t.Helper()
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return bus.Message{Body: body}
}

func TestProcessSendsAndAcks(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	f.worker.Process(ctx, message(t, f.envelope()))

	sent := f.sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(sent))
	}
	if sent[0].To != "ada@example.com" {
		t.Fatalf("unexpected recipient %q", sent[0].To)
	}
	if sent[0].Subject != "Thanks for taking the Spring Feedback survey" {
		t.Fatalf("unexpected subject %q", sent[0].Subject)
	}
	if len(f.emails.sent) != 1 || f.emails.lastSentID != "mock-message-1" {
		t.Fatal("notification should be marked sent with the provider id")
	}
	if len(f.bus.Acked()) != 1 {
		t.Fatal("delivered message should be acknowledged")
	}
}

func TestProcessUnparseableBodyAcked(t *testing.T) {
	f := newWorkerFixture(t)

	f.worker.Process(context.Background(), bus.Message{Body: []byte("not json")})

	if len(f.sender.Sent()) != 0 {
		t.Fatal("garbage messages must not reach the sender")
	}
	if len(f.bus.Acked()) != 1 {
		t.Fatal("garbage messages should be dropped via ack")
	}
}

func TestProcessUnknownCampaignAcked(t *testing.T) {
	f := newWorkerFixture(t)
	env := f.envelope()
	env.CampaignID = uuid.NewString()

	f.worker.Process(context.Background(), message(t, env))

	if len(f.sender.Sent()) != 0 || len(f.bus.Acked()) != 1 {
		t.Fatal("events for deleted campaigns should be dropped via ack")
	}
}

func TestProcessNoTemplateConfiguredAcked(t *testing.T) {
	f := newWorkerFixture(t)
	env := f.envelope()
	env.EventType = string(domain.EventSurveyRefused)

	f.worker.Process(context.Background(), message(t, env))

	if len(f.sender.Sent()) != 0 || len(f.emails.byEvent) != 0 {
		t.Fatal("event types without a template must not create a notification")
	}
	if len(f.bus.Acked()) != 1 {
		t.Fatal("message should still be acknowledged")
	}
}

func TestProcessNoRecipientAcked(t *testing.T) {
	f := newWorkerFixture(t)
	env := f.envelope()
	env.Email = ""

	f.worker.Process(context.Background(), message(t, env))

	if len(f.sender.Sent()) != 0 || len(f.bus.Acked()) != 1 {
		t.Fatal("contacts without an email address get no delivery")
	}
}

func TestProcessMissingTemplateAcked(t *testing.T) {
	f := newWorkerFixture(t)
	f.campaign.EmailTemplates[domain.EventSurveyCompleted] = uuid.New()

	f.worker.Process(context.Background(), message(t, f.envelope()))

	if len(f.sender.Sent()) != 0 || len(f.bus.Acked()) != 1 {
		t.Fatal("a dangling template reference should drop the message")
	}
}

func TestProcessRenderErrorMarksFailed(t *testing.T) {
	f := newWorkerFixture(t)
	f.template.Subject = "{{ broken"

	f.worker.Process(context.Background(), message(t, f.envelope()))

	if len(f.emails.failed) != 1 {
		t.Fatal("render errors should fail the notification")
	}
	if len(f.sender.Sent()) != 0 || len(f.bus.Acked()) != 1 {
		t.Fatal("render errors are permanent and must ack")
	}
}

func TestProcessPermanentSendFailure(t *testing.T) {
	f := newWorkerFixture(t)
	f.sender.Fail(fmt.Errorf("address suppressed: %w", apperrors.ErrPermanent))

	f.worker.Process(context.Background(), message(t, f.envelope()))

	if len(f.emails.failed) != 1 || len(f.emails.retried) != 0 {
		t.Fatal("permanent provider errors fail immediately without a retry")
	}
	if len(f.bus.Acked()) != 1 {
		t.Fatal("permanent failures must ack")
	}
}

func TestProcessTransientFailureLeavesUnacked(t *testing.T) {
	f := newWorkerFixture(t)
	f.sender.Fail(errors.New("ses throttled"))

	f.worker.Process(context.Background(), message(t, f.envelope()))

	if len(f.emails.retried) != 1 {
		t.Fatal("transient failures should bump the retry counter")
	}
	if len(f.emails.failed) != 0 {
		t.Fatal("first transient failure must not mark the notification failed")
	}
	if len(f.bus.Acked()) != 0 {
		t.Fatal("message must stay un-acked so the bus redelivers it")
	}
}

func TestProcessTransientFailureAtRetryBudget(t *testing.T) {
	f := newWorkerFixture(t)
	f.sender.Fail(errors.New("ses throttled"))

	env := f.envelope()
	eventID := uuid.MustParse(env.EventID)
	f.emails.byEvent[eventID] = &domain.EmailNotification{
		ID:         uuid.New(),
		EventID:    eventID,
		CampaignID: f.campaign.ID,
		TemplateID: f.template.ID,
		ToEmail:    env.Email,
		Status:     domain.EmailStatusPending,
		RetryCount: 2,
	}

	f.worker.Process(context.Background(), message(t, env))

	if len(f.emails.failed) != 1 {
		t.Fatal("exhausting the retry budget should fail the notification")
	}
	if len(f.bus.Acked()) != 1 {
		t.Fatal("exhausted messages must ack to stop redelivery")
	}
}

func TestProcessAlreadySentIsIdempotent(t *testing.T) {
	f := newWorkerFixture(t)

	env := f.envelope()
	eventID := uuid.MustParse(env.EventID)
	f.emails.byEvent[eventID] = &domain.EmailNotification{
		ID:      uuid.New(),
		EventID: eventID,
		ToEmail: env.Email,
		Status:  domain.EmailStatusSent,
	}

	f.worker.Process(context.Background(), message(t, env))

	if len(f.sender.Sent()) != 0 {
		t.Fatal("redelivered messages for sent notifications must not resend")
	}
	if len(f.bus.Acked()) != 1 {
		t.Fatal("redelivery should be acknowledged")
	}
}
