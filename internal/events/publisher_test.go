package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	busmock "github.com/acme/outbound-survey/internal/bus/mock"
	"github.com/acme/outbound-survey/internal/config"
	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
	"github.com/acme/outbound-survey/pkg/logger"
)

type memEventRepo struct {
	rows map[uuid.UUID]*domain.Event
}

func newMemEventRepo(events ...*domain.Event) *memEventRepo {
	repo := &memEventRepo{rows: make(map[uuid.UUID]*domain.Event)}
	for _, e := range events {
		repo.rows[e.ID] = e
	}
	return repo
}

func (r *memEventRepo) Insert(ctx context.Context, event *domain.Event) (bool, error) {
	r.rows[event.ID] = event
	return true, nil
}

func (r *memEventRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	e, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return e, nil
}

func (r *memEventRepo) ListUnpublished(ctx context.Context, limit int) ([]*domain.Event, error) {
	var out []*domain.Event
	for _, e := range r.rows {
		if e.PublishedAt == nil && !e.DeadLettered {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memEventRepo) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.rows[id].PublishedAt = &at
	return nil
}

func (r *memEventRepo) RecordPublishFailure(ctx context.Context, id uuid.UUID, deadLettered bool) error {
	r.rows[id].PublishAttempts++
	r.rows[id].DeadLettered = deadLettered
	return nil
}

func testEvent() *domain.Event {
	attemptID := uuid.New()
	return &domain.Event{
		ID:            uuid.New(),
		Type:          domain.EventSurveyCompleted,
		CampaignID:    uuid.New(),
		ContactID:     uuid.New(),
		CallAttemptID: &attemptID,
		Payload: map[string]any{
			"attempts_count": 2,
			"outcome":        "completed",
			"locale":         "en",
			"email":          "ada@example.com",
			"answers": []map[string]any{
				{"text": "Nine", "confidence": 0.9},
				{"text": "Fast delivery", "confidence": 0.8},
				{"text": "Four", "confidence": 0.7},
			},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func newTestPublisher(repo repository.EventRepository, b *busmock.Bus) *Publisher {
	cfg := config.BusConfig{
		PublishBaseDelay:  time.Millisecond,
		PublishMaxDelay:   2 * time.Millisecond,
		PublishMaxRetries: 3,
	}
	return NewPublisher(repo, b, cfg, &logger.Logger{Logger: zap.NewNop()})
}

func TestPublishMarksRowAndBuildsFIFOMessage(t *testing.T) {
	event := testEvent()
	repo := newMemEventRepo(event)
	b := busmock.New()
	p := newTestPublisher(repo, b)

	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if event.PublishedAt == nil {
		t.Fatal("published_at should be stamped")
	}

	msgs := b.Published()
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	msg := msgs[0]

	if msg.GroupID != event.CampaignID.String() {
		t.Fatalf("group id should be the campaign id, got %q", msg.GroupID)
	}
	wantDedup := fmt.Sprintf("%s:%s:%s", event.Type, event.ContactID, event.CallAttemptID)
	if msg.DeduplicationID != wantDedup {
		t.Fatalf("dedup id = %q, want %q", msg.DeduplicationID, wantDedup)
	}
	if msg.Attributes["event_type"] != string(domain.EventSurveyCompleted) ||
		msg.Attributes["payload_version"] != domain.EventPayloadVersion {
		t.Fatalf("unexpected attributes %+v", msg.Attributes)
	}

	var env Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if env.EventID != event.ID.String() || env.Outcome != "completed" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if len(env.Answers) != 3 || env.Answers[0].Text != "Nine" {
		t.Fatalf("unexpected answers %+v", env.Answers)
	}
	if env.Email != "ada@example.com" || env.AttemptsCount != 2 {
		t.Fatalf("unexpected enrichment %+v", env)
	}
}

func TestPublishAlreadyPublishedIsNoop(t *testing.T) {
	event := testEvent()
	now := time.Now().UTC()
	event.PublishedAt = &now

	b := busmock.New()
	p := newTestPublisher(newMemEventRepo(event), b)

	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(b.Published()) != 0 {
		t.Fatal("already published rows must not be re-sent")
	}
}

func TestPublishDeadLettersAfterRetries(t *testing.T) {
	event := testEvent()
	repo := newMemEventRepo(event)
	b := busmock.New()
	b.FailPublish(errors.New("queue unavailable"))
	p := newTestPublisher(repo, b)

	err := p.Publish(context.Background(), event)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !event.DeadLettered {
		t.Fatal("event should be dead-lettered")
	}
	if event.PublishedAt != nil {
		t.Fatal("dead-lettered event must not be marked published")
	}
}

func TestRelayPublishesPendingRows(t *testing.T) {
	first := testEvent()
	second := testEvent()
	published := testEvent()
	now := time.Now().UTC()
	published.PublishedAt = &now

	repo := newMemEventRepo(first, second, published)
	b := busmock.New()
	p := newTestPublisher(repo, b)

	if err := p.Relay(context.Background()); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if len(b.Published()) != 2 {
		t.Fatalf("expected 2 relayed messages, got %d", len(b.Published()))
	}
	if first.PublishedAt == nil || second.PublishedAt == nil {
		t.Fatal("relayed rows should be marked published")
	}
}

func TestParseEnvelopeRejectsMissingFields(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"event_id":"x"}`)); err == nil {
		t.Fatal("expected error for missing required fields")
	}
	if _, err := ParseEnvelope([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed body")
	}
}
