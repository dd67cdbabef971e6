// Package scheduler turns eligible contacts into queued call attempts within
// the configured concurrency limit. Correctness across multiple processes
// relies on the database: leadership via advisory lock, candidate selection
// via FOR UPDATE SKIP LOCKED.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/outbound-survey/internal/config"
	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
	"github.com/acme/outbound-survey/internal/telephony"
	"github.com/acme/outbound-survey/pkg/logger"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

// FailureResolver runs the terminal failure branch for an attempt whose dial
// request was rejected by the telephony adapter.
type FailureResolver interface {
	ResolveAdapterFailure(ctx context.Context, callID uuid.UUID, errorCode string) error
}

// CampaignLimiter caps in-flight calls per campaign. Slots acquired here are
// released by the webhook ingestor when the attempt closes.
type CampaignLimiter interface {
	Acquire(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error)
	Release(ctx context.Context, campaignID uuid.UUID) error
}

// TickResult summarizes one scheduling pass for observability.
type TickResult struct {
	Scheduled         int
	Skipped           int
	CapacityExhausted bool
	FetchedCandidates int
	Available         int
}

// candidate pairs a locked contact with the attempt created for it.
type candidate struct {
	contact  *domain.Contact
	campaign *domain.Campaign
	attempt  *domain.CallAttempt
}

// Scheduler is the periodic dialing loop.
type Scheduler struct {
	lock     repository.LeaderLock
	store    repository.TxRunner
	attempts repository.CallAttemptRepository
	provider telephony.Provider
	resolver FailureResolver
	limiter  CampaignLimiter
	log      *logger.Logger

	tickInterval   time.Duration
	prefetchFactor int
	maxConcurrent  int
	fromNumber     string
	callbackURL    string
}

// New constructs the scheduler from configuration.
func New(
	lock repository.LeaderLock,
	store repository.TxRunner,
	attempts repository.CallAttemptRepository,
	provider telephony.Provider,
	resolver FailureResolver,
	limiter CampaignLimiter,
	cfg *config.Config,
	log *logger.Logger,
) *Scheduler {
	prefetch := cfg.Scheduler.PrefetchFactor
	if prefetch <= 0 {
		prefetch = 2
	}
	return &Scheduler{
		lock:           lock,
		store:          store,
		attempts:       attempts,
		provider:       provider,
		resolver:       resolver,
		limiter:        limiter,
		log:            log.Named("scheduler"),
		tickInterval:   cfg.Scheduler.TickInterval,
		prefetchFactor: prefetch,
		maxConcurrent:  cfg.Telephony.MaxConcurrentCalls,
		fromNumber:     cfg.Telephony.FromNumber,
		callbackURL:    cfg.Telephony.WebhookBaseURL,
	}
}

// Run executes the tick loop until the context is cancelled. A running tick
// completes before the loop exits.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		result, err := s.Tick(ctx)
		if err != nil && ctx.Err() == nil {
			s.log.Error("tick failed", zap.Error(err))
		} else if err == nil {
			s.log.Info("tick complete",
				zap.Int("scheduled", result.Scheduled),
				zap.Int("skipped", result.Skipped),
				zap.Int("fetched", result.FetchedCandidates),
				zap.Int("available", result.Available),
				zap.Bool("capacity_exhausted", result.CapacityExhausted))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one scheduling pass.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	tracer := otel.Tracer("survey.scheduler")
	ctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	release, acquired, err := s.lock.TryAcquire(ctx)
	if err != nil {
		span.RecordError(err)
		return TickResult{}, fmt.Errorf("scheduler: acquire leader lock: %w", err)
	}
	if !acquired {
		s.log.Debug("tick skipped, another scheduler holds leadership")
		return TickResult{}, nil
	}
	defer release()

	active, err := s.attempts.CountActive(ctx)
	if err != nil {
		span.RecordError(err)
		return TickResult{}, fmt.Errorf("scheduler: count active attempts: %w", err)
	}

	available := s.maxConcurrent - active
	if available <= 0 {
		span.SetAttributes(attribute.Bool("capacity_exhausted", true))
		return TickResult{CapacityExhausted: true, Available: 0}, nil
	}

	now := time.Now().UTC()
	result := TickResult{Available: available}
	var scheduled []candidate

	// Candidate rows stay locked until commit, so no concurrent tick can
	// double-dial a selected contact.
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		contacts, err := tx.Contacts().SelectEligible(ctx, now, available*s.prefetchFactor)
		if err != nil {
			return err
		}
		result.FetchedCandidates = len(contacts)

		campaigns := make(map[uuid.UUID]*domain.Campaign)
		for _, contact := range contacts {
			if result.Scheduled >= available {
				result.CapacityExhausted = true
				break
			}

			nonTerminal, err := tx.CallAttempts().HasNonTerminal(ctx, contact.ID)
			if err != nil {
				return err
			}
			if nonTerminal {
				result.Skipped++
				continue
			}

			campaign, ok := campaigns[contact.CampaignID]
			if !ok {
				campaign, err = tx.Campaigns().Get(ctx, contact.CampaignID)
				if err != nil {
					return err
				}
				campaigns[contact.CampaignID] = campaign
			}

			// Selection already filters on window and backoff in SQL; the
			// same predicates apply here per candidate so the boundary
			// semantics live in one tested place.
			if !campaign.CallWindow.Contains(now, campaign.Location()) {
				result.Skipped++
				continue
			}
			if contact.LastAttemptAt != nil && now.Sub(*contact.LastAttemptAt) < campaign.RetryInterval {
				result.Skipped++
				continue
			}

			slot, err := s.limiter.Acquire(ctx, campaign.ID, campaign.MaxConcurrentCalls)
			if err != nil {
				return err
			}
			if !slot {
				result.Skipped++
				continue
			}

			attempt := &domain.CallAttempt{
				ID:            uuid.New(),
				ContactID:     contact.ID,
				CampaignID:    contact.CampaignID,
				AttemptNumber: contact.AttemptsCount + 1,
				CallID:        uuid.New(),
				State:         domain.CallStateQueued,
				StartedAt:     now,
			}
			if err := tx.CallAttempts().Create(ctx, attempt); err != nil {
				return err
			}
			if err := tx.Contacts().RegisterAttempt(ctx, contact.ID, now); err != nil {
				return err
			}

			scheduled = append(scheduled, candidate{contact: contact, campaign: campaign, attempt: attempt})
			result.Scheduled++
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return TickResult{}, fmt.Errorf("scheduler: tick transaction: %w", err)
	}

	span.SetAttributes(
		attribute.Int("candidates.fetched", result.FetchedCandidates),
		attribute.Int("attempts.scheduled", result.Scheduled),
	)

	// Dial after commit so provider latency never extends row locks.
	for _, c := range scheduled {
		s.dial(ctx, c)
	}

	return result, nil
}

// dial hands one attempt to the telephony adapter. Adapter errors run the
// failure branch instead of propagating into the tick loop.
func (s *Scheduler) dial(ctx context.Context, c candidate) {
	req := telephony.NewCallRequest(c.campaign, c.contact, c.attempt.CallID, s.fromNumber, s.callbackURL)

	result, err := s.provider.PlaceCall(ctx, req)
	if err != nil {
		s.log.Error("place call failed",
			zap.String("call_id", c.attempt.CallID.String()),
			zap.String("contact_id", c.contact.ID.String()),
			zap.Error(err))
		s.failAttempt(ctx, c, err)
		return
	}

	if err := s.attempts.SetProviderCallID(ctx, c.attempt.ID, result.ProviderCallID); err != nil {
		s.log.Error("record provider call id failed",
			zap.String("call_id", c.attempt.CallID.String()), zap.Error(err))
	}
}

// failAttempt closes the attempt as failed and resolves the contact. When the
// request never left the process the attempt counter is rolled back too.
func (s *Scheduler) failAttempt(ctx context.Context, c candidate, dialErr error) {
	errorCode := "adapter_error"
	if apperrors.Is(dialErr, apperrors.ErrConfiguration) {
		errorCode = "configuration_error"
	}

	if err := s.resolver.ResolveAdapterFailure(ctx, c.attempt.CallID, errorCode); err != nil {
		s.log.Error("resolve adapter failure",
			zap.String("call_id", c.attempt.CallID.String()), zap.Error(err))
	}
}
