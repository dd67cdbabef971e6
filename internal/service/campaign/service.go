// Package campaign implements campaign lifecycle operations: creation,
// validated status transitions and aggregated statistics.
package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

// Service orchestrates campaign lifecycle operations.
type Service struct {
	repo               repository.CampaignRepository
	defaultConcurrency int
}

// NewService constructs a campaign service.
func NewService(repo repository.CampaignRepository, defaultConcurrency int) *Service {
	return &Service{repo: repo, defaultConcurrency: defaultConcurrency}
}

// QuestionInput is one survey question definition.
type QuestionInput struct {
	Text string
	Type string
}

// CreateCampaignInput captures campaign creation parameters.
type CreateCampaignInput struct {
	Name                 string
	Language             string
	Timezone             string
	IntroScript          string
	Questions            [domain.SurveyQuestionCount]QuestionInput
	MaxAttempts          int
	RetryIntervalMinutes int
	CallWindowStart      string
	CallWindowEnd        string
	EmailTemplates       map[string]uuid.UUID
	MaxConcurrentCalls   int
}

// Create provisions a new campaign in draft status.
func (s *Service) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	windowStart, err := domain.ParseMinuteOfDay(input.CallWindowStart)
	if err != nil {
		return nil, fmt.Errorf("%w: call window start: %v", apperrors.ErrValidation, err)
	}
	windowEnd, err := domain.ParseMinuteOfDay(input.CallWindowEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: call window end: %v", apperrors.ErrValidation, err)
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:                 uuid.New(),
		Name:               input.Name,
		Status:             domain.CampaignStatusDraft,
		Language:           input.Language,
		Timezone:           input.Timezone,
		IntroScript:        input.IntroScript,
		MaxAttempts:        input.MaxAttempts,
		RetryInterval:      time.Duration(input.RetryIntervalMinutes) * time.Minute,
		CallWindow:         domain.CallWindow{Start: windowStart, End: windowEnd},
		MaxConcurrentCalls: s.resolveConcurrency(input.MaxConcurrentCalls),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for i, q := range input.Questions {
		campaign.Questions[i] = domain.Question{
			Position: i + 1,
			Text:     q.Text,
			Type:     domain.QuestionType(q.Type),
		}
	}
	if len(input.EmailTemplates) > 0 {
		campaign.EmailTemplates = make(map[domain.EventType]uuid.UUID, len(input.EmailTemplates))
		for eventType, templateID := range input.EmailTemplates {
			campaign.EmailTemplates[domain.EventType(eventType)] = templateID
		}
	}

	if err := campaign.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create: %w", err)
	}
	return campaign, nil
}

// Get retrieves a campaign by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// Transition moves the campaign to the requested status after validating the
// edge. Illegal transitions surface as conflicts.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, next domain.CampaignStatus) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if campaign.Status == next {
		return campaign, nil
	}
	if !campaign.CanTransition(next) {
		return nil, fmt.Errorf("%w: cannot transition campaign from %s to %s",
			apperrors.ErrConflict, campaign.Status, next)
	}

	if err := s.repo.UpdateStatus(ctx, id, next); err != nil {
		return nil, err
	}
	campaign.Status = next
	return campaign, nil
}

// Stats returns contact counts grouped by state.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (map[domain.ContactState]int64, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ContactCountsByState(ctx, id)
}

func (s *Service) resolveConcurrency(value int) int {
	if value <= 0 {
		return s.defaultConcurrency
	}
	return value
}
