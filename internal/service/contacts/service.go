// Package contacts implements contact import with exclusion screening.
package contacts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

// Service imports contacts and maintains the exclusion list.
type Service struct {
	contacts   repository.ContactRepository
	exclusions repository.ExclusionRepository
	campaigns  repository.CampaignRepository
}

// NewService constructs the service.
func NewService(
	contacts repository.ContactRepository,
	exclusions repository.ExclusionRepository,
	campaigns repository.CampaignRepository,
) *Service {
	return &Service{contacts: contacts, exclusions: exclusions, campaigns: campaigns}
}

// ContactInput is one imported contact row.
type ContactInput struct {
	Phone             string
	Email             string
	PreferredLanguage string
	HasPriorConsent   bool
	DoNotCall         bool
}

// ImportResult summarizes an import batch.
type ImportResult struct {
	Imported int
	Excluded int
}

// Import screens each contact against the do-not-call flag and the exclusion
// list, then bulk-inserts the batch. Screened contacts are stored in the
// excluded state so they are visible but never dialed; duplicate phones per
// campaign are dropped by the unique constraint.
func (s *Service) Import(ctx context.Context, campaignID uuid.UUID, inputs []ContactInput) (ImportResult, error) {
	if len(inputs) == 0 {
		return ImportResult{}, nil
	}

	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return ImportResult{}, err
	}

	now := time.Now().UTC()
	var result ImportResult
	batch := make([]*domain.Contact, 0, len(inputs))

	for _, in := range inputs {
		phone := strings.TrimSpace(in.Phone)
		if err := validatePhone(phone); err != nil {
			return ImportResult{}, err
		}

		contact := &domain.Contact{
			ID:                uuid.New(),
			CampaignID:        campaignID,
			Phone:             phone,
			PreferredLanguage: normalizeLanguage(in.PreferredLanguage),
			HasPriorConsent:   in.HasPriorConsent,
			DoNotCall:         in.DoNotCall,
			State:             domain.ContactStatePending,
			CreatedAt:         now,
		}
		if in.Email != "" {
			email := in.Email
			contact.Email = &email
		}

		excluded := in.DoNotCall
		if !excluded {
			listed, err := s.exclusions.Contains(ctx, phone)
			if err != nil {
				return ImportResult{}, err
			}
			excluded = listed
		}
		if excluded {
			contact.State = domain.ContactStateExcluded
			result.Excluded++
		} else {
			result.Imported++
		}

		batch = append(batch, contact)
	}

	if err := s.contacts.BulkInsert(ctx, batch); err != nil {
		return ImportResult{}, fmt.Errorf("contact service: import: %w", err)
	}
	return result, nil
}

// Exclude appends a phone to the exclusion list.
func (s *Service) Exclude(ctx context.Context, phone, reason string, source domain.ExclusionSource) error {
	phone = strings.TrimSpace(phone)
	if err := validatePhone(phone); err != nil {
		return err
	}

	return s.exclusions.Add(ctx, &domain.ExclusionEntry{
		Phone:     phone,
		Reason:    reason,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	})
}

// Get loads one contact.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	return s.contacts.Get(ctx, id)
}

// validatePhone enforces an E.164-like shape: leading plus, 8 to 15 digits.
func validatePhone(phone string) error {
	if len(phone) < 9 || len(phone) > 16 || phone[0] != '+' {
		return fmt.Errorf("%w: phone %q must be E.164-like", apperrors.ErrValidation, phone)
	}
	for _, r := range phone[1:] {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: phone %q must be E.164-like", apperrors.ErrValidation, phone)
		}
	}
	return nil
}

func normalizeLanguage(language string) string {
	switch language {
	case domain.LanguageEnglish, domain.LanguageItalian:
		return language
	default:
		return domain.LanguageAuto
	}
}
