package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

type fakeRepo struct {
	rows    map[uuid.UUID]*domain.Campaign
	updated []domain.CampaignStatus
}

func newFakeRepo(campaigns ...*domain.Campaign) *fakeRepo {
	r := &fakeRepo{rows: make(map[uuid.UUID]*domain.Campaign)}
	for _, c := range campaigns {
		r.rows[c.ID] = c
	}
	return r
}

func (r *fakeRepo) Create(ctx context.Context, c *domain.Campaign) error {
	r.rows[c.ID] = c
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	r.rows[id].Status = status
	r.updated = append(r.updated, status)
	return nil
}

func (r *fakeRepo) ListByStatus(context.Context, domain.CampaignStatus, int) ([]*domain.Campaign, error) {
	return nil, nil
}

func (r *fakeRepo) ContactCountsByState(context.Context, uuid.UUID) (map[domain.ContactState]int64, error) {
	return map[domain.ContactState]int64{
		domain.ContactStatePending:   7,
		domain.ContactStateCompleted: 3,
	}, nil
}

func validInput() CreateCampaignInput {
	return CreateCampaignInput{
		Name:        "Spring Feedback",
		Language:    domain.LanguageEnglish,
		Timezone:    "Europe/Rome",
		IntroScript: "Hi, quick survey about your order.",
		Questions: [domain.SurveyQuestionCount]QuestionInput{
			{Text: "How satisfied are you?", Type: string(domain.QuestionTypeScale)},
			{Text: "What did you like most?", Type: string(domain.QuestionTypeFreeText)},
			{Text: "How many orders this year?", Type: string(domain.QuestionTypeNumeric)},
		},
		MaxAttempts:          3,
		RetryIntervalMinutes: 60,
		CallWindowStart:      "09:00",
		CallWindowEnd:        "20:00",
	}
}

func TestCreateCampaign(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, 5)

	campaign, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if campaign.Status != domain.CampaignStatusDraft {
		t.Fatalf("new campaigns start in draft, got %s", campaign.Status)
	}
	if campaign.CallWindow.Start != 9*60 || campaign.CallWindow.End != 20*60 {
		t.Fatalf("unexpected call window %+v", campaign.CallWindow)
	}
	if campaign.RetryInterval != time.Hour {
		t.Fatalf("unexpected retry interval %s", campaign.RetryInterval)
	}
	if campaign.MaxConcurrentCalls != 5 {
		t.Fatal("zero max_concurrent_calls should take the configured default")
	}
	if campaign.Questions[2].Position != 3 {
		t.Fatalf("positions should be assigned in order, got %+v", campaign.Questions)
	}
	if _, ok := repo.rows[campaign.ID]; !ok {
		t.Fatal("campaign should be persisted")
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	mutations := map[string]func(*CreateCampaignInput){
		"missing name":         func(in *CreateCampaignInput) { in.Name = "" },
		"attempts too high":    func(in *CreateCampaignInput) { in.MaxAttempts = 6 },
		"retry below minimum":  func(in *CreateCampaignInput) { in.RetryIntervalMinutes = 0 },
		"inverted call window": func(in *CreateCampaignInput) { in.CallWindowStart = "21:00" },
		"bad clock value":      func(in *CreateCampaignInput) { in.CallWindowEnd = "25:99" },
		"bad timezone":         func(in *CreateCampaignInput) { in.Timezone = "Mars/Olympus" },
		"empty question":       func(in *CreateCampaignInput) { in.Questions[1].Text = "" },
		"unknown question type": func(in *CreateCampaignInput) {
			in.Questions[0].Type = "multiple_choice"
		},
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			svc := NewService(newFakeRepo(), 5)
			in := validInput()
			mutate(&in)

			if _, err := svc.Create(context.Background(), in); !apperrors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestTransitionLegalEdge(t *testing.T) {
	campaign := &domain.Campaign{ID: uuid.New(), Status: domain.CampaignStatusDraft}
	repo := newFakeRepo(campaign)
	svc := NewService(repo, 5)

	got, err := svc.Transition(context.Background(), campaign.ID, domain.CampaignStatusScheduled)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != domain.CampaignStatusScheduled {
		t.Fatalf("unexpected status %s", got.Status)
	}
	if len(repo.updated) != 1 {
		t.Fatal("status change should be persisted")
	}
}

func TestTransitionSameStatusIsNoop(t *testing.T) {
	campaign := &domain.Campaign{ID: uuid.New(), Status: domain.CampaignStatusRunning}
	repo := newFakeRepo(campaign)
	svc := NewService(repo, 5)

	if _, err := svc.Transition(context.Background(), campaign.ID, domain.CampaignStatusRunning); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(repo.updated) != 0 {
		t.Fatal("same-status transition must not write")
	}
}

func TestTransitionIllegalEdge(t *testing.T) {
	cases := []struct {
		from domain.CampaignStatus
		to   domain.CampaignStatus
	}{
		{domain.CampaignStatusDraft, domain.CampaignStatusRunning},
		{domain.CampaignStatusCompleted, domain.CampaignStatusRunning},
		{domain.CampaignStatusCancelled, domain.CampaignStatusScheduled},
		{domain.CampaignStatusPaused, domain.CampaignStatusCompleted},
	}

	for _, tc := range cases {
		campaign := &domain.Campaign{ID: uuid.New(), Status: tc.from}
		svc := NewService(newFakeRepo(campaign), 5)

		_, err := svc.Transition(context.Background(), campaign.ID, tc.to)
		if !apperrors.Is(err, apperrors.ErrConflict) {
			t.Fatalf("%s -> %s: expected conflict, got %v", tc.from, tc.to, err)
		}
	}
}

func TestStats(t *testing.T) {
	campaign := &domain.Campaign{ID: uuid.New(), Status: domain.CampaignStatusRunning}
	svc := NewService(newFakeRepo(campaign), 5)

	counts, err := svc.Stats(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if counts[domain.ContactStatePending] != 7 || counts[domain.ContactStateCompleted] != 3 {
		t.Fatalf("unexpected counts %+v", counts)
	}

	if _, err := svc.Stats(context.Background(), uuid.New()); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for unknown campaign, got %v", err)
	}
}
