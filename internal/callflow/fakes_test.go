package callflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
)

// memStore is an in-memory repository.Tx and TxRunner for state machine tests.
type memStore struct {
	campaigns map[uuid.UUID]*domain.Campaign
	contacts  map[uuid.UUID]*domain.Contact
	attempts  map[uuid.UUID]*domain.CallAttempt // keyed by call id
	responses []*domain.SurveyResponse
	events    []*domain.Event
	eventKeys map[string]bool
	rollbacks []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: make(map[uuid.UUID]*domain.Campaign),
		contacts:  make(map[uuid.UUID]*domain.Contact),
		attempts:  make(map[uuid.UUID]*domain.CallAttempt),
		eventKeys: make(map[string]bool),
	}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(repository.Tx) error) error {
	return fn(m)
}

func (m *memStore) Campaigns() repository.CampaignRepository   { return &memCampaigns{m} }
func (m *memStore) Contacts() repository.ContactRepository     { return &memContacts{m} }
func (m *memStore) CallAttempts() repository.CallAttemptRepository {
	return &memAttempts{m}
}
func (m *memStore) Responses() repository.SurveyResponseRepository {
	return &memResponses{m}
}
func (m *memStore) Events() repository.EventRepository          { return &memEvents{m} }
func (m *memStore) Emails() repository.EmailNotificationRepository {
	return nil
}

type memCampaigns struct{ s *memStore }

func (r *memCampaigns) Create(ctx context.Context, c *domain.Campaign) error {
	r.s.campaigns[c.ID] = c
	return nil
}
func (r *memCampaigns) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}
func (r *memCampaigns) UpdateStatus(context.Context, uuid.UUID, domain.CampaignStatus) error {
	return nil
}
func (r *memCampaigns) ListByStatus(context.Context, domain.CampaignStatus, int) ([]*domain.Campaign, error) {
	return nil, nil
}
func (r *memCampaigns) ContactCountsByState(context.Context, uuid.UUID) (map[domain.ContactState]int64, error) {
	return nil, nil
}

type memContacts struct{ s *memStore }

func (r *memContacts) BulkInsert(ctx context.Context, contacts []*domain.Contact) error {
	for _, c := range contacts {
		r.s.contacts[c.ID] = c
	}
	return nil
}
func (r *memContacts) Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	c, ok := r.s.contacts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}
func (r *memContacts) SelectEligible(context.Context, time.Time, int) ([]*domain.Contact, error) {
	return nil, nil
}
func (r *memContacts) RegisterAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	c := r.s.contacts[id]
	c.AttemptsCount++
	c.LastAttemptAt = &at
	c.State = domain.ContactStateInProgress
	return nil
}
func (r *memContacts) RollbackAttempt(ctx context.Context, id uuid.UUID) error {
	c := r.s.contacts[id]
	c.AttemptsCount--
	c.State = domain.ContactStatePending
	r.s.rollbacks = append(r.s.rollbacks, id)
	return nil
}
func (r *memContacts) Resolve(ctx context.Context, id uuid.UUID, state domain.ContactState, outcome domain.CallOutcome) error {
	c, ok := r.s.contacts[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.State = state
	c.LastOutcome = &outcome
	return nil
}
func (r *memContacts) SetState(ctx context.Context, id uuid.UUID, state domain.ContactState) error {
	r.s.contacts[id].State = state
	return nil
}

type memAttempts struct{ s *memStore }

func (r *memAttempts) Create(ctx context.Context, a *domain.CallAttempt) error {
	r.s.attempts[a.CallID] = a
	return nil
}
func (r *memAttempts) GetByCallIDForUpdate(ctx context.Context, callID uuid.UUID) (*domain.CallAttempt, error) {
	return r.GetByCallID(ctx, callID)
}
func (r *memAttempts) GetByCallID(ctx context.Context, callID uuid.UUID) (*domain.CallAttempt, error) {
	a, ok := r.s.attempts[callID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}
func (r *memAttempts) CountActive(context.Context) (int, error) { return 0, nil }
func (r *memAttempts) HasNonTerminal(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}
func (r *memAttempts) AdvanceState(ctx context.Context, id uuid.UUID, state domain.CallState, providerCallID *string, answeredAt *time.Time) error {
	a := r.byID(id)
	a.State = state
	if providerCallID != nil {
		a.ProviderCallID = providerCallID
	}
	if answeredAt != nil {
		a.AnsweredAt = answeredAt
	}
	return nil
}
func (r *memAttempts) Close(ctx context.Context, id uuid.UUID, outcome domain.CallOutcome, endedAt time.Time, rawStatus string, errorCode *string) error {
	a := r.byID(id)
	if a.Terminal() {
		return repository.ErrConflict
	}
	a.Outcome = &outcome
	a.State = domain.CallStateEnded
	a.EndedAt = &endedAt
	a.RawStatus = &rawStatus
	a.ErrorCode = errorCode
	return nil
}
func (r *memAttempts) Delete(ctx context.Context, id uuid.UUID) error {
	for callID, a := range r.s.attempts {
		if a.ID == id {
			if a.Terminal() {
				return repository.ErrConflict
			}
			delete(r.s.attempts, callID)
			return nil
		}
	}
	return repository.ErrNotFound
}
func (r *memAttempts) SetMetadata(ctx context.Context, callID uuid.UUID, metadata map[string]any) error {
	r.s.attempts[callID].Metadata = metadata
	return nil
}
func (r *memAttempts) SetProviderCallID(ctx context.Context, id uuid.UUID, providerCallID string) error {
	r.byID(id).ProviderCallID = &providerCallID
	return nil
}
func (r *memAttempts) byID(id uuid.UUID) *domain.CallAttempt {
	for _, a := range r.s.attempts {
		if a.ID == id {
			return a
		}
	}
	panic("unknown attempt " + id.String())
}

type memResponses struct{ s *memStore }

func (r *memResponses) Insert(ctx context.Context, response *domain.SurveyResponse) error {
	r.s.responses = append(r.s.responses, response)
	return nil
}
func (r *memResponses) GetByCallAttempt(context.Context, uuid.UUID) (*domain.SurveyResponse, error) {
	return nil, repository.ErrNotFound
}

type memEvents struct{ s *memStore }

func (r *memEvents) Insert(ctx context.Context, event *domain.Event) (bool, error) {
	key := event.DeduplicationID()
	if r.s.eventKeys[key] {
		return false, nil
	}
	r.s.eventKeys[key] = true
	r.s.events = append(r.s.events, event)
	return true, nil
}
func (r *memEvents) Get(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	for _, e := range r.s.events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, repository.ErrNotFound
}
func (r *memEvents) ListUnpublished(context.Context, int) ([]*domain.Event, error) {
	return nil, nil
}
func (r *memEvents) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	e, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	e.PublishedAt = &at
	return nil
}
func (r *memEvents) RecordPublishFailure(ctx context.Context, id uuid.UUID, deadLettered bool) error {
	e, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	e.PublishAttempts++
	e.DeadLettered = deadLettered
	return nil
}

type recordingNotifier struct {
	notified []uuid.UUID
}

func (n *recordingNotifier) EventCommitted(eventID uuid.UUID) {
	n.notified = append(n.notified, eventID)
}

type recordingSlots struct {
	released []uuid.UUID
	err      error
}

func (s *recordingSlots) Release(ctx context.Context, campaignID uuid.UUID) error {
	if s.err != nil {
		return s.err
	}
	s.released = append(s.released, campaignID)
	return nil
}
