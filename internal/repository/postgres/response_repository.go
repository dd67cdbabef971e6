package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
)

// SurveyResponseRepository stores the captured answers of completed surveys.
type SurveyResponseRepository struct {
	db querier
}

// NewSurveyResponseRepository constructs the repository.
func NewSurveyResponseRepository(db querier) *SurveyResponseRepository {
	return &SurveyResponseRepository{db: db}
}

// Insert writes the response. The unique (contact, campaign, call attempt)
// triple makes replays a no-op.
func (r *SurveyResponseRepository) Insert(ctx context.Context, response *domain.SurveyResponse) error {
	answers, err := json.Marshal(response.Answers)
	if err != nil {
		return fmt.Errorf("survey responses: marshal answers: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO survey_responses (
		contact_id, campaign_id, call_attempt_id, answers, completed_at
	) VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (contact_id, campaign_id, call_attempt_id) DO NOTHING`,
		response.ContactID, response.CampaignID, response.CallAttemptID, answers, response.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("survey responses: insert: %w", err)
	}
	return nil
}

// GetByCallAttempt loads the response captured by the attempt.
func (r *SurveyResponseRepository) GetByCallAttempt(ctx context.Context, callAttemptID uuid.UUID) (*domain.SurveyResponse, error) {
	var rec surveyResponseRecord
	err := r.db.GetContext(ctx, &rec, `SELECT contact_id, campaign_id, call_attempt_id, answers, completed_at
		FROM survey_responses WHERE call_attempt_id = $1`, callAttemptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("survey responses: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("survey responses: get: %w", err)
	}
	return rec.toModel()
}

type surveyResponseRecord struct {
	ContactID     uuid.UUID `db:"contact_id"`
	CampaignID    uuid.UUID `db:"campaign_id"`
	CallAttemptID uuid.UUID `db:"call_attempt_id"`
	Answers       []byte    `db:"answers"`
	CompletedAt   time.Time `db:"completed_at"`
}

func (rec surveyResponseRecord) toModel() (*domain.SurveyResponse, error) {
	response := &domain.SurveyResponse{
		ContactID:     rec.ContactID,
		CampaignID:    rec.CampaignID,
		CallAttemptID: rec.CallAttemptID,
		CompletedAt:   rec.CompletedAt,
	}
	if err := json.Unmarshal(rec.Answers, &response.Answers); err != nil {
		return nil, fmt.Errorf("survey responses: unmarshal answers: %w", err)
	}
	return response, nil
}
