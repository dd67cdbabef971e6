package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// QuestionType constrains how an answer is interpreted.
type QuestionType string

const (
	QuestionTypeFreeText QuestionType = "free_text"
	QuestionTypeNumeric  QuestionType = "numeric"
	QuestionTypeScale    QuestionType = "scale"
)

// SurveyQuestionCount is the fixed number of questions per campaign.
const SurveyQuestionCount = 3

// Question is one of the three survey questions.
type Question struct {
	Position int          `json:"position"`
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
}

// CallWindow is the allowed dialing window in the campaign's local time.
// Boundaries are inclusive-exclusive: [Start, End).
type CallWindow struct {
	Start MinuteOfDay `json:"start"`
	End   MinuteOfDay `json:"end"`
}

// MinuteOfDay counts minutes since local midnight.
type MinuteOfDay int

// ParseMinuteOfDay parses an "HH:MM" clock string.
func ParseMinuteOfDay(s string) (MinuteOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	return MinuteOfDay(h*60 + m), nil
}

// String renders the minute as "HH:MM".
func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// Contains reports whether t (interpreted in loc) falls inside the window.
func (w CallWindow) Contains(t time.Time, loc *time.Location) bool {
	local := t.In(loc)
	minute := MinuteOfDay(local.Hour()*60 + local.Minute())
	return minute >= w.Start && minute < w.End
}

// Campaign models a three-question outbound phone survey.
type Campaign struct {
	ID                   uuid.UUID
	Name                 string
	Status               CampaignStatus
	Language             string
	Timezone             string
	IntroScript          string
	Questions            [SurveyQuestionCount]Question
	MaxAttempts          int
	RetryInterval        time.Duration
	CallWindow           CallWindow
	EmailTemplates       map[EventType]uuid.UUID
	MaxConcurrentCalls   int
	CreatedAt            time.Time
	UpdatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
}

// campaignTransitions lists the legal status edges. A campaign is immutable
// once running except pause/cancel.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusScheduled, CampaignStatusCancelled},
	CampaignStatusScheduled: {CampaignStatusRunning, CampaignStatusCancelled},
	CampaignStatusRunning:   {CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusCancelled},
	CampaignStatusPaused:    {CampaignStatusRunning, CampaignStatusCancelled},
}

// CanTransition reports whether moving from the current status to next is legal.
func (c *Campaign) CanTransition(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[c.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Location resolves the campaign timezone, falling back to UTC.
func (c *Campaign) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks the campaign definition against configuration bounds.
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 5 {
		return fmt.Errorf("max_attempts %d out of range [1,5]", c.MaxAttempts)
	}
	if c.RetryInterval < time.Minute {
		return fmt.Errorf("retry_interval %s below one minute", c.RetryInterval)
	}
	if c.CallWindow.Start >= c.CallWindow.End {
		return fmt.Errorf("call window start %s not before end %s", c.CallWindow.Start, c.CallWindow.End)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	for i, q := range c.Questions {
		if q.Text == "" {
			return fmt.Errorf("question %d text is required", i+1)
		}
		switch q.Type {
		case QuestionTypeFreeText, QuestionTypeNumeric, QuestionTypeScale:
		default:
			return fmt.Errorf("question %d has unknown type %q", i+1, q.Type)
		}
	}
	return nil
}
