// Package dialogue drives the LLM-mediated survey conversation for a live
// call attempt. Each call owns one session keyed by call_id; sessions never
// share mutable state.
package dialogue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
)

// Phase is the dialogue state machine position.
type Phase string

const (
	PhaseConsent Phase = "consent"
	PhaseQ1      Phase = "q1"
	PhaseQ2      Phase = "q2"
	PhaseQ3      Phase = "q3"
	PhaseDone    Phase = "done"
	PhaseRefused Phase = "refused"
	PhaseFailed  Phase = "failed"
)

// Terminal reports whether the phase ends the conversation.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseRefused || p == PhaseFailed
}

// questionPhase returns the phase for question n (1-based).
func questionPhase(n int) Phase {
	switch n {
	case 1:
		return PhaseQ1
	case 2:
		return PhaseQ2
	default:
		return PhaseQ3
	}
}

// repromptCap bounds UNCLEAR/REPEAT turns per phase before the session fails.
const repromptCap = 2

// Session is the per-call conversation state. It is serialized to the session
// store between turns; the struct itself is never shared across goroutines.
type Session struct {
	CallID           uuid.UUID                                `json:"call_id"`
	CampaignID       uuid.UUID                                `json:"campaign_id"`
	ContactID        uuid.UUID                                `json:"contact_id"`
	Phase            Phase                                    `json:"phase"`
	CurrentQuestion  int                                      `json:"current_question"` // 0 during consent, 1..3 afterwards
	Language         string                                   `json:"language"`
	IntroScript      string                                   `json:"intro_script"`
	Questions        [domain.SurveyQuestionCount]domain.Question `json:"questions"`
	Answers          [domain.SurveyQuestionCount]string       `json:"collected_answers"`
	Confidences      [domain.SurveyQuestionCount]float64      `json:"confidences"`
	RepromptCount    int                                      `json:"reprompt_count"`
	TurnSeq          int                                      `json:"turn_seq"`
	LastUserUtterance string                                  `json:"last_user_utterance"`
	StartedAt        time.Time                                `json:"started_at"`
}

// Outcome maps a terminal phase to the call outcome the webhook resolution
// should apply. Only valid for terminal phases.
func (s *Session) Outcome() domain.CallOutcome {
	switch s.Phase {
	case PhaseDone:
		return domain.CallOutcomeCompleted
	case PhaseRefused:
		return domain.CallOutcomeRefused
	default:
		return domain.CallOutcomeFailed
	}
}

// MetadataKey is where the dialogue snapshot lives inside CallAttempt.metadata.
const MetadataKey = "dialogue"

// Snapshot is the subset of session state persisted with the call attempt on
// terminal transitions, consumed by the webhook terminal resolution.
type Snapshot struct {
	Phase       Phase                               `json:"phase"`
	Answers     [domain.SurveyQuestionCount]string  `json:"answers"`
	Confidences [domain.SurveyQuestionCount]float64 `json:"confidences"`
	Refused     bool                                `json:"refused"`
}

// snapshot captures the terminal state of the session.
func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Phase:       s.Phase,
		Answers:     s.Answers,
		Confidences: s.Confidences,
		Refused:     s.Phase == PhaseRefused,
	}
}

// AnswerCount counts non-empty collected answers.
func (sn Snapshot) AnswerCount() int {
	n := 0
	for _, a := range sn.Answers {
		if a != "" {
			n++
		}
	}
	return n
}

// SnapshotFromMetadata extracts the dialogue snapshot from attempt metadata.
// Returns ok=false when no snapshot was recorded.
func SnapshotFromMetadata(metadata map[string]any) (Snapshot, bool) {
	raw, ok := metadata[MetadataKey]
	if !ok || raw == nil {
		return Snapshot{}, false
	}

	// Metadata round-trips through a JSON column, so the snapshot arrives as
	// a generic map. Re-marshal to decode it into the typed form.
	buf, err := json.Marshal(raw)
	if err != nil {
		return Snapshot{}, false
	}
	var sn Snapshot
	if err := json.Unmarshal(buf, &sn); err != nil {
		return Snapshot{}, false
	}
	return sn, true
}

// metadataValue renders the snapshot as the generic map stored in the
// attempt's JSON metadata column.
func (sn Snapshot) metadataValue() (map[string]any, error) {
	buf, err := json.Marshal(sn)
	if err != nil {
		return nil, fmt.Errorf("dialogue: marshal snapshot: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, fmt.Errorf("dialogue: decode snapshot: %w", err)
	}
	return out, nil
}
