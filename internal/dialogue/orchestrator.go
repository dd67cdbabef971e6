package dialogue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/llm"
	"github.com/acme/outbound-survey/internal/repository"
	"github.com/acme/outbound-survey/pkg/logger"
)

// TurnResult is the orchestrator's reply to one caller utterance.
type TurnResult struct {
	Reply   string
	EndCall bool
	// Outcome is set when EndCall is true.
	Outcome domain.CallOutcome
}

// Orchestrator runs the per-call survey conversation. Sessions are keyed by
// call_id and processed one turn at a time; concurrency across calls is safe
// because no state is shared between sessions.
type Orchestrator struct {
	llm         llm.Client
	sessions    SessionStore
	transcripts repository.TranscriptStore
	attempts    repository.CallAttemptRepository
	detector    *ConsentDetector
	turnTimeout time.Duration
	log         *logger.Logger
}

// NewOrchestrator wires the orchestrator. turnTimeout bounds each LLM call.
func NewOrchestrator(
	client llm.Client,
	sessions SessionStore,
	transcripts repository.TranscriptStore,
	attempts repository.CallAttemptRepository,
	turnTimeout time.Duration,
	log *logger.Logger,
) *Orchestrator {
	if turnTimeout <= 0 {
		turnTimeout = 60 * time.Second
	}
	return &Orchestrator{
		llm:         client,
		sessions:    sessions,
		transcripts: transcripts,
		attempts:    attempts,
		detector:    NewConsentDetector(client),
		turnTimeout: turnTimeout,
		log:         log.Named("dialogue"),
	}
}

// Start opens a session for an answered call and returns the text the bridge
// should speak first: the campaign intro plus consent question.
func (o *Orchestrator) Start(ctx context.Context, campaign *domain.Campaign, contact *domain.Contact, callID uuid.UUID) (string, error) {
	language := campaign.Language
	if contact.PreferredLanguage != "" && contact.PreferredLanguage != domain.LanguageAuto {
		language = contact.PreferredLanguage
	}

	sess := &Session{
		CallID:      callID,
		CampaignID:  campaign.ID,
		ContactID:   contact.ID,
		Phase:       PhaseConsent,
		Language:    language,
		IntroScript: campaign.IntroScript,
		Questions:   campaign.Questions,
		StartedAt:   time.Now().UTC(),
	}

	greeting := consentScript(sess.IntroScript, sess.Language)
	o.appendTranscript(ctx, sess, "assistant", greeting)

	if err := o.sessions.Save(ctx, sess); err != nil {
		return "", err
	}
	return greeting, nil
}

// Handle processes one caller utterance and advances the session. Replayed
// turns after a terminal transition are answered idempotently.
func (o *Orchestrator) Handle(ctx context.Context, callID uuid.UUID, utterance string) (TurnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	sess, err := o.sessions.Load(ctx, callID)
	if err != nil {
		return TurnResult{}, err
	}

	if sess.Phase.Terminal() {
		// The snapshot write may have failed on the original terminal turn;
		// redo it so the webhook resolution always finds the answers.
		if err := o.writeSnapshot(ctx, sess); err != nil {
			return TurnResult{}, err
		}
		return TurnResult{EndCall: true, Outcome: sess.Outcome()}, nil
	}

	sess.LastUserUtterance = utterance
	o.appendTranscript(ctx, sess, "caller", utterance)

	var result TurnResult
	switch sess.Phase {
	case PhaseConsent:
		result, err = o.handleConsent(ctx, sess, utterance)
	default:
		result, err = o.handleQuestion(ctx, sess, utterance)
	}
	if err != nil {
		return TurnResult{}, err
	}

	if result.Reply != "" {
		o.appendTranscript(ctx, sess, "assistant", result.Reply)
	}
	if err := o.sessions.Save(ctx, sess); err != nil {
		return TurnResult{}, err
	}
	return result, nil
}

func (o *Orchestrator) handleConsent(ctx context.Context, sess *Session, utterance string) (TurnResult, error) {
	intent := o.detector.Classify(ctx, utterance, sess.Language)

	switch intent {
	case ConsentPositive:
		sess.Phase = PhaseQ1
		sess.CurrentQuestion = 1
		sess.RepromptCount = 0
		return TurnResult{Reply: o.deliverQuestion(ctx, sess, false)}, nil

	case ConsentNegative:
		if err := o.terminate(ctx, sess, PhaseRefused); err != nil {
			return TurnResult{}, err
		}
		return TurnResult{Reply: goodbyeText(sess.Language, false), EndCall: true, Outcome: domain.CallOutcomeRefused}, nil

	default:
		sess.RepromptCount++
		if sess.RepromptCount >= repromptCap {
			if err := o.terminate(ctx, sess, PhaseFailed); err != nil {
				return TurnResult{}, err
			}
			return TurnResult{Reply: goodbyeText(sess.Language, false), EndCall: true, Outcome: domain.CallOutcomeFailed}, nil
		}
		return TurnResult{Reply: consentScript(sess.IntroScript, sess.Language)}, nil
	}
}

func (o *Orchestrator) handleQuestion(ctx context.Context, sess *Session, utterance string) (TurnResult, error) {
	q := sess.Questions[sess.CurrentQuestion-1]

	result := o.extract(ctx, q, utterance, sess.Language)

	switch result.Intent {
	case IntentAnswer:
		sess.Answers[sess.CurrentQuestion-1] = result.Answer
		sess.Confidences[sess.CurrentQuestion-1] = result.Confidence

		if sess.CurrentQuestion < domain.SurveyQuestionCount {
			sess.CurrentQuestion++
			sess.Phase = questionPhase(sess.CurrentQuestion)
			sess.RepromptCount = 0
			return TurnResult{Reply: o.deliverQuestion(ctx, sess, false)}, nil
		}

		if err := o.terminate(ctx, sess, PhaseDone); err != nil {
			return TurnResult{}, err
		}
		return TurnResult{Reply: goodbyeText(sess.Language, true), EndCall: true, Outcome: domain.CallOutcomeCompleted}, nil

	case IntentRepeatRequest:
		sess.RepromptCount++
		if sess.RepromptCount > repromptCap {
			if err := o.terminate(ctx, sess, PhaseFailed); err != nil {
				return TurnResult{}, err
			}
			return TurnResult{Reply: goodbyeText(sess.Language, false), EndCall: true, Outcome: domain.CallOutcomeFailed}, nil
		}
		return TurnResult{Reply: o.deliverQuestion(ctx, sess, true)}, nil

	default:
		sess.RepromptCount++
		if sess.RepromptCount > repromptCap {
			if err := o.terminate(ctx, sess, PhaseFailed); err != nil {
				return TurnResult{}, err
			}
			return TurnResult{Reply: goodbyeText(sess.Language, false), EndCall: true, Outcome: domain.CallOutcomeFailed}, nil
		}
		return TurnResult{Reply: o.deliverQuestion(ctx, sess, false)}, nil
	}
}

// extract runs the answer-extraction completion. LLM failures degrade to an
// UNCLEAR result rather than surfacing into the turn loop.
func (o *Orchestrator) extract(ctx context.Context, q domain.Question, utterance, language string) QAResult {
	out, err := o.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: extractionPrompt(q, utterance, language)},
		},
	})
	if err != nil {
		o.log.Warn("answer extraction failed", zap.Error(err))
		return QAResult{Intent: IntentUnclear, Confidence: defaultConfidence}
	}
	return ParseQAResponse(out)
}

// deliverQuestion renders the current question as spoken text. On model
// failure the raw question text is spoken instead.
func (o *Orchestrator) deliverQuestion(ctx context.Context, sess *Session, isRepeat bool) string {
	q := sess.Questions[sess.CurrentQuestion-1]

	out, err := o.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: deliveryPrompt(q, sess.Language, isRepeat)},
		},
	})
	if err != nil || out == "" {
		if err != nil {
			o.log.Warn("question delivery failed, using raw text",
				zap.String("call_id", sess.CallID.String()), zap.Error(err))
		}
		return q.Text
	}
	return out
}

// terminate moves the session into a terminal phase and snapshots the
// collected answers into the attempt metadata, ahead of the provider's
// terminal webhook.
func (o *Orchestrator) terminate(ctx context.Context, sess *Session, phase Phase) error {
	sess.Phase = phase
	return o.writeSnapshot(ctx, sess)
}

func (o *Orchestrator) writeSnapshot(ctx context.Context, sess *Session) error {
	value, err := sess.snapshot().metadataValue()
	if err != nil {
		return err
	}
	if err := o.attempts.SetMetadata(ctx, sess.CallID, map[string]any{MetadataKey: value}); err != nil {
		return fmt.Errorf("dialogue: snapshot attempt %s: %w", sess.CallID, err)
	}
	return nil
}

func (o *Orchestrator) appendTranscript(ctx context.Context, sess *Session, role, text string) {
	sess.TurnSeq++
	err := o.transcripts.AppendTurn(ctx, repository.TranscriptTurn{
		CallID:    sess.CallID,
		Seq:       sess.TurnSeq,
		Role:      role,
		Text:      text,
		Phase:     string(sess.Phase),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		o.log.Warn("transcript append failed",
			zap.String("call_id", sess.CallID.String()), zap.Error(err))
	}
}

func goodbyeText(language string, completed bool) string {
	if language == domain.LanguageItalian {
		if completed {
			return "Grazie mille per il suo tempo. Arrivederci."
		}
		return "Grazie, le auguro una buona giornata. Arrivederci."
	}
	if completed {
		return "Thank you very much for your time. Goodbye."
	}
	return "Thank you, have a good day. Goodbye."
}
