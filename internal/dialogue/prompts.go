package dialogue

import (
	"fmt"
	"strings"

	"github.com/acme/outbound-survey/internal/domain"
)

// consentScript assembles the spoken intro plus consent question. The intro
// comes verbatim from the campaign; only the trailing consent question is
// synthesized per language.
func consentScript(introScript, language string) string {
	question := "May I ask you three short questions? It will only take a minute."
	if language == domain.LanguageItalian {
		question = "Posso farle tre brevi domande? Richiede solo un minuto."
	}
	intro := strings.TrimSpace(introScript)
	if intro == "" {
		return question
	}
	return intro + " " + question
}

// deliveryPrompt asks the model for the spoken rendering of a question. The
// reply must be only the text to speak; when isRepeat is set the prompt
// requires the model to acknowledge the repetition.
func deliveryPrompt(q domain.Question, language string, isRepeat bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are conducting a phone survey in language %q.\n", language)
	fmt.Fprintf(&b, "Render the following survey question as natural spoken text in that language.\n")
	fmt.Fprintf(&b, "Question %d (%s): %s\n", q.Position, q.Type, q.Text)
	switch q.Type {
	case domain.QuestionTypeNumeric:
		b.WriteString("The answer should be a number; phrase the question so a number is the natural reply.\n")
	case domain.QuestionTypeScale:
		b.WriteString("The answer is on a scale; state the scale bounds explicitly.\n")
	}
	if isRepeat {
		b.WriteString("The participant asked to repeat: start by saying you will repeat the question.\n")
	}
	b.WriteString("Return ONLY the spoken text, nothing else.")
	return b.String()
}

// extractionPrompt asks the model to interpret an utterance as an answer to
// the current question, in the fixed control-signal format the parser expects.
func extractionPrompt(q domain.Question, utterance, language string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are extracting a survey answer. Language: %q.\n", language)
	fmt.Fprintf(&b, "Question %d (type %s): %s\n", q.Position, q.Type, q.Text)
	fmt.Fprintf(&b, "Participant said: %q\n\n", utterance)
	b.WriteString("Respond in EXACTLY this format, one field per line:\n")
	b.WriteString("INTENT: ANSWER | REPEAT_REQUEST | UNCLEAR\n")
	b.WriteString("ANSWER: <the extracted answer, or NONE if the utterance does not answer the question>\n")
	b.WriteString("CONFIDENCE: <number between 0 and 1>\n")
	b.WriteString("REASONING: <one short sentence>\n\n")
	b.WriteString("Use REPEAT_REQUEST when the participant asks to hear the question again.\n")
	switch q.Type {
	case domain.QuestionTypeNumeric:
		b.WriteString("The answer must be a number; extract the number only.\n")
	case domain.QuestionTypeScale:
		b.WriteString("The answer must be a point on the stated scale; extract that value only.\n")
	default:
		b.WriteString("Extract the answer as a short phrase in the participant's own words.\n")
	}
	return b.String()
}
