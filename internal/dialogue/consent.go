package dialogue

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/acme/outbound-survey/internal/llm"
	"github.com/acme/outbound-survey/internal/domain"
)

// ConsentIntent classifies the caller's reaction to the consent question.
type ConsentIntent string

const (
	ConsentPositive ConsentIntent = "POSITIVE"
	ConsentNegative ConsentIntent = "NEGATIVE"
	ConsentUnclear  ConsentIntent = "UNCLEAR"
)

// ConsentDetector classifies consent utterances with the LLM, falling back to
// keyword matching when the model output is missing or garbled.
type ConsentDetector struct {
	client llm.Client
}

func NewConsentDetector(client llm.Client) *ConsentDetector {
	return &ConsentDetector{client: client}
}

const consentSystemPrompt = `You classify whether a phone-survey participant agrees to take the survey.
Respond with ONLY a JSON object of the form {"intent":"POSITIVE"} where intent is one of POSITIVE, NEGATIVE, UNCLEAR.
POSITIVE means the person agrees to proceed. NEGATIVE means the person declines or asks to stop. UNCLEAR means anything else.`

type consentReply struct {
	Intent string `json:"intent"`
}

// Classify returns the consent intent for the utterance. Never returns an
// error; any failure degrades to the keyword fallback and then to UNCLEAR.
func (d *ConsentDetector) Classify(ctx context.Context, utterance, language string) ConsentIntent {
	trimmed := strings.TrimSpace(utterance)
	if trimmed == "" {
		return ConsentUnclear
	}

	out, err := d.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: consentSystemPrompt},
			{Role: llm.RoleUser, Content: "Language: " + language + "\nUtterance: " + trimmed},
		},
		MaxTokens: 32,
	})
	if err == nil {
		if intent, ok := parseConsentJSON(out); ok {
			return intent
		}
	}

	return keywordConsent(trimmed, language)
}

// parseConsentJSON extracts the intent from the model reply, tolerating
// surrounding prose around the JSON object.
func parseConsentJSON(out string) (ConsentIntent, bool) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return ConsentUnclear, false
	}

	var reply consentReply
	if err := json.Unmarshal([]byte(out[start:end+1]), &reply); err != nil {
		return ConsentUnclear, false
	}

	switch ConsentIntent(strings.ToUpper(strings.TrimSpace(reply.Intent))) {
	case ConsentPositive:
		return ConsentPositive, true
	case ConsentNegative:
		return ConsentNegative, true
	case ConsentUnclear:
		return ConsentUnclear, true
	}
	return ConsentUnclear, false
}

var consentKeywords = map[string]struct {
	positive []string
	negative []string
}{
	domain.LanguageEnglish: {
		positive: []string{"yes", "yeah", "yep", "sure", "ok", "okay", "of course", "go ahead", "fine"},
		negative: []string{"no", "nope", "not interested", "stop", "don't call", "do not call", "remove me", "busy"},
	},
	domain.LanguageItalian: {
		positive: []string{"sì", "si", "va bene", "certo", "ok", "d'accordo", "volentieri"},
		negative: []string{"no", "non sono interessato", "non mi interessa", "basta", "non chiamate"},
	},
}

// keywordConsent is the deterministic fallback. Single keywords match whole
// words only, so "no" never fires inside "know" or "I don't know"; multi-word
// phrases match as substrings. Negative keywords win over positive ones so
// "no thanks, I'm ok" reads as a decline.
func keywordConsent(utterance, language string) ConsentIntent {
	lower := strings.ToLower(utterance)
	words := wordSet(lower)

	kw, ok := consentKeywords[language]
	if !ok {
		kw = consentKeywords[domain.LanguageEnglish]
	}

	matches := func(keyword string) bool {
		if strings.Contains(keyword, " ") {
			return strings.Contains(lower, keyword)
		}
		return words[keyword]
	}

	for _, neg := range kw.negative {
		if matches(neg) {
			return ConsentNegative
		}
	}
	for _, pos := range kw.positive {
		if matches(pos) {
			return ConsentPositive
		}
	}
	return ConsentUnclear
}

// wordSet splits the lowered utterance into words, keeping inner apostrophes
// so contractions like "don't" and "d'accordo" stay intact.
func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	}) {
		if w = strings.Trim(w, "'"); w != "" {
			set[w] = true
		}
	}
	return set
}
