package dialogue

import (
	"strconv"
	"strings"
)

// QAIntent is the control signal parsed from an answer-extraction reply.
type QAIntent string

const (
	IntentAnswer        QAIntent = "ANSWER"
	IntentRepeatRequest QAIntent = "REPEAT_REQUEST"
	IntentUnclear       QAIntent = "UNCLEAR"
)

const defaultConfidence = 0.5

// QAResult is the parsed extraction output for one question turn.
type QAResult struct {
	Intent     QAIntent
	Answer     string
	Confidence float64
	Reasoning  string
}

// ParseQAResponse parses the fixed INTENT/ANSWER/CONFIDENCE/REASONING format.
// Unknown intents become UNCLEAR, missing fields take defaults, and malformed
// input never produces an error.
func ParseQAResponse(raw string) QAResult {
	result := QAResult{
		Intent:     IntentUnclear,
		Confidence: defaultConfidence,
	}

	for _, line := range strings.Split(raw, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "INTENT":
			switch QAIntent(strings.ToUpper(value)) {
			case IntentAnswer:
				result.Intent = IntentAnswer
			case IntentRepeatRequest:
				result.Intent = IntentRepeatRequest
			default:
				result.Intent = IntentUnclear
			}
		case "ANSWER":
			if !strings.EqualFold(value, "NONE") {
				result.Answer = value
			}
		case "CONFIDENCE":
			result.Confidence = parseConfidence(value)
		case "REASONING":
			result.Reasoning = value
		}
	}

	// An ANSWER intent without extracted text carries no information.
	if result.Intent == IntentAnswer && result.Answer == "" {
		result.Intent = IntentUnclear
	}

	return result
}

// parseConfidence parses and clamps the confidence to [0,1]; unparseable
// values default to 0.5.
func parseConfidence(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return defaultConfidence
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
