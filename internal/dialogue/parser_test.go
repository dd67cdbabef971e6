package dialogue

import "testing"

func TestParseQAResponseAnswer(t *testing.T) {
	raw := "INTENT: ANSWER\nANSWER: The delivery was quick\nCONFIDENCE: 0.9\nREASONING: direct statement"

	result := ParseQAResponse(raw)
	if result.Intent != IntentAnswer {
		t.Fatalf("expected ANSWER intent, got %s", result.Intent)
	}
	if result.Answer != "The delivery was quick" {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if result.Confidence != 0.9 {
		t.Fatalf("unexpected confidence %v", result.Confidence)
	}
}

func TestParseQAResponseUnknownIntent(t *testing.T) {
	result := ParseQAResponse("INTENT: SHRUG\nANSWER: something\nCONFIDENCE: 0.7")
	if result.Intent != IntentUnclear {
		t.Fatalf("unknown intent should degrade to UNCLEAR, got %s", result.Intent)
	}
}

func TestParseQAResponseAnswerNone(t *testing.T) {
	result := ParseQAResponse("INTENT: ANSWER\nANSWER: NONE\nCONFIDENCE: 0.8")
	if result.Intent != IntentUnclear {
		t.Fatalf("ANSWER with NONE text should become UNCLEAR, got %s", result.Intent)
	}
	if result.Answer != "" {
		t.Fatalf("NONE should not be kept as answer text, got %q", result.Answer)
	}
}

func TestParseQAResponseRepeatRequest(t *testing.T) {
	result := ParseQAResponse("intent: repeat_request\nanswer: NONE\nconfidence: 1")
	if result.Intent != IntentRepeatRequest {
		t.Fatalf("expected REPEAT_REQUEST, got %s", result.Intent)
	}
}

func TestParseQAResponseGarbage(t *testing.T) {
	result := ParseQAResponse("I'm sorry, I cannot help with that.")
	if result.Intent != IntentUnclear {
		t.Fatalf("garbage should parse as UNCLEAR, got %s", result.Intent)
	}
	if result.Confidence != defaultConfidence {
		t.Fatalf("garbage should keep default confidence, got %v", result.Confidence)
	}
}

func TestParseConfidenceClamping(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"2.5", 1.0},
		{"-3", 0.0},
		{"abc", 0.5},
		{"0.25", 0.25},
		{"1", 1.0},
		{"0", 0.0},
	}

	for _, tc := range cases {
		if got := parseConfidence(tc.in); got != tc.want {
			t.Errorf("parseConfidence(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
