package dialogue

import (
	"context"
	"errors"
	"testing"

	"github.com/acme/outbound-survey/internal/domain"
	llmmock "github.com/acme/outbound-survey/internal/llm/mock"
)

func TestClassifyUsesModelJSON(t *testing.T) {
	detector := NewConsentDetector(llmmock.NewClient(`{"intent":"NEGATIVE"}`))

	// "sure" would read positive through the keyword fallback; the model
	// verdict must win.
	got := detector.Classify(context.Background(), "sure, whatever you say, goodbye", domain.LanguageEnglish)
	if got != ConsentNegative {
		t.Fatalf("expected NEGATIVE from model output, got %s", got)
	}
}

func TestClassifyToleratesSurroundingProse(t *testing.T) {
	detector := NewConsentDetector(llmmock.NewClient(`The classification is {"intent":"positive"} based on the utterance.`))

	got := detector.Classify(context.Background(), "hmm", domain.LanguageEnglish)
	if got != ConsentPositive {
		t.Fatalf("expected POSITIVE, got %s", got)
	}
}

func TestClassifyFallsBackOnModelError(t *testing.T) {
	client := llmmock.NewClient()
	client.Fail(errors.New("model unavailable"))
	detector := NewConsentDetector(client)

	if got := detector.Classify(context.Background(), "yes, go ahead", domain.LanguageEnglish); got != ConsentPositive {
		t.Fatalf("expected keyword fallback POSITIVE, got %s", got)
	}
	if got := detector.Classify(context.Background(), "non sono interessato", domain.LanguageItalian); got != ConsentNegative {
		t.Fatalf("expected keyword fallback NEGATIVE, got %s", got)
	}
}

func TestClassifyEmptyUtterance(t *testing.T) {
	detector := NewConsentDetector(llmmock.NewClient(`{"intent":"POSITIVE"}`))

	if got := detector.Classify(context.Background(), "   ", domain.LanguageEnglish); got != ConsentUnclear {
		t.Fatalf("empty utterance must be UNCLEAR, got %s", got)
	}
}

func TestKeywordConsentNegativeWins(t *testing.T) {
	// Contains both "ok" and "not interested"; declines must win.
	if got := keywordConsent("ok but I'm not interested", domain.LanguageEnglish); got != ConsentNegative {
		t.Fatalf("negative keywords should win, got %s", got)
	}
}

func TestKeywordConsentMatchesWholeWordsOnly(t *testing.T) {
	cases := map[string]struct {
		utterance string
		language  string
		want      ConsentIntent
	}{
		"hedging is not a decline":      {"I don't know", domain.LanguageEnglish, ConsentUnclear},
		"no inside know does not fire":  {"I know this survey", domain.LanguageEnglish, ConsentUnclear},
		"plain no still declines":       {"no, thank you", domain.LanguageEnglish, ConsentNegative},
		"italian hedging stays unclear": {"non lo so", domain.LanguageItalian, ConsentUnclear},
		"italian no still declines":     {"no, non chiamate", domain.LanguageItalian, ConsentNegative},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := keywordConsent(tc.utterance, tc.language); got != tc.want {
				t.Fatalf("keywordConsent(%q) = %s, want %s", tc.utterance, got, tc.want)
			}
		})
	}
}

func TestKeywordConsentUnknownLanguageDefaultsToEnglish(t *testing.T) {
	if got := keywordConsent("yes please", "de"); got != ConsentPositive {
		t.Fatalf("unknown language should fall back to english keywords, got %s", got)
	}
}
