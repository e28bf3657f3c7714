package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegisterInstruction(t *testing.T) {
	cases := []struct {
		name       string
		tone       Tone
		targetLang string
		want       string
	}{
		{"unset tone yields no instruction", ToneUnset, "ko", ""},
		{"korean formal", ToneFormal, "ko", "formal/honorific"},
		{"korean casual", ToneCasual, "ko", "informal/plain"},
		{"japanese casual-polite", ToneCasualPolite, "ja", "polite-but-informal"},
		{"english falls back to generic", ToneFormal, "en", "Match the speaker's register."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := registerInstruction(tc.tone, tc.targetLang)
			if tc.want == "" {
				if got != "" {
					t.Errorf("registerInstruction() = %q, want empty", got)
				}
				return
			}
			if !strings.Contains(got, tc.want) {
				t.Errorf("registerInstruction() = %q, want substring %q", got, tc.want)
			}
		})
	}
}

func TestBuildPrompt_IncludesContextPair(t *testing.T) {
	req := Request{
		Text:       "Goodbye.",
		TargetLang: "fr",
		Tone:       ToneFormal,
		PrevPair:   ContextPair{Source: "Hello.", Translation: "Bonjour."},
	}
	prompt := buildPrompt(req)

	if !strings.Contains(prompt, "fr") {
		t.Errorf("prompt missing target language: %q", prompt)
	}
	if !strings.Contains(prompt, "Hello.") || !strings.Contains(prompt, "Bonjour.") {
		t.Errorf("prompt missing context pair: %q", prompt)
	}
}

func TestBuildPrompt_NoContextPairWhenAbsent(t *testing.T) {
	req := Request{Text: "Hi.", TargetLang: "de"}
	prompt := buildPrompt(req)
	if strings.Contains(prompt, "Previous sentence") {
		t.Errorf("prompt should omit context pair section when none supplied: %q", prompt)
	}
}

func TestQualityBackend_StatusClassification(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		wantErr    error
	}{
		{"unauthorized is fatal", http.StatusUnauthorized, ErrFatal},
		{"payment required is fatal", http.StatusPaymentRequired, ErrFatal},
		{"rate limited is fatal", http.StatusTooManyRequests, ErrFatal},
		{"server error is transient", http.StatusBadGateway, ErrTransient},
		{"other failure is fatal", http.StatusBadRequest, ErrFatal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
			}))
			defer srv.Close()

			q := NewQualityBackend(srv.URL, "key")
			_, err := q.TranslateConfirmed(context.Background(), Request{Text: "hi", TargetLang: "fr"})
			if err == nil {
				t.Fatalf("expected an error for status %d", tc.statusCode)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("error = %v, want wrapping %v", err, tc.wantErr)
			}
		})
	}
}

func TestQualityBackend_SuccessReturnsTranslation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body qualityRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Formality == "" {
			t.Errorf("expected formality to be set for ko target with a formal tone")
		}
		_ = json.NewEncoder(w).Encode(qualityResponse{Translation: "안녕하세요"})
	}))
	defer srv.Close()

	q := NewQualityBackend(srv.URL, "key")
	out, err := q.TranslateConfirmed(context.Background(), Request{Text: "Hello", TargetLang: "ko", Tone: ToneFormal})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "안녕하세요" {
		t.Errorf("translation = %q, want 안녕하세요", out)
	}
}
