// Package translate implements the two interchangeable translator
// backends described in spec §4.4: a stateless quality-optimized HTTP
// client and a persistent bidirectional speed client, plus the tone/
// register prompt construction shared by both.
package translate

import (
	"context"
	"errors"
)

// ErrFatal marks an auth/quota failure: the caller should surface an error
// to the client and continue the pipeline with transcripts only (spec §7,
// translation_fatal).
var ErrFatal = errors.New("translate: fatal backend error")

// ErrTransient marks a timeout/5xx/socket-reset failure (spec §7,
// translation_transient).
var ErrTransient = errors.New("translate: transient backend error")

// Tone is the speaker's detected register, supplied to the translator as
// instruction context. The zero value is Unset.
type Tone string

const (
	ToneUnset         Tone = ""
	ToneCasual        Tone = "casual"
	ToneCasualPolite  Tone = "casual_polite"
	ToneFormal        Tone = "formal"
	ToneNarrative     Tone = "narrative"
	ToneGeneric       Tone = "generic"
)

// ContextPair is the one-shot {source, translation} context supplied with
// every translation request (spec §3 last_confirmed_pair, §4.4 prev_pair).
type ContextPair struct {
	Source      string
	Translation string
}

// Request carries everything a translator backend needs to produce one
// translation.
type Request struct {
	Speaker    string
	Text       string
	PrevPair   ContextPair
	Tone       Tone
	TargetLang string
}

// Translator is the capability the Speaker Pipeline and Session
// Orchestrator depend on. Both backends implement it; callers are
// responsible for running calls in a cancellable goroutine and discarding
// results per the staleness rules in spec §4.4 — the interface itself is
// synchronous from the backend's point of view.
type Translator interface {
	// TranslateConfirmed translates a sealed sentence. Guaranteed to be
	// surfaced to the client if it returns without error (never dropped by
	// staleness — that guarantee is the caller's responsibility to honor).
	TranslateConfirmed(ctx context.Context, req Request) (string, error)

	// TranslatePartial translates the rolling unsealed text.
	TranslatePartial(ctx context.Context, req Request) (string, error)

	// Close releases backend resources (e.g. the speed backend's
	// persistent connection). Idempotent.
	Close() error
}

// registerInstruction maps a tone label to concrete register instructions
// for languages with well-defined registers; other languages fall back to
// a generic instruction. Grounded on spec §4.4's Korean/Japanese example.
func registerInstruction(tone Tone, targetLang string) string {
	if tone == ToneUnset {
		return ""
	}

	if hasFormalRegisters(targetLang) {
		switch tone {
		case ToneCasual:
			return "Use the informal/plain register appropriate for casual speech."
		case ToneCasualPolite:
			return "Use the polite-but-informal register (e.g. -yo/-masu style) appropriate for casual-polite speech."
		case ToneFormal:
			return "Use the formal/honorific register appropriate for formal speech."
		case ToneNarrative:
			return "Use the plain narrative register appropriate for storytelling or reporting."
		}
	}

	return "Match the speaker's register."
}

// hasFormalRegisters reports whether targetLang distinguishes grammatical
// speech levels the way Korean and Japanese do.
func hasFormalRegisters(targetLang string) bool {
	switch targetLang {
	case "ko", "ja":
		return true
	default:
		return false
	}
}

// buildPrompt assembles the translator instruction/system prompt for a
// request: the context pair plus the register instruction. Both backends
// use this so tone changes are reflected identically regardless of
// transport.
func buildPrompt(req Request) string {
	instruction := registerInstruction(req.Tone, req.TargetLang)

	prompt := "Translate the following text to " + req.TargetLang + "."
	if instruction != "" {
		prompt += " " + instruction
	}
	if req.PrevPair.Source != "" {
		prompt += "\nPrevious sentence (context only, do not re-translate): \"" +
			req.PrevPair.Source + "\" -> \"" + req.PrevPair.Translation + "\""
	}
	return prompt
}
