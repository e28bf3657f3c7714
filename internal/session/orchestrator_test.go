package session

import (
	"context"
	"fmt"
	"log"
	"testing"
	"time"

	"realtime-caption-translator/internal/speaker"
	"realtime-caption-translator/internal/translate"
)

// noopTranslator satisfies translate.Translator without touching the
// network; individual tests override behavior by calling orchestrator
// methods directly instead of going through it.
type noopTranslator struct{}

func (noopTranslator) TranslateConfirmed(context.Context, translate.Request) (string, error) {
	return "", nil
}
func (noopTranslator) TranslatePartial(context.Context, translate.Request) (string, error) {
	return "", nil
}
func (noopTranslator) Close() error { return nil }

func newTestOrchestrator(t *testing.T) (*Orchestrator, chan OutboundMessage) {
	t.Helper()
	sess := NewSession(Config{PartialInterval: 6, Aggressiveness: speaker.AggressivenessHigh}, noopTranslator{})
	out := make(chan OutboundMessage, 16)
	orch := NewOrchestrator(sess, nil, nil, out, log.Default())
	orch.ctx = context.Background()
	orch.resultCh = make(chan taskResult, 16)
	return orch, out
}

// TestConfirmedOrdering_OutOfOrderCompletionStillEmitsInSealOrder verifies
// spec §5's ordering guarantee: even though seal 2's translation completes
// before seal 1's, the client must see seal 1's confirmed_translation
// first and last_confirmed_pair must reflect seal order, not arrival order.
func TestConfirmedOrdering_OutOfOrderCompletionStillEmitsInSealOrder(t *testing.T) {
	orch, out := newTestOrchestrator(t)
	entry := orch.sess.speakerFor("A")

	entry.confirmSeq = 2 // two seals have been dispatched

	// Seal 2 (the later one) completes first.
	orch.handleResult(taskResult{
		kind: resultConfirmedTranslation, speakerID: "A",
		text: "world-translated", sourceText: "World.", confirmSeq: 2,
	})

	select {
	case <-out:
		t.Fatalf("seal 2's translation must not be emitted before seal 1's")
	default:
	}

	// Seal 1 (the earlier one) completes second.
	orch.handleResult(taskResult{
		kind: resultConfirmedTranslation, speakerID: "A",
		text: "hello-translated", sourceText: "Hello.", confirmSeq: 1,
	})

	first := <-out
	if first.Text != "hello-translated" {
		t.Fatalf("first emitted confirmed_translation = %q, want hello-translated", first.Text)
	}
	second := <-out
	if second.Text != "world-translated" {
		t.Fatalf("second emitted confirmed_translation = %q, want world-translated", second.Text)
	}

	pair := entry.state.LastConfirmedPair()
	if pair.Source != "World." || pair.Translation != "world-translated" {
		t.Errorf("last_confirmed_pair = %+v, want the most recently sealed pair (World.)", pair)
	}
}

// TestSplitterResult_AppliesEarliestBoundaryAsSeal verifies spec §4.3: a
// successful splitter result seals the speaker's unsealed tail exactly as
// a punctuation-triggered boundary would, clears the splitter in-flight
// flag, and emits the sealed sentence's confirmed_transcript.
func TestSplitterResult_AppliesEarliestBoundaryAsSeal(t *testing.T) {
	orch, out := newTestOrchestrator(t)
	entry := orch.sess.speakerFor("A")

	words := []string{"one", "two", "three", "four"}
	orch.sess.Pipeline.Process(entry.state, words)
	entry.state.MarkSplitterDispatched()
	entry.splitterGen = 1

	orch.handleResult(taskResult{
		kind: resultSplitter, speakerID: "A",
		boundaries: []int{2}, splitWords: words, splitterGen: 1,
	})

	if entry.state.IsSplitterInFlight() {
		t.Errorf("splitter in-flight flag should clear once the result is handled")
	}
	if entry.state.ConfirmedWordCount() != 2 {
		t.Fatalf("confirmed_word_count = %d, want 2", entry.state.ConfirmedWordCount())
	}

	var sawTranscript bool
	for len(out) > 0 {
		msg := <-out
		if msg.Kind == kindConfirmedTranscript && msg.Text == "one two" {
			sawTranscript = true
		}
	}
	if !sawTranscript {
		t.Errorf("expected a confirmed_transcript for the splitter-sealed sentence")
	}
}

// TestSplitterResult_StaleGenerationDiscarded verifies the Open Question
// resolution in SPEC_FULL.md for a superseded dispatch: a splitter result
// whose captured generation is older than the speaker's current one (a
// newer splitter task has since been dispatched) is discarded rather than
// re-sealing stale text. A natural seal does not change the generation; it
// is caught by ApplySplitterBoundary's snapshot check instead.
func TestSplitterResult_StaleGenerationDiscarded(t *testing.T) {
	orch, out := newTestOrchestrator(t)
	entry := orch.sess.speakerFor("A")

	words := []string{"one", "two", "three", "four"}
	orch.sess.Pipeline.Process(entry.state, words)
	entry.splitterGen = 2 // a newer splitter task has since been dispatched

	orch.handleResult(taskResult{
		kind: resultSplitter, speakerID: "A",
		boundaries: []int{2}, splitWords: words, splitterGen: 1, // stale generation
	})

	if entry.state.ConfirmedWordCount() != 0 {
		t.Errorf("stale splitter result must not seal: confirmed_word_count = %d, want 0", entry.state.ConfirmedWordCount())
	}
	if len(out) != 0 {
		t.Errorf("stale splitter result must not emit any message")
	}
}

// fakeToneDetector records every call it receives and returns a fixed tone.
type fakeToneDetector struct {
	calls int
}

func (f *fakeToneDetector) Detect(context.Context, string) (translate.Tone, error) {
	f.calls++
	return translate.ToneGeneric, nil
}

// TestSilenceSeal_DispatchesToneAtThreshold verifies spec §4.5's tone
// trigger fires for a silence auto-confirm seal, not just a
// punctuation-triggered one: a speaker whose confirmed_word_count crosses
// 30 words purely through inactivity must still get tone classification.
func TestSilenceSeal_DispatchesToneAtThreshold(t *testing.T) {
	sess := NewSession(Config{PartialInterval: 6, Aggressiveness: speaker.AggressivenessHigh}, noopTranslator{})
	out := make(chan OutboundMessage, 16)
	detector := &fakeToneDetector{}
	orch := NewOrchestrator(sess, detector, nil, out, log.Default())
	orch.ctx = context.Background()
	orch.resultCh = make(chan taskResult, 16)

	entry := orch.sess.speakerFor("A")

	words := make([]string, 30)
	for i := range words {
		words[i] = "word"
	}
	orch.sess.Pipeline.Process(entry.state, words) // no punctuation, stays unsealed

	orch.handleResult(taskResult{kind: resultSilence, speakerID: "A"})

	if entry.state.ConfirmedWordCount() != 30 {
		t.Fatalf("confirmed_word_count = %d, want 30 after silence seal", entry.state.ConfirmedWordCount())
	}

	// dispatchConfirmedTranslation also reports back onto resultCh, so drain
	// until the tone result specifically appears (or time out).
	deadline := time.After(time.Second)
	for {
		select {
		case res := <-orch.resultCh:
			if res.kind == resultTone {
				return
			}
		case <-deadline:
			t.Fatal("tone detection was never dispatched for a silence-sealed speaker")
		}
	}
}

// TestPartialTranslation_TransientErrorDroppedSilently verifies spec §7:
// a translation_transient failure on a partial translation is dropped
// without surfacing an error message to the client.
func TestPartialTranslation_TransientErrorDroppedSilently(t *testing.T) {
	orch, out := newTestOrchestrator(t)
	entry := orch.sess.speakerFor("A")
	entry.state.NextPartialSeq() // seq 1 now outstanding

	orch.handleResult(taskResult{
		kind: resultPartialTranslation, speakerID: "A",
		partialSeq: 1, err: translate.ErrTransient,
	})

	if len(out) != 0 {
		t.Fatalf("transient partial translation error must not emit any message, got %d", len(out))
	}
}

// TestPartialTranslation_FatalErrorSurfaces verifies the other half of
// spec §7: a translation_fatal failure on a partial translation does
// surface a client-visible error message.
func TestPartialTranslation_FatalErrorSurfaces(t *testing.T) {
	orch, out := newTestOrchestrator(t)
	entry := orch.sess.speakerFor("A")
	entry.state.NextPartialSeq()

	orch.handleResult(taskResult{
		kind: resultPartialTranslation, speakerID: "A",
		partialSeq: 1, err: fmt.Errorf("%w: auth failed", translate.ErrFatal),
	})

	msg := <-out
	if msg.Kind != kindError {
		t.Fatalf("expected an error message for a fatal partial translation failure, got kind %v", msg.Kind)
	}
}
