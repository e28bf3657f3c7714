// Package speaker implements the per-speaker confirmed/partial state
// machine described in spec §3 and the segmentation algorithm in §4.2.
// A State is owned exclusively by the Session Orchestrator's receive
// loop; nothing here takes a lock, by design (spec §3 Ownership).
package speaker

import (
	"strings"
	"time"

	"realtime-caption-translator/internal/translate"
)

// Aggressiveness controls how many terminal-punctuation marks are
// required to seal a sentence.
type Aggressiveness int

const (
	AggressivenessHigh Aggressiveness = 1
	AggressivenessLow  Aggressiveness = 2
)

// confirmPunctCount returns the number of pending_sentence_marks required
// to seal, per spec §3: 1 for high, 2 for low.
func confirmPunctCount(a Aggressiveness) int {
	if a == AggressivenessHigh {
		return 1
	}
	return 2
}

// SilenceTimeout is the wall-clock gap after which a non-empty unsealed
// tail is auto-confirmed (spec §4.2 step 6). The Session Orchestrator
// resets a per-speaker timer to this duration on every event.
const SilenceTimeout = 3 * time.Second

// dedupTrailingCharSlack is the "differs by at most N trailing characters
// of the same final word" dedup rule in spec §4.2.
const dedupTrailingCharSlack = 2

// State is the per-speaker state machine. ID is the ASR-emitted speaker
// id this state was lazily created for.
type State struct {
	ID string

	fullText           []string
	confirmedWordCount int

	confirmPunctCount int

	updateCount int

	lastPartialSource string
	partialSeq        uint64
	latestPartialSeq  uint64
	partialStale      bool

	confirmedTranslation string
	lastConfirmedPair    translate.ContextPair

	lastActivityTS time.Time

	tone          translate.Tone
	toneTriggered bool

	splitterInFlight bool

	// previousRemaining tracks the last-processed remaining_words so the
	// dedup rule in step 2/3 can compare against it.
	previousRemaining []string
	everProcessed     bool
}

// NewState lazily creates a speaker's state on first event, per spec §3.
func NewState(id string, aggressiveness Aggressiveness) *State {
	return &State{
		ID:                id,
		confirmPunctCount: confirmPunctCount(aggressiveness),
		lastActivityTS:    time.Now(),
	}
}

// ConfirmedSourceText returns the concatenation of sealed words, matching
// the confirmed_source_text invariant (spec §3).
func (s *State) ConfirmedSourceText() string {
	return strings.Join(s.fullText[:s.confirmedWordCount], " ")
}

// ConfirmedWordCount exposes the sealed-word pointer for tests/invariants.
func (s *State) ConfirmedWordCount() int { return s.confirmedWordCount }

// RemainingWords returns the current unsealed tail.
func (s *State) RemainingWords() []string {
	return s.fullText[s.confirmedWordCount:]
}

// Tone returns the speaker's detected register, or ToneUnset.
func (s *State) Tone() translate.Tone { return s.tone }

// SetTone records the tone detector's one-shot result (spec §3: unset ->
// concrete label at most once).
func (s *State) SetTone(t translate.Tone) {
	if s.tone == translate.ToneUnset {
		s.tone = t
	}
}

// ShouldDispatchTone reports whether confirmed_source_text has just
// reached the trigger word count and no tone task has been dispatched yet.
func (s *State) ShouldDispatchTone(triggerWords int) bool {
	if s.toneTriggered || s.tone != translate.ToneUnset {
		return false
	}
	return s.confirmedWordCount >= triggerWords
}

// MarkToneDispatched prevents re-dispatch (spec §3 tone_triggered).
func (s *State) MarkToneDispatched() { s.toneTriggered = true }

// LastConfirmedPair returns the one-shot context pair supplied to the
// translator (spec §3/§4.4).
func (s *State) LastConfirmedPair() translate.ContextPair { return s.lastConfirmedPair }

// NextPartialSeq allocates and records a new partial sequence number.
func (s *State) NextPartialSeq() uint64 {
	s.partialSeq++
	s.latestPartialSeq = s.partialSeq
	return s.partialSeq
}

// LatestPartialSeq returns the highest sequence ever issued.
func (s *State) LatestPartialSeq() uint64 { return s.latestPartialSeq }

// PartialStale reports whether in-flight partials must be discarded.
func (s *State) PartialStale() bool { return s.partialStale }

// IsSplitterInFlight reports whether a splitter task is already dispatched
// and unresolved for this speaker (spec §4.2 step 7 guard).
func (s *State) IsSplitterInFlight() bool { return s.splitterInFlight }

// MarkSplitterDispatched / ClearSplitterInFlight bracket a splitter task.
func (s *State) MarkSplitterDispatched()   { s.splitterInFlight = true }
func (s *State) ClearSplitterInFlight()    { s.splitterInFlight = false }

// LastActivity returns the timestamp of the last non-empty ASR event.
func (s *State) LastActivity() time.Time { return s.lastActivityTS }

// ApplyConfirmedTranslation records a completed confirmed translation
// (spec §4.4): appended to confirmed_translation and recorded as the new
// context pair.
func (s *State) ApplyConfirmedTranslation(sourceSentence, translation string) {
	s.confirmedTranslation += translation
	s.lastConfirmedPair = translate.ContextPair{Source: sourceSentence, Translation: translation}
}
