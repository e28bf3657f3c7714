package speaker

import (
	"strings"
	"time"

	"realtime-caption-translator/internal/splitter"
	"realtime-caption-translator/internal/tone"
)

// endsWithTerminalPunctuation reports whether word ends with one of the
// sentence-terminating marks ('.', '!', '?') scanned for in spec §4.2 step 3.
func endsWithTerminalPunctuation(word string) bool {
	if word == "" {
		return false
	}
	switch word[len(word)-1] {
	case '.', '!', '?':
		return true
	default:
		return false
	}
}

// marks returns, for the given remaining words, the indices (into that
// slice) of words ending with terminal punctuation, left to right.
func marks(remaining []string) []int {
	var out []int
	for i, w := range remaining {
		if endsWithTerminalPunctuation(w) {
			out = append(out, i)
		}
	}
	return out
}

// Sealed describes a sentence that just transitioned from unsealed tail
// to confirmed (spec §4.2 step 4).
type Sealed struct {
	SourceSentence string
}

// PartialDispatch describes a partial-translation task to fan out (spec
// §4.2 step 5).
type PartialDispatch struct {
	Text string
	Seq  uint64
}

// Outcome is everything the Session Orchestrator must act on after one
// ASR event has been folded into a speaker's state (spec §4.2).
type Outcome struct {
	// PartialTranscript is the current remaining-words text, emitted to
	// the client on every update regardless of sealing (spec §6).
	PartialTranscript string

	Sealed *Sealed

	DispatchPartial *PartialDispatch

	DispatchTone bool

	DispatchSplitter bool
	SplitterWords    []string
}

// PartialInterval controls how often (in update_count) a partial
// translation is dispatched when no sentence seals, per spec §4.2 step 5.
// It is per-session configuration, not a package constant (SPEC_FULL.md
// Open Questions (a)); the Pipeline carries its own copy.
type Pipeline struct {
	partialInterval int
}

// NewPipeline binds a per-session partial_interval to the pure
// segmentation functions below.
func NewPipeline(partialInterval int) *Pipeline {
	if partialInterval <= 0 {
		partialInterval = 6
	}
	return &Pipeline{partialInterval: partialInterval}
}

// sameTrailingWord reports whether the dedup rule's "differs by at most
// dedupTrailingCharSlack trailing characters of the same final word"
// clause holds between a word and its revision: count mismatched
// characters over their common prefix plus any length difference, and
// compare that to the slack budget.
func sameTrailingWord(prev, last string) bool {
	commonLen := min(len(prev), len(last))
	mismatches := len(prev) - commonLen + len(last) - commonLen
	for i := 0; i < commonLen; i++ {
		if prev[i] != last[i] {
			mismatches++
		}
	}
	return mismatches <= dedupTrailingCharSlack
}

// isDuplicate implements spec §4.2's dedup rule: identical remaining
// words, or the same length differing only by a small trailing-character
// revision of the final word, are treated as a no-op re-send. A shorter
// remaining_words (an ASR correction that retracted words) always forces
// reprocessing.
func isDuplicate(previous, current []string) bool {
	if len(current) != len(previous) {
		return false
	}
	if len(current) == 0 {
		return true
	}
	for i := 0; i < len(current)-1; i++ {
		if current[i] != previous[i] {
			return false
		}
	}
	return sameTrailingWord(previous[len(previous)-1], current[len(current)-1])
}

// Process folds one ASR event's word sequence into the speaker's state,
// implementing spec §4.2 steps 1-7. newTail is the vendor's current
// understanding of the unsealed tail (the new word sequence that replaces
// it, per step 1).
func (p *Pipeline) Process(s *State, newTail []string) Outcome {
	previous := s.previousRemaining

	// Step 1: replace the unsealed tail; sealed words are inviolate.
	s.fullText = append(s.fullText[:s.confirmedWordCount:s.confirmedWordCount], newTail...)
	if len(newTail) > 0 {
		s.lastActivityTS = time.Now()
	}

	// Step 2: recompute remaining_words.
	remaining := s.RemainingWords()

	dup := s.everProcessed && isDuplicate(previous, remaining)
	s.previousRemaining = append([]string(nil), remaining...)
	s.everProcessed = true

	// update_count and activity advance regardless of the dedup outcome
	// (spec §4.2 dedup rule); only steps 3-7 are skipped for a duplicate.
	s.updateCount++

	out := Outcome{PartialTranscript: strings.Join(remaining, " ")}
	if dup {
		return out
	}

	// Step 3: scan for terminal-punctuation marks.
	m := marks(remaining)

	// Step 4: seal once confirm_punct_count marks are present.
	if len(m) >= s.confirmPunctCount {
		boundary := m[s.confirmPunctCount-1] + 1
		sentence := strings.Join(remaining[:boundary], " ")

		s.confirmedWordCount += boundary
		s.partialStale = true
		s.lastPartialSource = ""
		s.previousRemaining = nil
		s.everProcessed = false

		out.Sealed = &Sealed{SourceSentence: sentence}
		out.PartialTranscript = strings.Join(s.RemainingWords(), " ")

		if s.ShouldDispatchTone(tone.ToneTriggerWords) {
			s.MarkToneDispatched()
			out.DispatchTone = true
		}
		return out
	}

	// Step 5: throttled partial-translation dispatch.
	firstPartial := s.lastPartialSource == "" && s.partialSeq == 0
	dueByThrottle := p.partialInterval > 0 && s.updateCount%p.partialInterval == 0
	if len(remaining) > 0 && (firstPartial || dueByThrottle) {
		s.lastPartialSource = strings.Join(remaining, " ")
		s.partialStale = false
		seq := s.NextPartialSeq()
		out.DispatchPartial = &PartialDispatch{Text: s.lastPartialSource, Seq: seq}
	}

	if s.ShouldDispatchTone(tone.ToneTriggerWords) {
		s.MarkToneDispatched()
		out.DispatchTone = true
	}

	// Step 7: dispatch the semantic splitter on long unpunctuated runs.
	if len(remaining) > splitter.TriggerWordCount && len(m) == 0 && !s.IsSplitterInFlight() {
		s.MarkSplitterDispatched()
		out.DispatchSplitter = true
		out.SplitterWords = append([]string(nil), remaining...)
	}

	return out
}

// SilenceSeal force-seals the entire unsealed tail after an inactivity
// timeout, regardless of terminal punctuation (spec §4.2 step 6). It is
// invoked by the orchestrator's per-speaker silence timer, not by an ASR
// event, so it returns nil when there is nothing to seal.
func (p *Pipeline) SilenceSeal(s *State) *Sealed {
	remaining := s.RemainingWords()
	if len(remaining) == 0 {
		return nil
	}

	sentence := strings.Join(remaining, " ")
	s.confirmedWordCount = len(s.fullText)
	s.partialStale = true
	s.lastPartialSource = ""
	s.previousRemaining = nil
	s.everProcessed = false

	return &Sealed{SourceSentence: sentence}
}

// ApplySplitterBoundary applies the splitter's earliest proposed boundary
// (spec §4.3) exactly as a punctuation-triggered seal (step 4). dispatchWords
// is the remaining_words snapshot the splitter was given; boundary is an
// exclusive-end word index into it. If the speaker's unsealed tail no longer
// matches dispatchWords — natural confirmation or an ASR revision raced
// ahead while the splitter call was in flight — the result is stale and
// discarded (spec §4.3's staleness guard).
func (p *Pipeline) ApplySplitterBoundary(s *State, dispatchWords []string, boundary int) *Sealed {
	remaining := s.RemainingWords()
	if !wordsEqual(remaining, dispatchWords) {
		return nil
	}
	if boundary <= 0 || boundary > len(remaining) {
		return nil
	}

	sentence := strings.Join(remaining[:boundary], " ")
	s.confirmedWordCount += boundary
	s.partialStale = true
	s.lastPartialSource = ""
	s.previousRemaining = nil
	s.everProcessed = false

	return &Sealed{SourceSentence: sentence}
}

func wordsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
