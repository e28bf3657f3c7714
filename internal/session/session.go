package session

import (
	"fmt"
	"time"

	"realtime-caption-translator/internal/speaker"
	"realtime-caption-translator/internal/translate"
)

// TranslatorMode selects which translator backend a session uses.
type TranslatorMode string

const (
	TranslatorModeQuality TranslatorMode = "quality"
	TranslatorModeSpeed   TranslatorMode = "speed"
)

// Config is the per-connection configuration parsed from the upgrade
// request's query parameters (spec §6).
type Config struct {
	SessionID       string
	SourceLang      string
	TargetLang      string
	Aggressiveness  speaker.Aggressiveness
	PartialInterval int
	TranslatorMode  TranslatorMode
}

// DefaultPartialInterval is used when a client omits partial_interval
// (SPEC_FULL.md Open Question (a): partial_interval is per-session
// configuration with this default, not a build-time constant).
const DefaultPartialInterval = 6

// ParseAggressiveness validates the client-supplied aggressiveness value.
func ParseAggressiveness(v int) (speaker.Aggressiveness, error) {
	switch v {
	case 1:
		return speaker.AggressivenessHigh, nil
	case 2:
		return speaker.AggressivenessLow, nil
	default:
		return 0, fmt.Errorf("%w: got %d", ErrUnsupportedAggressiveness, v)
	}
}

// speakerEntry bundles a speaker's segmentation state with the bookkeeping
// the orchestrator needs to run its silence timer and discard stale
// in-flight tasks.
type speakerEntry struct {
	state        *speaker.State
	silenceTimer *time.Timer
	// splitterGen increments every time a new splitter task is dispatched;
	// a result is discarded if its captured generation is stale (spec
	// §4.2 step 7, SPEC_FULL.md Open Question (b)).
	splitterGen uint64

	// confirmSeq/confirmNextEmit/confirmBuffered enforce spec §5's
	// ordering guarantee ("confirmed_translation messages are delivered
	// in the same order the sentences were sealed") even though
	// translations complete concurrently and may race each other back.
	confirmSeq      uint64
	confirmNextEmit uint64
	confirmBuffered map[uint64]taskResult
}

// Session holds everything the Session Orchestrator needs for one client
// connection's lifetime: its config, its translator, and one speaker
// entry per distinct speaker id the ASR adapter has emitted.
type Session struct {
	Config    Config
	Pipeline  *speaker.Pipeline
	Translate translate.Translator

	speakers map[string]*speakerEntry
}

// NewSession constructs a session ready to process ASR events. Speaker
// state is created lazily on first event, per spec §3.
func NewSession(cfg Config, translator translate.Translator) *Session {
	return &Session{
		Config:    cfg,
		Pipeline:  speaker.NewPipeline(cfg.PartialInterval),
		Translate: translator,
		speakers:  make(map[string]*speakerEntry),
	}
}

// speakerFor lazily creates a speaker's state on first reference.
func (sess *Session) speakerFor(id string) *speakerEntry {
	if entry, ok := sess.speakers[id]; ok {
		return entry
	}
	entry := &speakerEntry{state: speaker.NewState(id, sess.Config.Aggressiveness)}
	sess.speakers[id] = entry
	return entry
}

// SpeakerIDs returns the currently known speaker ids, for tests and
// diagnostics.
func (sess *Session) SpeakerIDs() []string {
	ids := make([]string, 0, len(sess.speakers))
	for id := range sess.speakers {
		ids = append(ids, id)
	}
	return ids
}
