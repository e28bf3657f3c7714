// Package session implements the Session Orchestrator (spec §4.6): the
// single-threaded cooperative loop that folds ASR events through the
// per-speaker segmentation pipeline and fans out concurrent translation,
// tone-detection, and sentence-splitting tasks, serializing their results
// back onto the same loop so no per-speaker locking is ever needed.
package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"realtime-caption-translator/internal/asr"
	"realtime-caption-translator/internal/asrevent"
	"realtime-caption-translator/internal/speaker"
	"realtime-caption-translator/internal/splitter"
	"realtime-caption-translator/internal/tone"
	"realtime-caption-translator/internal/translate"
)

// resultKind distinguishes the concurrent task results multiplexed back
// onto the orchestrator's receive loop.
type resultKind int

const (
	resultConfirmedTranslation resultKind = iota
	resultPartialTranslation
	resultTone
	resultSplitter
	resultSilence
)

// taskResult is the uniform shape every dispatched goroutine reports back
// through, so the receive loop is the only place that ever touches
// speaker.State.
type taskResult struct {
	kind      resultKind
	speakerID string

	text       string // translation text
	sourceText string // source sentence, for resultConfirmedTranslation
	err        error

	partialSeq uint64 // staleness check for resultPartialTranslation
	confirmSeq uint64 // per-speaker seal order, for resultConfirmedTranslation

	detectedTone translate.Tone // resultTone

	splitterGen uint64 // staleness check for resultSplitter
	boundaries  []int
	splitWords  []string
}

// Orchestrator drives one client connection end to end.
type Orchestrator struct {
	sess   *Session
	tone   tone.Detector
	split  splitter.Splitter
	out    chan<- OutboundMessage
	logger *log.Logger

	// ctx and resultCh are fixed for the lifetime of a single Run call;
	// caching them lets handleResult dispatch follow-up work (e.g. the
	// translation a silence auto-confirm triggers) without threading both
	// through every call in the switch below.
	ctx      context.Context
	resultCh chan taskResult
}

// NewOrchestrator wires a session's translator together with the shared
// tone detector and splitter, matching the lokutor teacher's pattern of
// constructing an orchestrator from narrow provider interfaces.
func NewOrchestrator(sess *Session, toneDetector tone.Detector, splitterSvc splitter.Splitter, out chan<- OutboundMessage, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{sess: sess, tone: toneDetector, split: splitterSvc, out: out, logger: logger}
}

// Run consumes src's normalized event stream until it closes or ctx is
// canceled, dispatching concurrent tasks and draining their results on
// the same loop (spec §4.6).
func (o *Orchestrator) Run(ctx context.Context, src asr.Source) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.loop(ctx, src)
	})
	return g.Wait()
}

func (o *Orchestrator) loop(ctx context.Context, src asr.Source) error {
	o.ctx = ctx
	o.resultCh = make(chan taskResult, 16)

	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			o.emitError("", ErrorClientDisconnect, ctx.Err().Error())
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			o.handleEvent(ev)

		case res := <-o.resultCh:
			o.handleResult(res)
		}
	}
}

// handleEvent folds one ASR event into its speaker's segmentation state
// and dispatches whatever concurrent tasks the outcome calls for.
func (o *Orchestrator) handleEvent(ev asrevent.Event) {
	entry := o.sess.speakerFor(ev.SpeakerID)

	o.resetSilenceTimer(ev.SpeakerID, entry)

	if ev.Kind == asrevent.KindEOS {
		if sealed := o.sess.Pipeline.SilenceSeal(entry.state); sealed != nil {
			o.onSealed(ev.SpeakerID, entry, sealed)
		}
		return
	}

	words := make([]string, 0, len(ev.Words))
	for _, w := range ev.Words {
		words = append(words, w.Text)
	}

	outcome := o.sess.Pipeline.Process(entry.state, words)

	o.out <- partialTranscript(ev.SpeakerID, outcome.PartialTranscript)

	if outcome.Sealed != nil {
		o.onSealed(ev.SpeakerID, entry, outcome.Sealed)
	}

	if outcome.DispatchPartial != nil {
		o.dispatchPartialTranslation(ev.SpeakerID, entry, outcome.DispatchPartial)
	}

	if outcome.DispatchTone {
		o.dispatchTone(ev.SpeakerID, entry)
	}

	if outcome.DispatchSplitter {
		o.dispatchSplitter(ev.SpeakerID, entry, outcome.SplitterWords)
	}
}

// onSealed emits the confirmed transcript and dispatches its translation.
// It also covers spec §4.5's tone-dispatch trigger ("confirmed_source_text
// first reaches 30 words") for every way a seal can happen — punctuation,
// silence auto-confirm, vendor EOS flush, and the splitter-boundary seal in
// handleResult all route through here.
func (o *Orchestrator) onSealed(speakerID string, entry *speakerEntry, sealed *speaker.Sealed) {
	o.out <- confirmedTranscript(speakerID, sealed.SourceSentence)
	o.dispatchConfirmedTranslation(speakerID, entry, sealed.SourceSentence)
	if entry.state.ShouldDispatchTone(tone.ToneTriggerWords) {
		entry.state.MarkToneDispatched()
		o.dispatchTone(speakerID, entry)
	}
}

func (o *Orchestrator) dispatchConfirmedTranslation(speakerID string, entry *speakerEntry, sourceSentence string) {
	req := translate.Request{
		Speaker:    speakerID,
		Text:       sourceSentence,
		PrevPair:   entry.state.LastConfirmedPair(),
		Tone:       entry.state.Tone(),
		TargetLang: o.sess.Config.TargetLang,
	}
	entry.confirmSeq++
	seq := entry.confirmSeq
	ctx, resultCh := o.ctx, o.resultCh
	go func() {
		translation, err := o.sess.Translate.TranslateConfirmed(ctx, req)
		if err != nil && !errors.Is(err, translate.ErrFatal) {
			// translation_transient (spec §7): retry once before giving up.
			translation, err = o.sess.Translate.TranslateConfirmed(ctx, req)
		}
		if err != nil && !errors.Is(err, translate.ErrFatal) {
			// Still failing after the retry: surface the source text with
			// an inline marker rather than stall the pipeline on a
			// confirmed sentence that must reach the client (spec §7).
			resultCh <- taskResult{
				kind:       resultConfirmedTranslation,
				speakerID:  speakerID,
				text:       sourceSentence + " [translation unavailable]",
				sourceText: sourceSentence,
				confirmSeq: seq,
			}
			return
		}
		resultCh <- taskResult{kind: resultConfirmedTranslation, speakerID: speakerID, text: translation, sourceText: sourceSentence, err: err, confirmSeq: seq}
	}()
}

func (o *Orchestrator) dispatchPartialTranslation(speakerID string, entry *speakerEntry, d *speaker.PartialDispatch) {
	req := translate.Request{
		Speaker:    speakerID,
		Text:       d.Text,
		PrevPair:   entry.state.LastConfirmedPair(),
		Tone:       entry.state.Tone(),
		TargetLang: o.sess.Config.TargetLang,
	}
	ctx, resultCh, seq := o.ctx, o.resultCh, d.Seq
	go func() {
		translation, err := o.sess.Translate.TranslatePartial(ctx, req)
		resultCh <- taskResult{kind: resultPartialTranslation, speakerID: speakerID, text: translation, err: err, partialSeq: seq}
	}()
}

func (o *Orchestrator) dispatchTone(speakerID string, entry *speakerEntry) {
	text := entry.state.ConfirmedSourceText()
	ctx, resultCh := o.ctx, o.resultCh
	go func() {
		t, err := o.tone.Detect(ctx, text)
		resultCh <- taskResult{kind: resultTone, speakerID: speakerID, detectedTone: t, err: err}
	}()
}

func (o *Orchestrator) dispatchSplitter(speakerID string, entry *speakerEntry, words []string) {
	entry.splitterGen++
	gen := entry.splitterGen
	ctx, resultCh := o.ctx, o.resultCh
	go func() {
		boundaries, err := o.split.Split(ctx, words)
		resultCh <- taskResult{kind: resultSplitter, speakerID: speakerID, boundaries: boundaries, splitWords: words, err: err, splitterGen: gen}
	}()
}

// resetSilenceTimer (re)arms the per-speaker inactivity timer (spec §4.2
// step 6): any ASR event for a speaker postpones their auto-confirm.
func (o *Orchestrator) resetSilenceTimer(speakerID string, entry *speakerEntry) {
	if entry.silenceTimer != nil {
		entry.silenceTimer.Stop()
	}
	ctx, resultCh := o.ctx, o.resultCh
	entry.silenceTimer = time.AfterFunc(speaker.SilenceTimeout, func() {
		select {
		case resultCh <- taskResult{kind: resultSilence, speakerID: speakerID}:
		case <-ctx.Done():
		}
	})
}

// handleResult applies a completed concurrent task's outcome. This is the
// only place (besides handleEvent) that mutates speaker.State, preserving
// the single-writer invariant spec §4.6 relies on instead of per-speaker
// locks.
func (o *Orchestrator) handleResult(res taskResult) {
	entry, ok := o.sess.speakers[res.speakerID]
	if !ok {
		return
	}

	switch res.kind {
	case resultConfirmedTranslation:
		o.bufferConfirmedResult(entry, res)

	case resultPartialTranslation:
		if res.partialSeq < entry.state.LatestPartialSeq() {
			return // superseded by a newer partial before this one returned
		}
		if res.err != nil {
			// translation_transient errors are dropped silently for
			// partials (spec §7); only translation_fatal surfaces an
			// error message, and the pipeline continues with transcripts
			// only.
			if errors.Is(res.err, translate.ErrFatal) {
				o.emitTranslationError(res.speakerID, res.err)
			}
			return
		}
		if entry.state.PartialStale() {
			return // a seal happened while this was in flight
		}
		o.out <- partialTranslation(res.speakerID, res.text, res.partialSeq)

	case resultTone:
		if res.err != nil {
			o.emitError(res.speakerID, ErrorToneFailure, res.err.Error())
			return
		}
		entry.state.SetTone(res.detectedTone)

	case resultSplitter:
		entry.state.ClearSplitterInFlight()
		if res.splitterGen != entry.splitterGen {
			return // a newer splitter task has since been dispatched
		}
		if res.err != nil {
			o.emitError(res.speakerID, ErrorSplitterFailure, res.err.Error())
			return
		}
		if len(res.boundaries) == 0 {
			return
		}
		// Apply the earliest proposed boundary exactly as a
		// punctuation-triggered seal (spec §4.3). Stale if natural
		// confirmation or an ASR revision has already moved the unsealed
		// tail past what the splitter saw.
		sealed := o.sess.Pipeline.ApplySplitterBoundary(entry.state, res.splitWords, res.boundaries[0])
		if sealed == nil {
			return
		}
		o.onSealed(res.speakerID, entry, sealed)
		o.out <- partialTranscript(res.speakerID, strings.Join(entry.state.RemainingWords(), " "))

	case resultSilence:
		sealed := o.sess.Pipeline.SilenceSeal(entry.state)
		if sealed == nil {
			return
		}
		o.onSealed(res.speakerID, entry, sealed)
		o.logger.Printf("session: silence auto-confirm speaker=%s", res.speakerID)
	}
}

// bufferConfirmedResult enforces spec §5's ordering guarantee: confirmed
// translations are delivered to the client in the same order their
// sentences were sealed, even though the underlying requests complete
// concurrently and may race each other back. A result is held in
// entry.confirmBuffered until every lower-numbered seal has been applied
// (or failed), so State.ApplyConfirmedTranslation — and thus
// last_confirmed_pair context — also advances in seal order, not arrival
// order.
func (o *Orchestrator) bufferConfirmedResult(entry *speakerEntry, res taskResult) {
	if entry.confirmBuffered == nil {
		entry.confirmBuffered = make(map[uint64]taskResult)
	}
	entry.confirmBuffered[res.confirmSeq] = res

	for {
		next := entry.confirmNextEmit + 1
		buffered, ok := entry.confirmBuffered[next]
		if !ok {
			break
		}
		delete(entry.confirmBuffered, next)
		entry.confirmNextEmit = next

		if buffered.err != nil {
			o.emitTranslationError(buffered.speakerID, buffered.err)
			continue
		}
		entry.state.ApplyConfirmedTranslation(buffered.sourceText, buffered.text)
		o.out <- confirmedTranslation(buffered.speakerID, buffered.text)
	}
}

func (o *Orchestrator) emitTranslationError(speakerID string, err error) {
	kind := ErrorTranslationTransient
	if errors.Is(err, translate.ErrFatal) {
		kind = ErrorTranslationFatal
	}
	o.emitError(speakerID, kind, err.Error())
}

func (o *Orchestrator) emitError(speakerID string, kind ErrorKind, message string) {
	o.out <- errorMessage(speakerID, kind, message)
}
