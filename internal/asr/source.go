// Package asr adapts the two external ASR vendors to the uniform
// asrevent.Event stream the rest of the pipeline consumes.
package asr

import (
	"context"

	"realtime-caption-translator/internal/asrevent"
)

// Source is the narrow capability the Session Orchestrator needs from any
// ASR vendor adapter: a stream of normalized events and a way to push audio
// in and tear the connection down.
type Source interface {
	// Events returns the channel the adapter publishes normalized events on.
	// The channel is closed once the adapter has emitted its final eos.
	Events() <-chan asrevent.Event

	// SendAudio forwards a raw PCM16 frame from the client to the vendor.
	SendAudio(ctx context.Context, frame []byte) error

	// Close tears down the vendor connection. Idempotent.
	Close() error
}

// eventChanCap is the bounded channel capacity mandated by spec §4.1:
// drop-oldest on overflow, with a counter metric.
const eventChanCap = 64

// droppingPublisher is the shared drop-oldest-on-overflow publish strategy
// used by both vendor adapters' internal fan-in.
type droppingPublisher struct {
	ch      chan asrevent.Event
	dropped uint64
}

func newDroppingPublisher() *droppingPublisher {
	return &droppingPublisher{ch: make(chan asrevent.Event, eventChanCap)}
}

// publish enqueues ev, dropping the oldest queued event and incrementing the
// drop counter if the channel is full.
func (p *droppingPublisher) publish(ev asrevent.Event) {
	for {
		select {
		case p.ch <- ev:
			return
		default:
		}
		select {
		case <-p.ch:
			p.dropped++
		default:
		}
	}
}

// Dropped returns the number of events dropped so far due to overflow.
func (p *droppingPublisher) Dropped() uint64 { return p.dropped }

func (p *droppingPublisher) events() <-chan asrevent.Event { return p.ch }

func (p *droppingPublisher) close() { close(p.ch) }
