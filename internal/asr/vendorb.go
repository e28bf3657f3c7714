package asr

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"realtime-caption-translator/internal/asrevent"
)

// defaultSpeaker is used by VendorB, which lacks diarization: every event
// is attributed to a single synthetic speaker.
const defaultSpeaker = "default"

// energyThreshold mirrors the teacher's hasVoiceActivity gate: RMS energy
// below this is treated as silence and not forwarded to the vendor, saving
// vendor token spend on dead air. It never affects segmentation semantics —
// only whether a frame is sent upstream at all.
const energyThreshold = 0.5

// VendorB is a raw-streaming-socket proxy: client audio frames are
// forwarded unchanged to the vendor, and vendor messages are parsed back
// into the uniform event shape. The vendor performs no diarization.
type VendorB struct {
	conn *websocket.Conn
	pub  *droppingPublisher
	done chan struct{}
}

type vendorBMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Eos  bool   `json:"eos,omitempty"`
}

// DialVendorB opens the raw streaming socket to vendor B.
func DialVendorB(ctx context.Context, baseURL, authHeader string) (*VendorB, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse vendor-b url: %w", err)
	}

	header := make(map[string][]string)
	if authHeader != "" {
		header["Authorization"] = []string{authHeader}
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial vendor-b: %w", err)
	}

	v := &VendorB{
		conn: conn,
		pub:  newDroppingPublisher(),
		done: make(chan struct{}),
	}
	go v.readLoop(ctx)
	return v, nil
}

func (v *VendorB) readLoop(ctx context.Context) {
	defer close(v.done)
	defer v.pub.close()

	for {
		var msg vendorBMessage
		if err := wsjson.Read(ctx, v.conn, &msg); err != nil {
			v.pub.publish(asrevent.Event{Kind: asrevent.KindEOS})
			return
		}

		if msg.Type == "keepalive" {
			continue
		}
		if msg.Eos {
			v.pub.publish(asrevent.Event{Kind: asrevent.KindEOS})
			return
		}
		if msg.Type != "transcript" {
			continue
		}

		v.pub.publish(asrevent.Event{
			SpeakerID: defaultSpeaker,
			Words:     splitWords(msg.Text),
			Kind:      asrevent.KindUpdate,
		})
	}
}

// SendAudio forwards the client's audio frame to the vendor unchanged,
// unless the frame is pure silence (voice-activity gate).
func (v *VendorB) SendAudio(ctx context.Context, frame []byte) error {
	if !hasVoiceActivity(frame) {
		return nil
	}
	return v.conn.Write(ctx, websocket.MessageBinary, frame)
}

func (v *VendorB) Events() <-chan asrevent.Event { return v.pub.events() }

func (v *VendorB) Close() error {
	return v.conn.Close(websocket.StatusNormalClosure, "")
}

// hasVoiceActivity checks RMS energy of a PCM16LE frame. Adapted from the
// teacher's meeting package.
func hasVoiceActivity(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	n := len(frame) / 2
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	rms := sum / float64(n)
	energy := rms * 1000
	return energy > energyThreshold
}

// splitWords turns a vendor transcript string into word tokens. Vendor B
// returns plain space-separated text with no per-word finality flag, so
// every word is marked final.
func splitWords(text string) []asrevent.Word {
	var words []asrevent.Word
	start := -1
	for i := 0; i <= len(text); i++ {
		if i < len(text) && text[i] != ' ' {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			words = append(words, asrevent.Word{Text: text[start:i], IsFinal: true})
			start = -1
		}
	}
	return words
}
