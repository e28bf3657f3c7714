package asr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"realtime-caption-translator/internal/asrevent"
)

// VendorA is a callback-SDK-style adapter: it dials the vendor's real-time
// endpoint, registers internal callbacks that translate vendor payloads
// into asrevent.Event, and publishes them into a bounded channel. Modeled
// directly on the AssemblyAI real-time client's session-begins / partial /
// final / session-terminated callback shape.
type VendorA struct {
	conn *websocket.Conn
	pub  *droppingPublisher
	done chan struct{}
}

type vendorAMessage struct {
	MessageType string `json:"message_type"`
	SpeakerID   string `json:"speaker_id"`
	Text        string `json:"text"`
	Words       []struct {
		Text    string `json:"text"`
		IsFinal bool   `json:"is_final"`
	} `json:"words"`
}

const (
	vendorAMsgSessionBegins     = "SessionBegins"
	vendorAMsgSessionTerminated = "SessionTerminated"
	vendorAMsgPartialTranscript = "PartialTranscript"
	vendorAMsgFinalTranscript   = "FinalTranscript"
	vendorAMsgKeepAlive         = "KeepAlive"
)

// DialVendorA opens the vendor-A real-time session and begins translating
// inbound callbacks into the uniform event stream. The first update event
// is only published after the session-begins handshake completes.
func DialVendorA(ctx context.Context, baseURL, token string) (*VendorA, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse vendor-a url: %w", err)
	}

	header := make(map[string][]string)
	if token != "" {
		header["Authorization"] = []string{token}
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial vendor-a: %w", err)
	}

	// Wait for the session-begins handshake before returning, so the caller
	// never sees an update event for a session that was never established.
	var begins vendorAMessage
	if err := wsjson.Read(ctx, conn, &begins); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("vendor-a handshake: %w", err)
	}
	if begins.MessageType != vendorAMsgSessionBegins {
		conn.Close(websocket.StatusInternalError, "unexpected handshake")
		return nil, errors.New("vendor-a: expected SessionBegins")
	}

	v := &VendorA{
		conn: conn,
		pub:  newDroppingPublisher(),
		done: make(chan struct{}),
	}
	go v.readLoop(ctx)
	return v, nil
}

func (v *VendorA) readLoop(ctx context.Context) {
	defer close(v.done)
	defer v.pub.close()

	for {
		var msg vendorAMessage
		if err := wsjson.Read(ctx, v.conn, &msg); err != nil {
			// Vendor disconnect: emit a synthetic eos so every active
			// speaker's pipeline can flush its remaining words.
			v.pub.publish(asrevent.Event{Kind: asrevent.KindEOS})
			return
		}

		switch msg.MessageType {
		case vendorAMsgKeepAlive:
			continue // swallow vendor keepalive frames
		case vendorAMsgSessionTerminated:
			v.pub.publish(asrevent.Event{Kind: asrevent.KindEOS})
			return
		case vendorAMsgPartialTranscript, vendorAMsgFinalTranscript:
			words := make([]asrevent.Word, 0, len(msg.Words))
			for _, w := range msg.Words {
				words = append(words, asrevent.Word{Text: w.Text, IsFinal: w.IsFinal})
			}
			speaker := msg.SpeakerID
			if speaker == "" {
				speaker = "default"
			}
			v.pub.publish(asrevent.Event{
				SpeakerID: speaker,
				Words:     words,
				Kind:      asrevent.KindUpdate,
			})
		default:
			log.Printf("asr/vendora: ignoring unknown message_type %q", msg.MessageType)
		}
	}
}

func (v *VendorA) Events() <-chan asrevent.Event { return v.pub.events() }

// SendAudio forwards a PCM16LE frame to the vendor as a binary message.
func (v *VendorA) SendAudio(ctx context.Context, frame []byte) error {
	return v.conn.Write(ctx, websocket.MessageBinary, frame)
}

func (v *VendorA) Close() error {
	terminate, _ := json.Marshal(map[string]bool{"terminate_session": true})
	_ = v.conn.Write(context.Background(), websocket.MessageText, terminate)
	return v.conn.Close(websocket.StatusNormalClosure, "")
}
