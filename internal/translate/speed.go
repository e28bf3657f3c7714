package translate

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// SpeedBackend is a single persistent bidirectional connection to an LLM
// translation backend, shared by every speaker in a session. Modeled on
// the teacher-adjacent lokutor TTS client's mutex-guarded persistent
// socket and the AssemblyAI real-time client's id-correlated read loop.
type SpeedBackend struct {
	host  string
	token string

	writeMu sync.Mutex
	conn    *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan speedResult

	closed   chan struct{}
	closeMu  sync.Mutex
	isClosed bool
}

type speedRequest struct {
	RequestID  string `json:"request_id"`
	Text       string `json:"text"`
	TargetLang string `json:"target_lang"`
	Prompt     string `json:"prompt"`
}

type speedWireResponse struct {
	RequestID   string `json:"request_id"`
	Translation string `json:"translation"`
	Error       string `json:"error,omitempty"`
	Ping        bool   `json:"ping,omitempty"`
}

type speedResult struct {
	translation string
	err         error
}

// reconnectBackoff is the exponential backoff schedule from spec §4.4:
// 100ms, 400ms, 1.6s, capped at 10s.
var reconnectBackoff = []time.Duration{
	100 * time.Millisecond,
	400 * time.Millisecond,
	1600 * time.Millisecond,
}

const reconnectBackoffCap = 10 * time.Second

const speedPingInterval = 20 * time.Second

// speedRequestTimeout is the per-request soft deadline from spec §5
// "Timeouts": expiry is treated as a translation error without tearing
// down the persistent connection.
const speedRequestTimeout = 5 * time.Second

// NewSpeedBackend dials the persistent connection and starts the
// background read/reconnect loop and the inactivity ping ticker.
func NewSpeedBackend(ctx context.Context, host, token string) (*SpeedBackend, error) {
	s := &SpeedBackend{
		host:    host,
		token:   token,
		pending: make(map[string]chan speedResult),
		closed:  make(chan struct{}),
	}
	if err := s.dial(ctx); err != nil {
		return nil, err
	}
	go s.readLoop(ctx)
	go s.pingLoop(ctx)
	return s, nil
}

func (s *SpeedBackend) dial(ctx context.Context) error {
	u := url.URL{Scheme: "wss", Host: s.host, Path: "/translate/stream"}
	header := make(map[string][]string)
	if s.token != "" {
		header["Authorization"] = []string{s.token}
	}
	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("dial speed backend: %w", err)
	}

	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()
	return nil
}

// readLoop dispatches responses to their waiting caller by request id, and
// triggers reconnect-with-backoff on connection loss, fail-fasting every
// in-flight request.
func (s *SpeedBackend) readLoop(ctx context.Context) {
	for {
		select {
		case <-s.closed:
			return
		default:
		}

		s.writeMu.Lock()
		conn := s.conn
		s.writeMu.Unlock()

		var resp speedWireResponse
		if err := wsjson.Read(ctx, conn, &resp); err != nil {
			s.failAllPending(fmt.Errorf("%w: connection lost: %v", ErrTransient, err))
			if !s.reconnectWithBackoff(ctx) {
				return
			}
			continue
		}

		if resp.Ping {
			continue
		}

		s.deliver(resp.RequestID, resp.Translation, resp.Error)
	}
}

func (s *SpeedBackend) deliver(requestID, translation, errMsg string) {
	s.pendingMu.Lock()
	ch, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.pendingMu.Unlock()
	if !ok {
		return
	}
	if errMsg != "" {
		ch <- speedResult{err: fmt.Errorf("%w: %s", ErrTransient, errMsg)}
		return
	}
	ch <- speedResult{translation: translation}
}

func (s *SpeedBackend) failAllPending(err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		ch <- speedResult{err: err}
		delete(s.pending, id)
	}
}

func (s *SpeedBackend) reconnectWithBackoff(ctx context.Context) bool {
	for attempt := 0; ; attempt++ {
		select {
		case <-s.closed:
			return false
		case <-ctx.Done():
			return false
		default:
		}

		delay := reconnectBackoffCap
		if attempt < len(reconnectBackoff) {
			delay = reconnectBackoff[attempt]
		}

		select {
		case <-time.After(delay):
		case <-s.closed:
			return false
		case <-ctx.Done():
			return false
		}

		if err := s.dial(ctx); err == nil {
			return true
		}
	}
}

func (s *SpeedBackend) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(speedPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			conn := s.conn
			_ = wsjson.Write(ctx, conn, map[string]bool{"ping": true})
			s.writeMu.Unlock()
		}
	}
}

func (s *SpeedBackend) translate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, speedRequestTimeout)
	defer cancel()

	id := uuid.NewString()
	resultCh := make(chan speedResult, 1)

	s.pendingMu.Lock()
	s.pending[id] = resultCh
	s.pendingMu.Unlock()

	wireReq := speedRequest{
		RequestID:  id,
		Text:       req.Text,
		TargetLang: req.TargetLang,
		Prompt:     buildPrompt(req),
	}

	s.writeMu.Lock()
	conn := s.conn
	err := wsjson.Write(ctx, conn, wireReq)
	s.writeMu.Unlock()
	if err != nil {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
		return "", fmt.Errorf("%w: write request: %v", ErrTransient, err)
	}

	select {
	case res := <-resultCh:
		return res.translation, res.err
	case <-ctx.Done():
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
	}
}

func (s *SpeedBackend) TranslateConfirmed(ctx context.Context, req Request) (string, error) {
	return s.translate(ctx, req)
}

func (s *SpeedBackend) TranslatePartial(ctx context.Context, req Request) (string, error) {
	return s.translate(ctx, req)
}

func (s *SpeedBackend) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.isClosed {
		return nil
	}
	s.isClosed = true
	close(s.closed)

	s.writeMu.Lock()
	conn := s.conn
	s.writeMu.Unlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}
