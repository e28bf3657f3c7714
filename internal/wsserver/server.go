// Package wsserver exposes the two vendor-specific client upgrade
// endpoints and the health diagnostics endpoint described in spec §6 and
// SPEC_FULL.md §4.9, adapted from the teacher's cmd/server HTTP wiring
// (plain net/http, no router framework, gorilla/websocket for the
// client-facing duplex channel).
package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/text/language"

	"realtime-caption-translator/internal/asr"
	"realtime-caption-translator/internal/config"
	"realtime-caption-translator/internal/session"
	"realtime-caption-translator/internal/splitter"
	"realtime-caption-translator/internal/tone"
	"realtime-caption-translator/internal/translate"
)

// Server holds the shared, long-lived dependencies every upgraded
// connection is handed: vendor credentials, the shared tone/splitter
// clients, and the factory that opens each session's own persistent speed
// backend connection (opened once per session in every translator_mode and
// shared by that session's speakers, per spec §4.4).
type Server struct {
	cfg    config.Config
	tone   tone.Detector
	split  splitter.Splitter
	logger *log.Logger

	upgrader websocket.Upgrader

	newSpeedBackend func(ctx context.Context) (translate.Translator, error)
}

// New constructs a Server from process configuration, wiring the shared
// tone detector and splitter HTTP clients once for the process lifetime.
func New(cfg config.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:    cfg,
		tone:   tone.NewHTTPDetector(cfg.ToneBaseURL),
		split:  splitter.NewHTTPSplitter(cfg.SplitterBaseURL),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		newSpeedBackend: func(ctx context.Context) (translate.Translator, error) {
			return translate.NewSpeedBackend(ctx, cfg.TranslateSpeedHost, cfg.TranslateSpeedToken)
		},
	}
}

// Routes registers the HTTP handlers on mux, matching the teacher's
// stdlib-net/http-only convention (no router framework).
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/stt/vendor-a", s.handleVendorA)
	mux.HandleFunc("/stt/vendor-b", s.handleVendorB)
	mux.HandleFunc("/healthz", s.handleHealthz)
}

func (s *Server) handleVendorA(w http.ResponseWriter, r *http.Request) {
	s.handleUpgrade(w, r, func(ctx context.Context) (asr.Source, error) {
		return asr.DialVendorA(ctx, s.cfg.ASRVendorABaseURL, s.cfg.ASRVendorAToken)
	})
}

func (s *Server) handleVendorB(w http.ResponseWriter, r *http.Request) {
	s.handleUpgrade(w, r, func(ctx context.Context) (asr.Source, error) {
		return asr.DialVendorB(ctx, s.cfg.ASRVendorBBaseURL, s.cfg.ASRVendorBToken)
	})
}

// handleHealthz reports process liveness, matching the teacher's plain
// JSON health handler shape.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleUpgrade parses session config from query parameters, upgrades the
// client connection, dials the requested ASR vendor, constructs the
// translator for translator_mode, and runs the Session Orchestrator until
// either side disconnects.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request, dial func(ctx context.Context) (asr.Source, error)) {
	cfg, err := parseConfig(r, s.cfg.DefaultTranslatorMode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("wsserver: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	src, err := dial(ctx)
	if err != nil {
		s.logger.Printf("wsserver: asr dial failed: %v", err)
		_ = conn.WriteJSON(map[string]string{"kind": "error", "error_kind": "asr_fatal", "message": err.Error()})
		return
	}
	defer src.Close()

	translator, err := s.buildTranslator(ctx, cfg)
	if err != nil {
		s.logger.Printf("wsserver: translator init failed: %v", err)
		_ = conn.WriteJSON(map[string]string{"kind": "error", "error_kind": "translation_fatal", "message": err.Error()})
		return
	}
	defer translator.Close()

	out := make(chan session.OutboundMessage, 64)
	go s.writeLoop(conn, out)

	sess := session.NewSession(cfg, translator)
	orch := session.NewOrchestrator(sess, s.tone, s.split, out, s.logger)

	go s.readLoop(ctx, conn, src, cancel)

	if err := orch.Run(ctx, src); err != nil {
		s.logger.Printf("wsserver: session ended: %v", err)
	}
}

// readLoop forwards inbound client audio frames to the ASR vendor. A
// text frame is treated as an explicit end-of-session signal.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, src asr.Source, cancel context.CancelFunc) {
	defer cancel()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if err := src.SendAudio(ctx, data); err != nil {
				s.logger.Printf("wsserver: send audio failed: %v", err)
				return
			}
		case websocket.TextMessage, websocket.CloseMessage:
			return
		}
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, out <-chan session.OutboundMessage) {
	for msg := range out {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// parseConfig reads source_lang, target_lang, aggressiveness,
// partial_interval and translator_mode from the upgrade request's query
// string (spec §6).
func parseConfig(r *http.Request, defaultMode string) (session.Config, error) {
	q := r.URL.Query()

	aggressivenessRaw := q.Get("aggressiveness")
	aggressivenessVal := 1
	if aggressivenessRaw != "" {
		v, err := strconv.Atoi(aggressivenessRaw)
		if err != nil {
			return session.Config{}, err
		}
		aggressivenessVal = v
	}
	aggressiveness, err := session.ParseAggressiveness(aggressivenessVal)
	if err != nil {
		return session.Config{}, err
	}

	partialInterval := session.DefaultPartialInterval
	if raw := q.Get("partial_interval"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return session.Config{}, err
		}
		partialInterval = v
	}

	mode := session.TranslatorMode(q.Get("translator_mode"))
	if mode == "" {
		mode = session.TranslatorMode(defaultMode)
	}

	// source_lang is optional (vendor-B autodetects); target_lang is
	// required. Both are canonicalized against BCP 47 rather than matched
	// as opaque strings, per spec §6's "ISO code" parameters.
	sourceLang, err := canonicalLang(q.Get("source_lang"), true)
	if err != nil {
		return session.Config{}, err
	}
	targetLang, err := canonicalLang(q.Get("target_lang"), false)
	if err != nil {
		return session.Config{}, err
	}

	return session.Config{
		SessionID:       uuid.NewString(),
		SourceLang:      sourceLang,
		TargetLang:      targetLang,
		Aggressiveness:  aggressiveness,
		PartialInterval: partialInterval,
		TranslatorMode:  mode,
	}, nil
}

// canonicalLang validates and canonicalizes a query-string language tag
// (spec §6: source_lang/target_lang are ISO codes). An empty value is
// allowed only when optional (source_lang, for vendor-B's autodetection).
func canonicalLang(raw string, optional bool) (string, error) {
	if raw == "" {
		if optional {
			return "", nil
		}
		return "", fmt.Errorf("target_lang is required")
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid language tag %q: %w", raw, err)
	}
	return tag.String(), nil
}

// buildTranslator wires both backends into a Router: the speed backend's
// single persistent connection is opened once per session and used for
// every partial translation regardless of mode, while confirmed
// translations go to whichever backend translator_mode selects (spec
// §4.4).
func (s *Server) buildTranslator(ctx context.Context, cfg session.Config) (translate.Translator, error) {
	speed, err := s.newSpeedBackend(ctx)
	if err != nil {
		return nil, err
	}
	quality := translate.NewQualityBackend(s.cfg.TranslateQualityBaseURL, s.cfg.TranslateQualityAPIKey)
	return &translate.Router{
		Speed:            speed,
		Quality:          quality,
		ConfirmUsesSpeed: cfg.TranslatorMode == session.TranslatorModeSpeed,
	}, nil
}
