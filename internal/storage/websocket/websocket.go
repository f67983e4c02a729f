// Package websocket streams a recording live to a telemetry server.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/pkg/core"
	"github.com/rflink/bridge/pkg/streaming"
)

// Backend streams samples over WebSocket. Session boundaries wait for the
// server's ack; samples are fire-and-forget.
type Backend struct {
	cfg     config.WebsocketConfig
	logger  *slog.Logger
	conn    *connection
	session string
	backoff time.Duration // first reconnect delay
}

// New creates a new WebSocket storage backend.
func New(cfg config.WebsocketConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:     cfg,
		logger:  logger.With("component", "websocket-storage"),
		backoff: time.Second,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	conn, err := newConnection(b.cfg.URL, b.cfg.Secret, b.backoff, b.logger)
	if err != nil {
		return err
	}
	if err := conn.dial(); err != nil {
		return err
	}
	b.conn = conn
	return nil
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.close()
}

// Dropped returns how many messages were discarded because the send queue
// was full.
func (b *Backend) Dropped() uint64 {
	if b.conn == nil {
		return 0
	}
	return b.conn.dropped.Load()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// StartSession announces the session and waits for the server's ack. The
// message is kept for replay after a reconnect.
func (b *Backend) StartSession(s *core.Session) error {
	data, err := marshalEnvelope(streaming.TypeStartSession, streaming.StartSessionPayload{Session: s})
	if err != nil {
		return err
	}
	b.session = s.ID
	b.conn.setReplay(data)
	return b.conn.sendAndWait(data, streaming.TypeStartSession, ackTimeout)
}

// EndSession sends end_session and waits for the server's ack.
func (b *Backend) EndSession() error {
	if b.session == "" {
		return nil
	}
	data, err := marshalEnvelope(streaming.TypeEndSession, map[string]string{"sessionId": b.session})
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndSession, ackTimeout)

	b.conn.setReplay(nil)
	b.session = ""
	return err
}

// RecordSample streams one sample.
func (b *Backend) RecordSample(s *core.Sample) error {
	if b.session == "" {
		return fmt.Errorf("no session started")
	}
	data, err := marshalEnvelope(streaming.TypeSample, streaming.SamplePayload{SessionID: b.session, Sample: s})
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}
