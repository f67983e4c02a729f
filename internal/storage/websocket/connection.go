package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rflink/bridge/pkg/streaming"
)

const (
	sendChSize   = 10_000
	ackChSize    = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// connection owns one WebSocket link with a single writer goroutine. After a
// read or write error it redials with exponential backoff and replays the
// session start so the server can resume the stream.
type connection struct {
	mu      sync.Mutex
	conn    *ws.Conn
	stopped chan struct{} // closed when conn's writer exits
	closed  bool
	// replay is the encoded start_session of the open session.
	replay []byte

	sendCh chan []byte
	ackCh  chan streaming.AckMessage
	done   chan struct{}

	dropped atomic.Uint64
	url     string
	backoff time.Duration // first reconnect delay
	logger  *slog.Logger
}

func newConnection(rawURL, secret string, backoff time.Duration, logger *slog.Logger) (*connection, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if secret != "" {
		q := u.Query()
		q.Set("secret", secret)
		u.RawQuery = q.Encode()
	}
	return &connection{
		sendCh:  make(chan []byte, sendChSize),
		ackCh:   make(chan streaming.AckMessage, ackChSize),
		done:    make(chan struct{}),
		url:     u.String(),
		backoff: backoff,
		logger:  logger,
	}, nil
}

// dial connects and starts the read and write loops.
func (c *connection) dial() error {
	conn, _, err := ws.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	c.start(conn)
	return nil
}

func (c *connection) start(conn *ws.Conn) {
	stopped := make(chan struct{})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.stopped = stopped
	c.mu.Unlock()
	lost := make(chan struct{})
	var once sync.Once
	fail := func(err error) {
		once.Do(func() {
			close(lost)
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket connection lost", "error", err)
			go c.reconnect(conn)
		})
	}
	go func() {
		defer close(stopped)
		c.writeLoop(conn, lost, fail)
	}()
	go c.readLoop(conn, fail)
}

// writeLoop drains sendCh onto conn until conn fails or the connection
// closes. It is conn's only writer, so it also sends the close frame.
// Messages that fail to write are lost.
func (c *connection) writeLoop(conn *ws.Conn, lost <-chan struct{}, fail func(error)) {
	for {
		select {
		case <-c.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(
				ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			)
			return
		case <-lost:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				fail(err)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				fail(err)
				return
			}
		}
	}
}

// readLoop routes acks to ackCh.
func (c *connection) readLoop(conn *ws.Conn, fail func(error)) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			fail(err)
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != streaming.TypeAck {
			c.logger.Debug("Non-ack message received", "raw", string(message))
			continue
		}
		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("Ack channel full, dropping", "for", ack.For)
		}
	}
}

func (c *connection) reconnect(old *ws.Conn) {
	_ = old.Close()
	c.mu.Lock()
	if c.conn == old {
		c.conn = nil
	}
	c.mu.Unlock()

	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-c.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		conn, _, err := ws.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.mu.Lock()
		replay := c.replay
		c.mu.Unlock()
		if replay != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(ws.TextMessage, replay); err != nil {
				c.logger.Warn("Failed to replay start_session after reconnect", "error", err)
				_ = conn.Close()
				continue
			}
		}

		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		c.start(conn)
		return
	}
	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// send queues data for the writer. It never blocks; a full queue drops the
// message.
func (c *connection) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.dropped.Add(1)
		c.logger.Warn("WebSocket send channel full, dropping message")
	}
}

// sendAndWait queues data and waits for the server's ack of ackFor.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

func (c *connection) setReplay(data []byte) {
	c.mu.Lock()
	c.replay = data
	c.mu.Unlock()
}

// close sends a close frame and stops all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn, stopped := c.conn, c.stopped
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	select {
	case <-stopped:
	case <-time.After(writeWait):
	}
	return conn.Close()
}
