package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/pkg/core"
	"github.com/rflink/bridge/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messageLog struct {
	mu       sync.Mutex
	messages []streaming.Envelope
	secrets  []string
}

func (m *messageLog) add(env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) all() []streaming.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]streaming.Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func (m *messageLog) count(msgType string) int {
	n := 0
	for _, env := range m.all() {
		if env.Type == msgType {
			n++
		}
	}
	return n
}

// testServer upgrades to WebSocket, records messages and acks session
// boundaries. dropAfter > 0 makes it hang up after that many messages on
// the first connection.
func testServer(t *testing.T, dropAfter int) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}
	var first sync.Once

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.mu.Lock()
		ml.secrets = append(ml.secrets, r.URL.Query().Get("secret"))
		ml.mu.Unlock()

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		limit := 0
		first.Do(func() { limit = dropAfter })
		seen := 0
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)
			seen++

			if env.Type == streaming.TypeStartSession || env.Type == streaming.TypeEndSession {
				data, _ := json.Marshal(streaming.AckMessage{Type: streaming.TypeAck, For: env.Type})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
			if limit > 0 && seen >= limit {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, ml
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newBackend(t *testing.T, srv *httptest.Server) *Backend {
	t.Helper()
	b := New(config.WebsocketConfig{URL: wsURL(srv) + "/api/telemetry", Secret: "s3cret"}, nil)
	b.backoff = 10 * time.Millisecond
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func session() *core.Session {
	return &core.Session{ID: "ws1", Name: "live", Source: "remote", Started: time.Now()}
}

func TestStartAndEndSession(t *testing.T) {
	srv, ml := testServer(t, 0)
	b := newBackend(t, srv)

	require.NoError(t, b.StartSession(session()))
	require.NoError(t, b.EndSession())

	msgs := ml.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, streaming.TypeStartSession, msgs[0].Type)
	assert.Equal(t, streaming.TypeEndSession, msgs[1].Type)

	var start streaming.StartSessionPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &start))
	assert.Equal(t, "ws1", start.Session.ID)
	assert.Equal(t, []string{"s3cret"}, ml.secrets)
}

func TestSamplesStreamBeforeEnd(t *testing.T) {
	srv, ml := testServer(t, 0)
	b := newBackend(t, srv)

	require.NoError(t, b.StartSession(session()))
	for i := uint64(1); i <= 5; i++ {
		s := &core.Sample{Seq: i, Time: time.Now(), Inputs: core.NeutralInputs()}
		s.State.Airspeed = float64(i)
		require.NoError(t, b.RecordSample(s))
	}
	require.NoError(t, b.EndSession())

	msgs := ml.all()
	require.Len(t, msgs, 7)
	var sample streaming.SamplePayload
	require.NoError(t, json.Unmarshal(msgs[3].Payload, &sample))
	assert.Equal(t, "ws1", sample.SessionID)
	assert.Equal(t, uint64(3), sample.Sample.Seq)
	assert.Equal(t, 3.0, sample.Sample.State.Airspeed)
	assert.Zero(t, b.Dropped())
}

func TestRecordSample_RequiresSession(t *testing.T) {
	srv, _ := testServer(t, 0)
	b := newBackend(t, srv)
	assert.Error(t, b.RecordSample(&core.Sample{}))
	assert.NoError(t, b.EndSession())
}

func TestReconnectReplaysStart(t *testing.T) {
	srv, ml := testServer(t, 2)
	b := newBackend(t, srv)

	require.NoError(t, b.StartSession(session()))
	require.NoError(t, b.RecordSample(&core.Sample{Seq: 1}))

	// The server hangs up after the sample; the reconnect replays the start.
	require.Eventually(t, func() bool {
		return ml.count(streaming.TypeStartSession) == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, b.EndSession())
	assert.Equal(t, streaming.TypeEndSession, ml.all()[len(ml.all())-1].Type)
}

func TestInit_DialFailure(t *testing.T) {
	b := New(config.WebsocketConfig{URL: "ws://127.0.0.1:1/api"}, nil)
	assert.Error(t, b.Init())
	assert.NoError(t, b.Close())
}

func TestInit_BadURL(t *testing.T) {
	b := New(config.WebsocketConfig{URL: "://bad"}, nil)
	assert.Error(t, b.Init())
}
