package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queuewatch/internal/auth"
	"queuewatch/internal/monitor"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func supportTable() *monitor.Table {
	table := monitor.NewTable(nil)
	table.Hydrate(monitor.Directory{
		"100": {ID: "100", Name: "Support", Members: []monitor.DirectoryMember{
			{Extension: "9000", Name: "Ana", Interface: "PJSIP/9000"},
		}},
	}, nil)
	return table
}

func startHub(t *testing.T, state SnapshotSource, cfg Config) *Hub {
	t.Helper()
	hub := NewHub(state, cfg, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func startServer(t *testing.T, hub *Hub, cfg HandlerConfig) string {
	t.Helper()
	srv := httptest.NewServer(Monitor(hub, cfg, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestObserverReceivesSnapshotFirst(t *testing.T) {
	table := supportTable()
	hub := startHub(t, table, Config{})
	conn := dial(t, startServer(t, hub, HandlerConfig{}))

	f := readFrame(t, conn)
	require.Equal(t, monitor.ChannelInitialState, f.Event)

	var raw struct {
		Queues map[string][]map[string]any `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &raw))
	require.Len(t, raw.Queues["100"], 1)
	m := raw.Queues["100"][0]
	assert.Equal(t, "9000", m["member"])
	assert.Equal(t, "Ana", m["name"])
	assert.Equal(t, "4", m["status"])
	assert.Equal(t, false, m["paused"])
	assert.Equal(t, float64(0), m["callsTaken"])
	assert.Equal(t, float64(0), m["callsMade"])

	var snap monitor.Snapshot
	require.NoError(t, json.Unmarshal(f.Data, &snap))
	assert.Equal(t, "Support", snap.QueueNames["100"])
	assert.Equal(t, monitor.StatusUnavailable, snap.Queues["100"][0].Status)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(monitor.ChannelQueueCallEnter, monitor.CallerUpdate{Queue: "100", Count: 1})
	f = readFrame(t, conn)
	assert.Equal(t, monitor.ChannelQueueCallEnter, f.Event)
	assert.JSONEq(t, `{"queue":"100","count":1}`, string(f.Data))
}

func TestNoDeltaPrecedesSnapshot(t *testing.T) {
	table := supportTable()
	hub := startHub(t, table, Config{SendBuffer: 1024})
	url := startServer(t, hub, HandlerConfig{})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			m := table.Upsert("100", "9000", "", func(m *monitor.MemberState) { m.CallsTaken = i })
			hub.Publish(monitor.ChannelQueueMemberUpdate, m)
			time.Sleep(time.Millisecond)
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for i := 0; i < 10; i++ {
		conn := dial(t, url)
		f := readFrame(t, conn)
		assert.Equal(t, monitor.ChannelInitialState, f.Event)

		var snap monitor.Snapshot
		require.NoError(t, json.Unmarshal(f.Data, &snap))
		assert.ElementsMatch(t, table.QueueIDs(), keys(snap.Queues))
		conn.Close()
	}
}

func keys(m map[string][]monitor.MemberState) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := startHub(t, supportTable(), Config{SendBuffer: 1})

	c := &Client{id: "slow", hub: hub, send: make(chan []byte, 1), logger: zerolog.Nop()}
	require.True(t, hub.Register(c))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// the snapshot fills the buffer; the next delta overflows it
	hub.Publish(monitor.ChannelQueueCallLeave, monitor.CallerUpdate{Queue: "100"})
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	var f frame
	require.NoError(t, json.Unmarshal(<-c.send, &f))
	assert.Equal(t, monitor.ChannelInitialState, f.Event)
	_, ok := <-c.send
	assert.False(t, ok)
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub(supportTable(), Config{}, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5000; i++ {
			hub.Publish(monitor.ChannelQueueCallEnter, monitor.CallerUpdate{Queue: "100", Count: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked without a running hub")
	}
}

func TestHubStopClosesObservers(t *testing.T) {
	hub := NewHub(supportTable(), Config{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	conn := dial(t, startServer(t, hub, HandlerConfig{}))
	readFrame(t, conn)

	cancel()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived), "got %v", err)

	c := &Client{id: "late", hub: hub, send: make(chan []byte, 1)}
	assert.False(t, hub.Register(c))
}

func TestTokenGate(t *testing.T) {
	const secret = "s3cret"
	hub := startHub(t, supportTable(), Config{})
	url := startServer(t, hub, HandlerConfig{Secret: secret})

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Username: "supervisor",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	conn := dial(t, url+"?token="+tok)
	assert.Equal(t, monitor.ChannelInitialState, readFrame(t, conn).Event)
}

func TestOriginCheck(t *testing.T) {
	hub := startHub(t, supportTable(), Config{})
	url := startServer(t, hub, HandlerConfig{AllowedOrigins: []string{"http://dashboard.local"}})

	h := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, h)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	h = http.Header{"Origin": []string{"http://dashboard.local"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, h)
	require.NoError(t, err)
	conn.Close()
}

func TestQueuesHandler(t *testing.T) {
	table := supportTable()
	table.SetWaiting("100", 2)

	rec := httptest.NewRecorder()
	Queues(table, zerolog.Nop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queues", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap monitor.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.Stats.CallsWaiting["100"])
	assert.Equal(t, "Ana", snap.Queues["100"][0].Name)
}

func TestDroppedUpdateResyncsObservers(t *testing.T) {
	table := supportTable()
	hub := NewHub(table, Config{}, zerolog.Nop())

	c := &Client{id: "observer", hub: hub, send: make(chan []byte, 4096), logger: zerolog.Nop()}
	hub.clients[c] = struct{}{}

	// overflow the inbox before the loop runs
	total := cap(hub.broadcast) + 10
	for i := 0; i < total; i++ {
		hub.Publish(monitor.ChannelQueueCallEnter, monitor.CallerUpdate{Queue: "100", Count: i})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	var events []string
	deadline := time.After(2 * time.Second)
	for len(events) < cap(hub.broadcast)+1 {
		select {
		case msg := <-c.send:
			var f frame
			require.NoError(t, json.Unmarshal(msg, &f))
			events = append(events, f.Event)
		case <-deadline:
			t.Fatalf("got %d frames", len(events))
		}
	}

	// every queued delta comes first, the snapshot last
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, monitor.ChannelQueueCallEnter, ev)
	}
	assert.Equal(t, monitor.ChannelInitialState, events[len(events)-1])
}

type failingWriter struct {
	header http.Header
}

func (w *failingWriter) Header() http.Header       { return w.header }
func (w *failingWriter) WriteHeader(int)           {}
func (w *failingWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestQueuesHandlerLogsWriteFailure(t *testing.T) {
	var buf bytes.Buffer
	h := Queues(supportTable(), zerolog.New(&buf))

	h.ServeHTTP(&failingWriter{header: http.Header{}}, httptest.NewRequest(http.MethodGet, "/api/queues", nil))

	assert.Contains(t, buf.String(), "failed to write snapshot")
	assert.Contains(t, buf.String(), "connection reset")
}
