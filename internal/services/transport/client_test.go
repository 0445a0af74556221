package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/models"
)

// testRelay is a minimal relay: records control frames and lets tests push frames
type testRelay struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []models.ControlFrame
	accepts  int
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	r := &testRelay{}
	r.server = httptest.NewServer(http.HandlerFunc(r.handle))
	t.Cleanup(r.server.Close)
	return r
}

func (r *testRelay) handle(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns = append(r.conns, conn)
	r.accepts++
	r.mu.Unlock()

	for {
		var frame models.ControlFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		r.mu.Lock()
		r.received = append(r.received, frame)
		r.mu.Unlock()
	}
}

func (r *testRelay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *testRelay) latest() *websocket.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		return nil
	}
	return r.conns[len(r.conns)-1]
}

func (r *testRelay) frames() []models.ControlFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ControlFrame(nil), r.received...)
}

func (r *testRelay) acceptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepts
}

func newTestClient(url string) *Client {
	return NewClient(Options{
		URL:               url,
		ReconnectInterval: 20 * time.Millisecond,
		HandshakeTimeout:  time.Second,
		WriteTimeout:      time.Second,
	}, arbor.NewLogger())
}

func TestSendBeforeConnect(t *testing.T) {
	c := newTestClient("ws://127.0.0.1:1/ws")
	err := c.Send(context.Background(), models.ControlFrame{Type: models.ControlSubscribe, Channel: "job:1"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, c.IsConnected())
	assert.Equal(t, models.ConnectionDisconnected, c.Status())
}

func TestConnectAndSendControlFrame(t *testing.T) {
	relay := newTestRelay(t)
	c := newTestClient(relay.url())
	defer c.Close()

	var statuses []models.ConnectionStatus
	var mu sync.Mutex
	c.OnStatusChange(func(s models.ConnectionStatus) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, s)
	})

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())

	require.NoError(t, c.Send(context.Background(), models.ControlFrame{Type: models.ControlSubscribe, Channel: "job:abc"}))

	assert.Eventually(t, func() bool { return len(relay.frames()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.ControlFrame{Type: models.ControlSubscribe, Channel: "job:abc"}, relay.frames()[0])

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.ConnectionStatus{models.ConnectionConnecting, models.ConnectionConnected}, statuses)
}

func TestControlFrameWireShape(t *testing.T) {
	data, err := json.Marshal(models.ControlFrame{Type: models.ControlUnsubscribe, Channel: "job:1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"UNSUBSCRIBE","channel":"job:1"}`, string(data))
}

func TestRunDeliversFramesInOrder(t *testing.T) {
	relay := newTestRelay(t)
	c := newTestClient(relay.url())

	var mu sync.Mutex
	var got []string
	c.OnMessage(func(raw []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(raw))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return relay.latest() != nil }, 2*time.Second, 10*time.Millisecond)

	conn := relay.latest()
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte{'0' + byte(i)}))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, got)
	mu.Unlock()

	cancel()
	select {
	case err := <-runDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunReconnectsAfterRelayDrop(t *testing.T) {
	relay := newTestRelay(t)
	c := newTestClient(relay.url())
	defer c.Close()

	var mu sync.Mutex
	var statuses []models.ConnectionStatus
	c.OnStatusChange(func(s models.ConnectionStatus) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, s)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.Eventually(t, func() bool { return relay.acceptCount() == 1 && c.IsConnected() }, 2*time.Second, 10*time.Millisecond)

	relay.latest().Close()

	assert.Eventually(t, func() bool { return relay.acceptCount() == 2 && c.IsConnected() }, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, statuses, models.ConnectionDisconnected)
	assert.Equal(t, models.ConnectionConnected, statuses[len(statuses)-1])
}

func TestCloseStopsRun(t *testing.T) {
	relay := newTestRelay(t)
	c := newTestClient(relay.url())

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(context.Background()) }()
	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case err := <-runDone:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after Close")
	}
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}

func TestDialFailureReportsDisconnected(t *testing.T) {
	relay := newTestRelay(t)
	url := relay.url()
	relay.server.Close()

	c := newTestClient(url)
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.ConnectionDisconnected, c.Status())
}
