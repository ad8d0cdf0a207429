package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"tvfeed/transport"
)

// wsHarness is a fake TradingView endpoint: it records every frame the
// client sends and lets tests push frames back.
type wsHarness struct {
	srv  *httptest.Server
	mu   sync.Mutex
	got  []string
	recv chan string

	connMu sync.Mutex
	conn   *websocket.Conn
	ready  chan struct{}
}

func newWSHarness(t testing.TB) *wsHarness {
	t.Helper()
	h := &wsHarness{recv: make(chan string, 64), ready: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.connMu.Lock()
		h.conn = conn
		h.connMu.Unlock()
		close(h.ready)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			h.mu.Lock()
			h.got = append(h.got, string(data))
			h.mu.Unlock()
			select {
			case h.recv <- string(data):
			default:
			}
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

// dial opens a client-side transport against the harness.
func (h *wsHarness) dial(t testing.TB) *transport.Transport {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return transport.NewForTest(conn)
}

// push writes a raw text frame from the server to the client.
func (h *wsHarness) push(t testing.TB, frame string) {
	t.Helper()
	select {
	case <-h.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("server connection never established")
	}
	h.connMu.Lock()
	defer h.connMu.Unlock()
	require.NoError(t, h.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// frames snapshots everything received so far.
func (h *wsHarness) frames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.got...)
}

// waitFrame blocks until a frame containing substr arrives.
func (h *wsHarness) waitFrame(t testing.TB, substr string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-h.recv:
			if strings.Contains(f, substr) {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for frame containing %q; got %v", substr, h.frames())
		}
	}
}
