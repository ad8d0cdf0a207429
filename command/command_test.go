package command

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvfeed/models"
	"tvfeed/session"
	"tvfeed/transport"
)

func echoServer(t *testing.T) (*httptest.Server, string) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRunner_AppliesCommandsInFIFOOrder(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)

	tr := transport.NewForTest(conn)
	mgr := session.NewManager(tr, zerolog.Nop())
	runner := NewRunner(mgr, tr, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	runner.Enqueue(Command{Kind: KindSetAuthToken, AuthToken: "tok1"})
	runner.Enqueue(Command{Kind: KindCreateChartSession})
	runner.Enqueue(Command{Kind: KindSetAuthToken, AuthToken: "tok2"})

	var frames []string
	for i := 0; i < 3; i++ {
		select {
		case f := <-received:
			frames = append(frames, f)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}

	assert.Contains(t, frames[0], "tok1")
	assert.Contains(t, frames[1], "chart_create_session")
	assert.Contains(t, frames[2], "tok2")

	runner.Shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not exit after shutdown")
	}
}

func TestRunner_ExitsWhenTransportCloses(t *testing.T) {
	srv, wsURL := echoServer(t)
	defer srv.Close()

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)

	tr := transport.NewForTest(conn)
	mgr := session.NewManager(tr, zerolog.Nop())
	runner := NewRunner(mgr, tr, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- runner.Run(context.Background()) }()

	require.NoError(t, tr.Close())

	select {
	case err := <-done:
		require.Error(t, err)
		var tvErr *models.Error
		require.ErrorAs(t, err, &tvErr)
		assert.Equal(t, models.ErrTransportClosed, tvErr.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not exit when transport closed")
	}
}
