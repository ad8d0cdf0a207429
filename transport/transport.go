// Package transport owns the single secure WebSocket connection to
// TradingView's streaming host. It knows nothing about the protocol
// framing or the session model above it — just dial, send, receive,
// ping, and close.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Host selects which TradingView streaming host to dial.
type Host string

const (
	HostData       Host = "data"
	HostProData    Host = "prodata"
	HostWidgetData Host = "widgetdata"
	HostMobileData Host = "mobile-data"
)

// DefaultHost is what unauthenticated and pro sessions both accept.
const DefaultHost = HostProData

func (h Host) url() string {
	host := string(h)
	if host == "" {
		host = string(DefaultHost)
	}
	return fmt.Sprintf("wss://%s.tradingview.com/socket.io/websocket", host)
}

const (
	// ReadTimeout is the per-read deadline.
	ReadTimeout = 30 * time.Second
	// bufferSize sizes both read and write buffers; full-history chart
	// dumps routinely exceed 256 KiB.
	bufferSize = 1 << 20

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	origin = "https://www.tradingview.com/"
)

// Transport is a single TLS WebSocket connection. Only one goroutine may
// call Receive at a time (the reader task); Send and Ping may be called
// concurrently with Receive and with each other, each serialized by an
// internal write mutex.
type Transport struct {
	conn        *websocket.Conn
	writeM      sync.Mutex
	closed      atomic.Bool
	closeOnce   sync.Once
	done        chan struct{}
	log         zerolog.Logger
	readTimeout time.Duration // defaults to ReadTimeout; overridable in tests
}

// markClosed flips is_closed and closes the Done() notifier exactly once.
func (t *Transport) markClosed() {
	t.closed.Store(true)
	t.closeOnce.Do(func() { close(t.done) })
}

// Done returns a channel that closes the moment the transport
// transitions to closed — the notifier the command runner selects on.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Dial opens a TLS WebSocket connection to the given host with the
// required Origin/User-Agent headers and ≥1 MiB read/write buffers.
func Dial(ctx context.Context, host Host, log zerolog.Logger) (*Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   bufferSize,
		WriteBufferSize:  bufferSize,
	}

	headers := http.Header{}
	headers.Set("Origin", origin)
	headers.Set("User-Agent", userAgent)

	conn, _, err := dialer.DialContext(ctx, host.url(), headers)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", host, err)
	}

	t := &Transport{conn: conn, log: log, readTimeout: ReadTimeout, done: make(chan struct{})}
	conn.SetCloseHandler(func(code int, text string) error {
		t.markClosed()
		return nil
	})
	log.Debug().Str("host", string(host)).Msg("transport: connected")
	return t, nil
}

// NewForTest wraps an already-established *websocket.Conn (e.g. dialed
// against an httptest server) as a Transport, for tests in other packages
// that need a real connection without TradingView's actual host.
func NewForTest(conn *websocket.Conn) *Transport {
	return &Transport{conn: conn, log: zerolog.Nop(), readTimeout: ReadTimeout, done: make(chan struct{})}
}

// Send writes a single text frame. Fails fast once the transport is closed.
func (t *Transport) Send(text string) error {
	if t.closed.Load() {
		return fmt.Errorf("transport: send on closed connection")
	}
	t.writeM.Lock()
	defer t.writeM.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.markClosed()
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Ping sends a WebSocket-level ping frame (the 10s application
// heartbeat, distinct from the protocol-level numeric heartbeat that
// dispatch echoes).
func (t *Transport) Ping() error {
	if t.closed.Load() {
		return fmt.Errorf("transport: ping on closed connection")
	}
	t.writeM.Lock()
	defer t.writeM.Unlock()
	if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
		t.markClosed()
		return fmt.Errorf("transport: ping: %w", err)
	}
	return nil
}

// ErrReadTimeout is returned by Receive when the 30s read deadline fires
// without a frame arriving. Not terminal: the caller should send a ping
// and keep reading.
var ErrReadTimeout = fmt.Errorf("transport: read timeout")

// Receive blocks for the next text frame, up to ReadTimeout. On timeout it
// returns ErrReadTimeout (not terminal). Any other read error flips
// IsClosed and is terminal.
func (t *Transport) Receive() (string, error) {
	timeout := t.readTimeout
	if timeout <= 0 {
		timeout = ReadTimeout
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("transport: set read deadline: %w", err)
	}
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return "", ErrReadTimeout
		}
		t.markClosed()
		return "", fmt.Errorf("transport: read: %w", err)
	}
	return string(data), nil
}

// IsClosed reports whether the connection has been torn down, by close
// frame, explicit Close, or a fatal read/write error.
func (t *Transport) IsClosed() bool { return t.closed.Load() }

// Close tears down the connection. Idempotent.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		// Already marked closed (explicit Close, close frame, or I/O
		// error): skip the close handshake but still release the socket.
		_ = t.conn.Close()
		return nil
	}
	t.closeOnce.Do(func() { close(t.done) })
	t.writeM.Lock()
	defer t.writeM.Unlock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}
