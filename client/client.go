// Package client wires transport, session, command, event, dispatch, and
// recovery into the public streaming client. One Client owns one socket,
// one reader goroutine, and one command runner; everything the application
// sees comes out of Events() as typed values.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tvfeed/command"
	"tvfeed/dispatch"
	"tvfeed/event"
	"tvfeed/metrics"
	"tvfeed/models"
	"tvfeed/notify"
	"tvfeed/recovery"
	"tvfeed/session"
	"tvfeed/transport"
)

// Client is a live connection to TradingView's streaming endpoint. It
// satisfies command.Conn with a handle that survives reconnects, so the
// command runner and session manager never hold a stale socket.
type Client struct {
	cfg Config
	log zerolog.Logger

	trMu sync.RWMutex
	tr   *transport.Transport

	manager  *session.Manager
	runner   *command.Runner
	disp     *dispatch.Dispatcher
	events   *event.Channel
	tracker  *recovery.ErrorTracker
	recon    *recovery.Reconnector
	notifier *notify.Notifier

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New dials the configured host and starts the reader and command runner.
// ctx bounds the dial only; the client's own lifetime ends with Close.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	tr, err := transport.Dial(ctx, cfg.Server, cfg.Logger)
	if err != nil {
		return nil, models.WrapError(models.ErrTransportClosed, "client: dial", err)
	}
	metrics.ConnectsTotal.Inc()
	return NewWithTransport(tr, cfg), nil
}

// NewWithTransport wraps an already-established transport. Used by tests
// that dial an httptest server, and by callers with custom dialing needs.
func NewWithTransport(tr *transport.Transport, cfg Config) *Client {
	cfg = cfg.withDefaults()
	cctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		cfg:      cfg,
		log:      cfg.Logger,
		tr:       tr,
		events:   event.NewChannel(cfg.EventBuffer, cfg.Logger),
		tracker:  recovery.NewErrorTracker(cfg.Logger),
		recon:    recovery.NewReconnector(cfg.Logger),
		notifier: notify.New(cfg.Notify, cfg.Logger),
		ctx:      cctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.manager = session.NewManager(c, cfg.Logger)
	c.disp = dispatch.New(c.manager, observedSink{c}, c, cfg.Logger)
	c.runner = command.NewRunner(c.manager, c, cfg.Logger)
	metrics.ConnectionState.Set(1)

	if err := c.manager.SetAuthToken(cfg.AuthToken); err != nil {
		c.log.Warn().Err(err).Msg("client: initial set_auth_token failed")
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.runLoop()
	return c
}

// observedSink sits between the dispatcher and the application's event
// channel so the recovery state machine sees every Error event before the
// consumer does.
type observedSink struct{ c *Client }

func (s observedSink) Push(e event.Event) {
	metrics.EventsEmittedTotal.WithLabelValues(e.Kind.String()).Inc()
	if e.Kind == event.KindError {
		s.c.observeError(e.ErrKind, e.Err)
	} else {
		// A successfully decoded non-error message resets the streak.
		s.c.tracker.Success()
		metrics.ConsecutiveErrorStreak.Set(0)
	}
	s.c.events.Push(e)
}

func (c *Client) transport() *transport.Transport {
	c.trMu.RLock()
	defer c.trMu.RUnlock()
	return c.tr
}

// Send routes to the current transport; part of the command.Conn surface
// shared with the session manager and dispatcher.
func (c *Client) Send(text string) error { return c.transport().Send(text) }

// Ping sends a WebSocket ping on the current transport.
func (c *Client) Ping() error { return c.transport().Ping() }

// Done closes when the client as a whole shuts down; unlike the per-socket
// transport.Done it does not fire during a reconnect.
func (c *Client) Done() <-chan struct{} { return c.done }

// Events is the typed event stream. The channel closes after Close once
// the internal goroutines have drained.
func (c *Client) Events() <-chan event.Event { return c.events.Events() }

// Enqueue pushes a command onto the FIFO drained by the runner.
func (c *Client) Enqueue(cmd command.Command) { c.runner.Enqueue(cmd) }

// SetMarket runs the session manager's set_market orchestration directly,
// returning the allocated ids. One-shot helpers (historical, batch) use
// this instead of the command queue because they need the chart session id
// back to correlate completions.
func (c *Client) SetMarket(opts models.ChartOptions) (chartSession, seriesID string, err error) {
	return c.manager.SetMarket(opts)
}

// CreateQuoteSession allocates a quote session and registers the full
// quote field set.
func (c *Client) CreateQuoteSession() (string, error) {
	return c.manager.NewQuoteSession()
}

// SetAuthToken replaces the stored token and pushes it to the server.
func (c *Client) SetAuthToken(token string) error {
	return c.manager.SetAuthToken(token)
}

// Manager exposes the session manager for callers that drive sessions
// directly rather than through the command plane.
func (c *Client) Manager() *session.Manager { return c.manager }

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// IsClosed reports whether Close has run.
func (c *Client) IsClosed() bool { return c.isClosed() }

// readLoop owns the read half: timed receive, heartbeat on timeout, frame
// dispatch, and error classification on terminal read failures.
func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		if c.ctx.Err() != nil || c.isClosed() {
			return
		}
		frame, err := c.transport().Receive()
		if err != nil {
			if errors.Is(err, transport.ErrReadTimeout) {
				if pingErr := c.Ping(); pingErr != nil {
					c.log.Warn().Err(pingErr).Msg("client: ping after read timeout failed")
				}
				continue
			}
			if c.ctx.Err() != nil || c.isClosed() {
				return
			}
			// Routed through observedSink so the tracker classifies it and
			// the application sees an Error event.
			observedSink{c}.Push(event.FromError(
				models.WrapError(models.ErrTransportClosed, "client: read failed", err), nil))
			if c.isClosed() {
				return
			}
			continue
		}
		metrics.FramesReceivedTotal.Inc()
		c.disp.HandleFrame(frame)
	}
}

// runLoop hosts the command runner for the client's lifetime.
func (c *Client) runLoop() {
	defer c.wg.Done()
	if err := c.runner.Run(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug().Err(err).Msg("client: command runner exited")
	}
	_ = c.Close()
}

// observeError applies the severity classification and recovery action for
// one error. Runs on the reader goroutine (the dispatcher and readLoop both
// push through observedSink), so reconnects never race each other.
func (c *Client) observeError(kind models.ErrorKind, err error) {
	sev, action := c.tracker.Observe(kind)
	metrics.ErrorsTotal.WithLabelValues(sev.String()).Inc()
	metrics.ConsecutiveErrorStreak.Set(float64(c.tracker.Streak()))
	c.notifier.Notify(sev, err)

	switch action {
	case recovery.ActionContinue:
	case recovery.ActionPing:
		if pingErr := c.Ping(); pingErr != nil {
			c.log.Warn().Err(pingErr).Msg("client: recovery ping failed, reconnecting")
			c.reconnect()
		}
	case recovery.ActionReconnect:
		c.reconnect()
	case recovery.ActionFatal:
		c.log.Error().Err(err).Msg("client: fatal error, shutting down")
		_ = c.Close()
	}
}

// reconnect tears down the current socket, runs the backoff dial loop, and
// re-hydrates the auth token on the new connection. Session and series
// state is not resubscribed; the application is told via an Error event.
func (c *Client) reconnect() {
	_ = c.transport().Close()
	metrics.ConnectionState.Set(0)

	v, err := c.recon.Run(c.ctx, func(ctx context.Context) (interface{}, error) {
		t, dialErr := transport.Dial(ctx, c.cfg.Server, c.log)
		if dialErr != nil {
			metrics.ReconnectsTotal.WithLabelValues("failure").Inc()
			return nil, dialErr
		}
		return t, nil
	})
	if err != nil {
		c.log.Error().Err(err).Msg("client: reconnect exhausted, closing")
		c.events.Push(event.FromError(
			models.WrapError(models.ErrTransportClosed, "client: reconnect exhausted", err), nil))
		_ = c.Close()
		return
	}

	nt := v.(*transport.Transport)
	c.trMu.Lock()
	c.tr = nt
	c.trMu.Unlock()
	metrics.ReconnectsTotal.WithLabelValues("success").Inc()
	metrics.ConnectsTotal.Inc()
	metrics.ConnectionState.Set(1)

	if tok := c.manager.AuthToken(); tok != "" {
		if authErr := c.manager.SetAuthToken(tok); authErr != nil {
			c.log.Warn().Err(authErr).Msg("client: auth re-hydration failed after reconnect")
		}
	}
	c.events.Push(event.FromError(models.NewError(models.ErrTransportClosed,
		"client: reconnected; sessions and series must be re-subscribed"), nil))
	c.log.Info().Msg("client: reconnected")
}

// cleanupTimeout bounds how long Close waits for the reader and runner.
const cleanupTimeout = 2 * time.Second

// Close shuts the client down: cancels the shared token, stops the runner,
// closes the socket, and (once the goroutines exit) closes the event
// channel. Idempotent; safe to call from the runner's own goroutine.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.runner.Shutdown()
		_ = c.transport().Close()
		metrics.ConnectionState.Set(0)

		go func() {
			exited := make(chan struct{})
			go func() {
				c.wg.Wait()
				close(exited)
			}()
			select {
			case <-exited:
				c.events.Close()
			case <-time.After(cleanupTimeout):
				// A wedged goroutine could still push; leaving the channel
				// open beats a panic on send-after-close.
				c.log.Warn().Msg("client: goroutines did not exit within cleanup timeout")
			}
		}()
	})
	return nil
}
