// Package recovery implements the liveness & recovery state machine:
// error severity classification, the consecutive-error counter with its
// escalation rule, and the exponential-backoff reconnect loop (1s, 2x,
// cap 60s, 10 attempts).
package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tvfeed/models"
)

// Action is the recovery response a severity maps to.
type Action int

const (
	ActionContinue Action = iota
	ActionPing
	ActionReconnect
	ActionFatal
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionPing:
		return "ping"
	case ActionReconnect:
		return "reconnect"
	case ActionFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ActionFor maps a severity to its recovery action.
func ActionFor(sev models.Severity) Action {
	switch sev {
	case models.SeverityMinor:
		return ActionContinue
	case models.SeverityModerate:
		return ActionPing
	case models.SeverityCritical:
		return ActionReconnect
	case models.SeverityFatal:
		return ActionFatal
	default:
		return ActionContinue
	}
}

const (
	// DefaultResetInterval is how long without errors before the streak resets.
	DefaultResetInterval = 60 * time.Second
	// DefaultMaxConsecutive is the streak length that triggers escalation.
	DefaultMaxConsecutive = 5
)

// ErrorTracker implements the consecutive-error counter and the
// Moderate→Critical escalation rule. now is overridable in tests.
type ErrorTracker struct {
	mu             sync.Mutex
	count          int
	lastErrorAt    time.Time
	resetInterval  time.Duration
	maxConsecutive int
	now            func() time.Time
	log            zerolog.Logger
}

func NewErrorTracker(log zerolog.Logger) *ErrorTracker {
	return &ErrorTracker{
		resetInterval:  DefaultResetInterval,
		maxConsecutive: DefaultMaxConsecutive,
		now:            time.Now,
		log:            log,
	}
}

// Observe records one error of the given kind, applies the auto-reset and
// escalation rules, and returns the resulting (possibly escalated)
// severity plus the recovery action for it.
func (t *ErrorTracker) Observe(kind models.ErrorKind) (models.Severity, Action) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.lastErrorAt.IsZero() && now.Sub(t.lastErrorAt) >= t.resetInterval {
		t.count = 0
	}
	t.count++
	t.lastErrorAt = now

	sev := kind.BaseSeverity()
	if t.count >= t.maxConsecutive && sev == models.SeverityModerate {
		t.log.Warn().Int("streak", t.count).Str("kind", kind.String()).Msg("recovery: escalating to critical after consecutive errors")
		sev = models.SeverityCritical
	}
	return sev, ActionFor(sev)
}

// Success resets the consecutive-error counter.
func (t *ErrorTracker) Success() {
	t.mu.Lock()
	t.count = 0
	t.mu.Unlock()
}

// Streak reports the current consecutive-error count (test/metrics hook).
func (t *ErrorTracker) Streak() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Backoff implements the exponential reconnect schedule: 1s, 2x, cap at
// 60s, maximum 10 attempts.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int

	attempt int
}

func NewBackoff() *Backoff {
	return &Backoff{Base: time.Second, Cap: 60 * time.Second, MaxAttempts: 10}
}

// Next returns the delay before the next attempt and whether one remains.
// Calling Next advances the internal attempt counter.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.attempt >= b.MaxAttempts {
		return 0, false
	}
	delay := b.Base << b.attempt
	if delay > b.Cap || delay <= 0 {
		delay = b.Cap
	}
	b.attempt++
	return delay, true
}

// Reset zeroes the attempt counter after a successful reconnect.
func (b *Backoff) Reset() { b.attempt = 0 }

// Attempts reports how many Next() calls have been made since the last Reset.
func (b *Backoff) Attempts() int { return b.attempt }

// Reconnector drives the backoff loop: wait, dial, succeed-or-retry. It is
// deliberately transport-agnostic (the dial callback returns an untyped
// interface{} value) so the client package supplies the concrete
// *transport.Transport constructor without recovery importing transport.
type Reconnector struct {
	backoff *Backoff
	log     zerolog.Logger
}

func NewReconnector(log zerolog.Logger) *Reconnector {
	return &Reconnector{backoff: NewBackoff(), log: log}
}

// Run attempts to reconnect using dial, waiting the backoff delay before
// each attempt (the first attempt still waits — the caller already knows
// the connection is dead). Returns the first successful dial's value, or
// an error if ctx is cancelled or attempts are exhausted.
func (r *Reconnector) Run(ctx context.Context, dial func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	for {
		delay, ok := r.backoff.Next()
		if !ok {
			return nil, models.NewError(models.ErrTransportClosed, "recovery: reconnect attempts exhausted")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		attemptCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		v, err := dial(attemptCtx)
		cancel()
		if err != nil {
			r.log.Warn().Err(err).Int("attempt", r.backoff.Attempts()).Msg("recovery: reconnect attempt failed")
			continue
		}
		r.backoff.Reset()
		return v, nil
	}
}
