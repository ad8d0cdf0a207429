package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvfeed/models"
)

func TestActionFor(t *testing.T) {
	assert.Equal(t, ActionContinue, ActionFor(models.SeverityMinor))
	assert.Equal(t, ActionPing, ActionFor(models.SeverityModerate))
	assert.Equal(t, ActionReconnect, ActionFor(models.SeverityCritical))
	assert.Equal(t, ActionFatal, ActionFor(models.SeverityFatal))
}

func TestErrorTracker_EscalatesAfterMaxConsecutive(t *testing.T) {
	tr := NewErrorTracker(zerolog.Nop())
	var sev models.Severity
	var act Action
	for i := 0; i < DefaultMaxConsecutive; i++ {
		sev, act = tr.Observe(models.ErrTradingViewSeries)
	}
	assert.Equal(t, models.SeverityCritical, sev, "5th consecutive moderate error must escalate")
	assert.Equal(t, ActionReconnect, act)
}

func TestErrorTracker_BelowThresholdStaysModerate(t *testing.T) {
	tr := NewErrorTracker(zerolog.Nop())
	sev, act := tr.Observe(models.ErrTradingViewSymbol)
	assert.Equal(t, models.SeverityModerate, sev)
	assert.Equal(t, ActionPing, act)
}

func TestErrorTracker_SuccessResetsStreak(t *testing.T) {
	tr := NewErrorTracker(zerolog.Nop())
	tr.Observe(models.ErrTradingViewSeries)
	tr.Observe(models.ErrTradingViewSeries)
	require.Equal(t, 2, tr.Streak())
	tr.Success()
	assert.Equal(t, 0, tr.Streak())
}

func TestErrorTracker_AutoResetsAfterIntervalElapses(t *testing.T) {
	tr := NewErrorTracker(zerolog.Nop())
	tr.resetInterval = 10 * time.Millisecond

	base := time.Now()
	clock := base
	tr.now = func() time.Time { return clock }

	tr.Observe(models.ErrTradingViewSeries)
	tr.Observe(models.ErrTradingViewSeries)
	require.Equal(t, 2, tr.Streak())

	clock = base.Add(20 * time.Millisecond)
	tr.Observe(models.ErrTradingViewSeries)
	assert.Equal(t, 1, tr.Streak(), "streak must reset once the idle window has elapsed")
}

func TestBackoff_Schedule(t *testing.T) {
	b := NewBackoff()
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60, 60, 60}
	for i, w := range want {
		d, ok := b.Next()
		require.True(t, ok, "attempt %d should be allowed", i)
		assert.Equal(t, w*time.Second, d)
	}
	_, ok := b.Next()
	assert.False(t, ok, "11th attempt must be refused")
}

func TestBackoff_ResetStartsOver(t *testing.T) {
	b := NewBackoff()
	b.Next()
	b.Next()
	b.Reset()
	d, ok := b.Next()
	require.True(t, ok)
	assert.Equal(t, time.Second, d)
}

func TestReconnector_RetriesUntilDialSucceeds(t *testing.T) {
	patches := gomonkey.ApplyFunc(time.After, func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	})
	defer patches.Reset()

	r := NewReconnector(zerolog.Nop())
	attempts := 0
	v, err := r.Run(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("dial failed")
		}
		return "connected", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "connected", v)
	assert.Equal(t, 3, attempts)
}

func TestReconnector_ExhaustsAttempts(t *testing.T) {
	patches := gomonkey.ApplyFunc(time.After, func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	})
	defer patches.Reset()

	r := NewReconnector(zerolog.Nop())
	r.backoff.MaxAttempts = 2
	attempts := 0
	_, err := r.Run(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, errors.New("always fails")
	})
	require.Error(t, err)
	var tvErr *models.Error
	require.ErrorAs(t, err, &tvErr)
	assert.Equal(t, models.ErrTransportClosed, tvErr.Kind)
	assert.Equal(t, 2, attempts)
}

func TestReconnector_ContextCancelStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReconnector(zerolog.Nop())
	_, err := r.Run(ctx, func(ctx context.Context) (interface{}, error) {
		t.Fatal("dial must not be called once context is already cancelled")
		return nil, nil
	})
	require.Error(t, err)
}
