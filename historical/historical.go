// Package historical builds a one-shot historical fetch on top of the
// streaming client: open, set market, drain events until the series
// completes, dedup and sort, return.
package historical

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"

	"tvfeed/client"
	"tvfeed/event"
	"tvfeed/models"
	"tvfeed/transport"
)

// DefaultDeadline bounds the whole fetch unless overridden.
const DefaultDeadline = 30 * time.Second

// maxErrorCount is how many non-critical error events a fetch absorbs
// before giving up.
const maxErrorCount = 5

// Session is the slice of the client the collector needs. *client.Client
// satisfies it; tests drive the collector with a fake.
type Session interface {
	SetMarket(opts models.ChartOptions) (chartSession, seriesID string, err error)
	CreateQuoteSession() (string, error)
	Events() <-chan event.Event
}

// Options configures a fetch beyond the chart options themselves.
type Options struct {
	Server   transport.Host
	Deadline time.Duration
	Logger   zerolog.Logger
}

// Fetch opens a client, runs the bounded command/event dialogue, and
// returns the resolved symbol info plus the deduplicated ascending bars.
func Fetch(ctx context.Context, authToken string, chartOpts models.ChartOptions, opts Options) (models.SymbolInfo, []models.DataPoint, error) {
	if chartOpts.Symbol == "" || chartOpts.Exchange == "" {
		return models.SymbolInfo{}, nil, models.NewError(models.ErrInvalidArgument, "historical: symbol and exchange are required")
	}
	c, err := client.New(ctx, client.Config{
		Server:    opts.Server,
		AuthToken: authToken,
		Logger:    opts.Logger,
	})
	if err != nil {
		return models.SymbolInfo{}, nil, err
	}
	defer c.Close()
	return Collect(ctx, c, chartOpts, opts.Deadline)
}

// Collect drives an already-open session: set the market, create a quote
// session, then consume events until the series completes, the deadline
// fires, or errors accumulate past the threshold. Whatever bars were
// gathered are returned alongside any terminal error.
func Collect(ctx context.Context, sess Session, chartOpts models.ChartOptions, deadline time.Duration) (models.SymbolInfo, []models.DataPoint, error) {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	if _, _, err := sess.SetMarket(chartOpts); err != nil {
		return models.SymbolInfo{}, nil, err
	}
	if _, err := sess.CreateQuoteSession(); err != nil {
		return models.SymbolInfo{}, nil, err
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var (
		sym        models.SymbolInfo
		bars       []models.DataPoint
		backfilled bool
		errCount   int
	)

	for {
		select {
		case <-ctx.Done():
			return sym, DedupSort(bars), models.WrapError(models.ErrTimeout, "historical: cancelled", ctx.Err())
		case <-timer.C:
			return sym, DedupSort(bars), models.NewError(models.ErrTimeout, "historical: deadline exceeded")
		case e, ok := <-sess.Events():
			if !ok {
				return sym, DedupSort(bars), models.NewError(models.ErrTransportClosed, "historical: event stream closed")
			}
			switch e.Kind {
			case event.KindChartData:
				bars = append(bars, e.Bars...)
				if chartOpts.ReplayMode && !backfilled && len(e.Bars) > 0 {
					backfilled = true
					backOpts := chartOpts
					backOpts.ReplayMode = true
					backOpts.ReplayFrom = earliestTimestamp(e.Bars)
					if _, _, err := sess.SetMarket(backOpts); err != nil {
						return sym, DedupSort(bars), err
					}
				}
			case event.KindSymbolInfo:
				sym = e.Symbol
			case event.KindSeriesCompleted:
				if !chartOpts.ReplayMode || replayCompleted(e.Raw) {
					return sym, DedupSort(bars), nil
				}
			case event.KindError:
				errCount++
				sev := e.ErrKind.BaseSeverity()
				if sev >= models.SeverityCritical || errCount > maxErrorCount {
					return sym, DedupSort(bars), models.WrapError(e.ErrKind, "historical: terminal error", e.Err)
				}
			}
		}
	}
}

// earliestTimestamp is the minimum bar timestamp of a batch, used to anchor
// the one-time replay backfill.
func earliestTimestamp(bars []models.DataPoint) int64 {
	earliest := math.Inf(1)
	for _, b := range bars {
		if ts := b.Timestamp(); !math.IsNaN(ts) && ts < earliest {
			earliest = ts
		}
	}
	if math.IsInf(earliest, 1) {
		return 0
	}
	return int64(earliest)
}

// replayCompleted reports whether a series_completed payload marks the end
// of replay playback: it must mention both "replay" and "data_completed".
// Replay sessions emit intermediate completions before that.
func replayCompleted(raw []interface{}) bool {
	b, err := json.Marshal(raw)
	if err != nil {
		return false
	}
	s := string(b)
	return strings.Contains(s, "replay") && strings.Contains(s, "data_completed")
}

// DedupSort removes duplicate-timestamp bars (keeping the last received,
// which carries the freshest values) and sorts ascending by timestamp.
func DedupSort(bars []models.DataPoint) []models.DataPoint {
	if len(bars) == 0 {
		return bars
	}
	byTS := make(map[float64]models.DataPoint, len(bars))
	for _, b := range bars {
		byTS[b.Timestamp()] = b
	}
	out := make([]models.DataPoint, 0, len(byTS))
	for _, b := range byTS {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp() < out[j].Timestamp() })
	return out
}
