// Package batch fans many symbols out through one streaming client with
// per-series completion accounting and an overall deadline.
package batch

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"

	"tvfeed/client"
	"tvfeed/event"
	"tvfeed/historical"
	"tvfeed/models"
	"tvfeed/transport"
)

const (
	// DefaultBatchSize is how many set_market dispatches go out per chunk.
	DefaultBatchSize = 40
	// DefaultChunkDelay spaces chunks to stay under the server's implicit
	// 10 symbols/s ceiling.
	DefaultChunkDelay = 5 * time.Second
	// DefaultDeadline bounds the whole batch run.
	DefaultDeadline = 5 * time.Minute
)

// Symbol names one instrument to fetch.
type Symbol struct {
	Symbol   string
	Exchange string
}

// Key is the "EXCHANGE:SYMBOL" form used to key results and buffers.
func (s Symbol) Key() string { return s.Exchange + ":" + s.Symbol }

// Result is one symbol's aggregated outcome.
type Result struct {
	Symbol   models.SymbolInfo
	Interval models.Interval
	Bars     []models.DataPoint
}

// Options configures a batch run.
type Options struct {
	Server     transport.Host
	Interval   models.Interval
	BatchSize  int
	ChunkDelay time.Duration
	Deadline   time.Duration
	Logger     zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.ChunkDelay <= 0 {
		o.ChunkDelay = DefaultChunkDelay
	}
	if o.Deadline <= 0 {
		o.Deadline = DefaultDeadline
	}
	return o
}

// Session is the slice of the client the collector needs; *client.Client
// satisfies it.
type Session interface {
	SetMarket(opts models.ChartOptions) (chartSession, seriesID string, err error)
	Events() <-chan event.Event
}

// Fetch opens a client and retrieves every symbol's bars at the given
// interval, returning a map keyed by "EXCHANGE:SYMBOL". Partial results
// are returned alongside a terminal error.
func Fetch(ctx context.Context, authToken string, symbols []Symbol, opts Options) (map[string]Result, error) {
	opts = opts.withDefaults()
	c, err := client.New(ctx, client.Config{
		Server:    opts.Server,
		AuthToken: authToken,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	defer c.Close()
	res, _, err := Collect(ctx, c, symbols, opts)
	return res, err
}

// Collect drives an already-open session through the full batch dialogue.
// The returned Accounting reports the completed set, the empty set, and any
// per-symbol errors; sum(completed) + len(errors) covers every request.
func Collect(ctx context.Context, sess Session, symbols []Symbol, opts Options) (map[string]Result, Accounting, error) {
	opts = opts.withDefaults()
	if len(symbols) == 0 {
		return nil, Accounting{}, models.NewError(models.ErrInvalidArgument, "batch: empty symbol list")
	}
	for _, s := range symbols {
		if s.Symbol == "" || s.Exchange == "" {
			return nil, Accounting{}, models.NewError(models.ErrInvalidArgument, "batch: symbol and exchange are required for every entry")
		}
	}

	tr := newTracker(symbols, opts.Logger)
	results := make(map[string]Result, len(symbols))
	for _, s := range symbols {
		results[s.Key()] = Result{Interval: opts.Interval}
	}

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()
	go dispatchChunks(dispatchCtx, sess, symbols, opts, tr)

	timer := time.NewTimer(opts.Deadline)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return finish(results), tr.accounting(), models.WrapError(models.ErrTimeout, "batch: cancelled", ctx.Err())
		case <-timer.C:
			return finish(results), tr.accounting(), models.NewError(models.ErrTimeout, "batch: deadline exceeded")
		case <-tr.done:
			return finish(results), tr.accounting(), nil
		case e, ok := <-sess.Events():
			if !ok {
				return finish(results), tr.accounting(), models.NewError(models.ErrTransportClosed, "batch: event stream closed")
			}
			switch e.Kind {
			case event.KindChartData:
				key := Symbol{Symbol: e.SeriesInfo.Options.Symbol, Exchange: e.SeriesInfo.Options.Exchange}.Key()
				if r, found := results[key]; found {
					r.Bars = append(r.Bars, e.Bars...)
					results[key] = r
					if len(e.Bars) > 0 {
						tr.markHasData(key)
					}
				}
				tr.mapSession(e.SeriesInfo.ChartSessionID, key)
			case event.KindSymbolInfo:
				if r, found := results[e.Symbol.ID]; found {
					r.Symbol = e.Symbol
					results[e.Symbol.ID] = r
				}
			case event.KindSeriesCompleted:
				tr.complete(extractChartSession(e.Raw))
			case event.KindError:
				if e.ErrKind.BaseSeverity() >= models.SeverityCritical {
					return finish(results), tr.accounting(), models.WrapError(e.ErrKind, "batch: terminal error", e.Err)
				}
				tr.recordError(e.Err)
			}
		}
	}
}

// dispatchChunks issues set_market calls in chunks of BatchSize, sleeping
// ChunkDelay between chunks.
func dispatchChunks(ctx context.Context, sess Session, symbols []Symbol, opts Options, tr *tracker) {
	for i := 0; i < len(symbols); i += opts.BatchSize {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(opts.ChunkDelay):
			}
		}
		end := i + opts.BatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		for _, s := range symbols[i:end] {
			chartOpts := models.NewChartOptions(s.Symbol, s.Exchange, opts.Interval)
			cs, _, err := sess.SetMarket(chartOpts)
			if err != nil {
				tr.failDispatch(s.Key(), err)
				continue
			}
			tr.mapSession(cs, s.Key())
		}
	}
}

// extractChartSession pulls the cs_* token out of a series_completed
// payload, or "unknown" when the server omitted one.
func extractChartSession(raw []interface{}) string {
	for _, p := range raw {
		if s, ok := p.(string); ok && strings.HasPrefix(s, "cs_") {
			return s
		}
	}
	// Some completion payloads bury the session inside nested structures.
	if b, err := json.Marshal(raw); err == nil {
		if i := strings.Index(string(b), "cs_"); i >= 0 {
			rest := string(b)[i:]
			if j := strings.IndexAny(rest, `"', ]}`); j > 0 {
				return rest[:j]
			}
		}
	}
	return "unknown"
}

func finish(results map[string]Result) map[string]Result {
	for key, r := range results {
		r.Bars = historical.DedupSort(r.Bars)
		results[key] = r
	}
	return results
}

// Accounting reports the final completion state of a run.
type Accounting struct {
	Completed map[string]struct{}
	Empty     map[string]struct{}
	Errors    []error
	Remaining int
}
