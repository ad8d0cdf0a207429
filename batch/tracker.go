package batch

import (
	"sync"

	"github.com/rs/zerolog"

	"tvfeed/models"
)

// errUnresolvableCompletion is recorded when a second series_completed
// arrives without any cs_* token to attribute it to.
var errUnresolvableCompletion = models.NewError(models.ErrInternal, "batch: completion without resolvable chart session")

// tracker holds the per-series completion accounting: remaining count,
// completed and empty sets, dispatch errors, and the chart-session → symbol
// map populated from set_market returns and incoming chart data.
//
// Completion is idempotent: a series_completed replayed by the server for
// an already-completed session never double-decrements. One completion
// whose payload carries no cs_* token is tolerated as a no-op (the
// protocol doesn't guarantee one in every message); a second is recorded
// as an error.
type tracker struct {
	mu        sync.Mutex
	remaining int
	completed map[string]struct{}
	empty     map[string]struct{}
	errs      []error
	bySession map[string]string
	hasData   map[string]struct{}
	unknowns  int
	done      chan struct{}
	log       zerolog.Logger
}

func newTracker(symbols []Symbol, log zerolog.Logger) *tracker {
	return &tracker{
		remaining: len(symbols),
		completed: make(map[string]struct{}, len(symbols)),
		empty:     make(map[string]struct{}),
		bySession: make(map[string]string, len(symbols)),
		hasData:   make(map[string]struct{}),
		done:      make(chan struct{}),
		log:       log,
	}
}

func (t *tracker) mapSession(chartSession, key string) {
	if chartSession == "" {
		return
	}
	t.mu.Lock()
	t.bySession[chartSession] = key
	t.mu.Unlock()
}

func (t *tracker) markHasData(key string) {
	t.mu.Lock()
	t.hasData[key] = struct{}{}
	t.mu.Unlock()
}

// complete marks the series behind chartSession done exactly once and
// signals overall completion when the last one lands.
func (t *tracker) complete(chartSession string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key, known := t.bySession[chartSession]
	if !known {
		t.unknowns++
		if t.unknowns == 1 {
			t.log.Warn().Str("session", chartSession).Msg("batch: completion without a resolvable chart session, tolerated once")
			return
		}
		t.errs = append(t.errs, errUnresolvableCompletion)
		t.decrement()
		return
	}
	if _, already := t.completed[key]; already {
		return
	}
	t.completed[key] = struct{}{}
	if _, ok := t.hasData[key]; !ok {
		t.empty[key] = struct{}{}
	}
	t.decrement()
}

// failDispatch records a symbol whose set_market never went out; it still
// counts toward overall completion so the run can finish.
func (t *tracker) failDispatch(key string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs = append(t.errs, err)
	t.decrement()
}

func (t *tracker) recordError(err error) {
	t.mu.Lock()
	t.errs = append(t.errs, err)
	t.mu.Unlock()
}

// decrement must be called with mu held.
func (t *tracker) decrement() {
	t.remaining--
	if t.remaining == 0 {
		close(t.done)
	}
}

func (t *tracker) accounting() Accounting {
	t.mu.Lock()
	defer t.mu.Unlock()
	acc := Accounting{
		Completed: make(map[string]struct{}, len(t.completed)),
		Empty:     make(map[string]struct{}, len(t.empty)),
		Errors:    append([]error(nil), t.errs...),
		Remaining: t.remaining,
	}
	for k := range t.completed {
		acc.Completed[k] = struct{}{}
	}
	for k := range t.empty {
		acc.Empty[k] = struct{}{}
	}
	return acc
}
