// Package event normalizes inbound protocol events into a typed stream
// the application consumes: one Event channel with a fixed buffer (4096
// events by default) on which Push blocks once it is full, with an
// optional bounded drop-oldest mode.
package event

import (
	"github.com/rs/zerolog"

	"tvfeed/models"
	"tvfeed/wire"
)

// Kind discriminates an Event's variant.
type Kind int

const (
	KindChartData Kind = iota
	KindQuoteData
	KindStudyData
	KindSymbolInfo
	KindSeriesLoading
	KindSeriesCompleted
	KindQuoteCompleted
	KindReplayOk
	KindReplayPoint
	KindReplayInstanceID
	KindReplayResolutions
	KindReplayDataEnd
	KindStudyLoading
	KindStudyCompleted
	KindError
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindChartData:
		return "chart_data"
	case KindQuoteData:
		return "quote_data"
	case KindStudyData:
		return "study_data"
	case KindSymbolInfo:
		return "symbol_info"
	case KindSeriesLoading:
		return "series_loading"
	case KindSeriesCompleted:
		return "series_completed"
	case KindQuoteCompleted:
		return "quote_completed"
	case KindReplayOk:
		return "replay_ok"
	case KindReplayPoint:
		return "replay_point"
	case KindReplayInstanceID:
		return "replay_instance_id"
	case KindReplayResolutions:
		return "replay_resolutions"
	case KindReplayDataEnd:
		return "replay_data_end"
	case KindStudyLoading:
		return "study_loading"
	case KindStudyCompleted:
		return "study_completed"
	case KindError:
		return "error"
	case KindUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// LoadingMsg carries the (session, id, update_mode, version) tuple common
// to series_loading/study_loading frames.
type LoadingMsg struct {
	Session    string
	ID         string
	UpdateMode string
	Version    string
	IsStudy    bool
}

// Event is a tagged union of every decoded protocol event the application
// can observe.
type Event struct {
	Kind Kind

	SeriesInfo models.SeriesInfo
	Bars       []models.DataPoint

	Quote models.QuoteValue

	StudyConfig models.StudyConfig
	StudyData   models.StudyResponseData

	Symbol models.SymbolInfo

	Loading LoadingMsg

	ErrKind models.ErrorKind
	Err     error

	Method string
	Raw    []interface{}
}

// Sink is anything an Event can be pushed to; both Channel and a bounded
// drop-oldest variant implement it so dispatch doesn't care which one the
// application chose.
type Sink interface {
	Push(Event)
}

// Channel is the default event plane. Its buffer absorbs bursts up to the
// size NewChannel gives it; once the buffer is full, Push blocks the
// caller (the reader goroutine) until the consumer receives an event, so a
// consumer that stays behind also stalls reading from the transport.
type Channel struct {
	ch  chan Event
	log zerolog.Logger
}

// NewChannel builds a fixed-size buffered event channel (bufferHint
// sizes the buffer, 4096 when unset; Go channels can't grow, so a generous hint
// avoids blocking the dispatcher on a slow consumer in the common case —
// callers needing true unboundedness should drain promptly or use
// NewBoundedDropOldest with a policy they accept).
func NewChannel(bufferHint int, log zerolog.Logger) *Channel {
	if bufferHint <= 0 {
		bufferHint = 4096
	}
	return &Channel{ch: make(chan Event, bufferHint), log: log}
}

func (c *Channel) Push(e Event) {
	c.ch <- e
}

func (c *Channel) Events() <-chan Event { return c.ch }

func (c *Channel) Close() { close(c.ch) }

// preserved is the set of kinds a bounded sink must never drop:
// SymbolInfo, SeriesCompleted, and Error.
func preserved(k Kind) bool {
	return k == KindSymbolInfo || k == KindSeriesCompleted || k == KindError
}

// BoundedDropOldest is the bounded alternative to Channel: a
// fixed-capacity buffer that makes room by dropping the oldest
// non-preserved event, logging the drop. A non-preserved event that finds
// the buffer holding only preserved kinds is dropped itself. A preserved
// event that finds the buffer holding only preserved kinds keeps retrying,
// so Push does not return until the consumer receives one.
type BoundedDropOldest struct {
	ch  chan Event
	log zerolog.Logger
}

func NewBoundedDropOldest(capacity int, log zerolog.Logger) *BoundedDropOldest {
	if capacity <= 0 {
		capacity = 1024
	}
	return &BoundedDropOldest{ch: make(chan Event, capacity), log: log}
}

func (b *BoundedDropOldest) Push(e Event) {
	select {
	case b.ch <- e:
		return
	default:
	}
	if preserved(e.Kind) {
		// Preserved kinds are never dropped: make room by discarding the
		// oldest droppable event we can find; if the whole buffer is
		// preserved-kind events, keep retrying until the consumer drains one.
		for {
			select {
			case old := <-b.ch:
				if preserved(old.Kind) {
					// put it back at the front isn't possible with a plain
					// channel; requeue at the back and keep scanning.
					select {
					case b.ch <- old:
					default:
					}
					continue
				}
				b.log.Warn().Int("kind", int(old.Kind)).Msg("event: dropped to preserve incoming event")
			case b.ch <- e:
				return
			}
			select {
			case b.ch <- e:
				return
			default:
				continue
			}
		}
	}
	// Drop the oldest non-preserved event, requeueing preserved ones; if
	// the buffer holds only preserved kinds, drop the incoming event.
	for i := 0; i < cap(b.ch); i++ {
		select {
		case old := <-b.ch:
			if preserved(old.Kind) {
				b.ch <- old
				continue
			}
			b.log.Warn().Int("kind", int(old.Kind)).Msg("event: dropped oldest, buffer full")
		default:
		}
		select {
		case b.ch <- e:
			return
		default:
		}
	}
	b.log.Warn().Int("kind", int(e.Kind)).Msg("event: dropped incoming, buffer holds only preserved events")
}

func (b *BoundedDropOldest) Events() <-chan Event { return b.ch }

// FromError builds an Error event from a models.Error (or wraps a plain
// error as Internal), attaching the raw params that accompanied it.
func FromError(err error, raw []interface{}) Event {
	var kind models.ErrorKind = models.ErrInternal
	if tvErr, ok := err.(*models.Error); ok {
		kind = tvErr.Kind
	}
	return Event{Kind: KindError, ErrKind: kind, Err: err, Raw: raw}
}

// FromUnknown builds an UnknownEvent for a method the dispatcher's table
// doesn't recognize.
func FromUnknown(method string, raw []interface{}) Event {
	return Event{Kind: KindUnknown, Method: method, Raw: raw}
}

// methodToKind maps wire envelope methods to event kinds.
var methodToKind = map[string]Kind{
	wire.EvtChartData:         KindChartData,
	wire.EvtChartDataUpdate:   KindChartData,
	wire.EvtQuoteData:         KindQuoteData,
	wire.EvtQuoteCompleted:    KindQuoteCompleted,
	wire.EvtSeriesLoading:     KindSeriesLoading,
	wire.EvtSeriesCompleted:   KindSeriesCompleted,
	wire.EvtSymbolResolved:    KindSymbolInfo,
	wire.EvtReplayOk:          KindReplayOk,
	wire.EvtReplayPoint:       KindReplayPoint,
	wire.EvtReplayInstanceID:  KindReplayInstanceID,
	wire.EvtReplayResolutions: KindReplayResolutions,
	wire.EvtReplayDataEnd:     KindReplayDataEnd,
	wire.EvtStudyLoading:      KindStudyLoading,
	wire.EvtStudyCompleted:    KindStudyCompleted,
}

var methodToErrKind = map[string]models.ErrorKind{
	wire.EvtSymbolError:   models.ErrTradingViewSymbol,
	wire.EvtSeriesError:   models.ErrTradingViewSeries,
	wire.EvtCriticalError: models.ErrTradingViewCritical,
	wire.EvtStudyError:    models.ErrTradingViewStudy,
	wire.EvtProtocolError: models.ErrTradingViewProtocol,
	wire.EvtReplayError:   models.ErrTradingViewReplay,
}

// ClassifyMethod maps a wire envelope method to an event Kind, or reports
// that it's one of the error-method names (with the associated ErrorKind).
func ClassifyMethod(method string) (kind Kind, errKind models.ErrorKind, isError bool, known bool) {
	if ek, ok := methodToErrKind[method]; ok {
		return KindError, ek, true, true
	}
	if k, ok := methodToKind[method]; ok {
		return k, 0, false, true
	}
	return KindUnknown, 0, false, false
}
