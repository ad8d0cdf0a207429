// Package command implements the single-producer/single-consumer command
// plane: a FIFO of high-level Commands drained by one runner goroutine
// that owns the write half of the connection.
package command

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tvfeed/models"
	"tvfeed/session"
	"tvfeed/wire"
)

// Conn is the write-half capability the runner needs. transport.Transport
// satisfies it directly; the client package satisfies it with a handle that
// survives reconnects, so one runner serves the whole client lifetime.
type Conn interface {
	Send(text string) error
	Ping() error
	Close() error
	Done() <-chan struct{}
}

func encodeRaw(method string, params []interface{}) (string, error) {
	return wire.Encode(method, params)
}

// Kind discriminates a Command's variant.
type Kind int

const (
	KindSetAuthToken Kind = iota
	KindSetLocale
	KindSetDataQuality
	KindSetTimeZone
	KindCreateQuoteSession
	KindDeleteQuoteSession
	KindSetQuoteFields
	KindFastSymbols
	KindAddSymbols
	KindRemoveSymbols
	KindCreateChartSession
	KindDeleteChartSession
	KindRequestMoreData
	KindRequestMoreTickMarks
	KindCreateStudy
	KindModifyStudy
	KindRemoveStudy
	KindCreateSeries
	KindModifySeries
	KindRemoveSeries
	KindCreateReplaySession
	KindDeleteReplaySession
	KindResolveSymbol
	KindSetReplay
	KindStartReplay
	KindStopReplay
	KindResetReplay
	KindSetMarket
	KindSendRawMessage
	KindPing
	KindDelete
)

// Command is a tagged union of every operation the application can push
// through the command plane. Only the fields relevant to Kind are read.
type Command struct {
	Kind Kind

	AuthToken string
	Language  string
	Country   string
	Quality   string

	Session  string
	Timezone string

	Symbols []string

	SeriesID   string
	SymbolID   string
	VersionTag string
	StudyID    string
	Count      int

	ChartOptions models.ChartOptions
	StudyConfig  models.StudyConfig

	ReplayFrom int64
	ReplayStep int
	Interval   models.Interval

	RawMethod string
	RawParams []interface{}
}

// HeartbeatInterval is the application-level ping cadence.
const HeartbeatInterval = 10 * time.Second

// Runner drains the command queue; the commands it applies reach the
// transport in queue order. Writes made outside the queue (heartbeat
// echoes and pings from the reader, and direct session.Manager calls) go
// straight to the transport and are not ordered relative to queued
// commands.
type Runner struct {
	queue    chan Command
	shutdown chan struct{}
	manager  *session.Manager
	tr       Conn
	log      zerolog.Logger
}

// NewRunner builds a runner with a reasonably large buffered queue; the
// application should prefer Enqueue's blocking semantics over growing
// this further.
func NewRunner(manager *session.Manager, tr Conn, log zerolog.Logger) *Runner {
	return &Runner{
		queue:    make(chan Command, 256),
		shutdown: make(chan struct{}),
		manager:  manager,
		tr:       tr,
		log:      log,
	}
}

// Enqueue appends a command to the FIFO. Blocks if the queue is full,
// applying natural backpressure to the application rather than the wire.
func (r *Runner) Enqueue(cmd Command) {
	r.queue <- cmd
}

// Shutdown requests the run loop to exit; idempotent.
func (r *Runner) Shutdown() {
	select {
	case <-r.shutdown:
	default:
		close(r.shutdown)
	}
}

// Run is the cooperative select loop: next command, the transport's
// closed state, the 10s heartbeat tick, or external shutdown.
// Returns when the transport closes, ctx is cancelled, or Shutdown fires.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.shutdown:
			return nil
		case <-r.tr.Done():
			return models.NewError(models.ErrTransportClosed, "command: runner observed closed transport")
		case <-ticker.C:
			if err := r.tr.Ping(); err != nil {
				r.log.Warn().Err(err).Msg("command: heartbeat ping failed")
			}
		case cmd := <-r.queue:
			if err := r.apply(cmd); err != nil {
				r.log.Error().Err(err).Int("kind", int(cmd.Kind)).Msg("command: apply failed")
			}
			if cmd.Kind == KindDelete {
				return nil
			}
		}
	}
}

func (r *Runner) apply(cmd Command) error {
	m := r.manager
	switch cmd.Kind {
	case KindSetAuthToken:
		return m.SetAuthToken(cmd.AuthToken)
	case KindSetLocale:
		return m.SetLocale(cmd.Language, cmd.Country)
	case KindSetDataQuality:
		return m.SetDataQuality(cmd.Quality)
	case KindSetTimeZone:
		return m.SetTimeZone(cmd.Session, cmd.Timezone)
	case KindCreateQuoteSession:
		_, err := m.NewQuoteSession()
		return err
	case KindDeleteQuoteSession:
		return m.DeleteQuoteSession(cmd.Session)
	case KindSetQuoteFields:
		return m.SetQuoteFields(cmd.Session)
	case KindFastSymbols:
		return m.QuoteFastSymbols(cmd.Session, cmd.Symbols)
	case KindAddSymbols:
		return m.QuoteAddSymbols(cmd.Session, cmd.Symbols)
	case KindRemoveSymbols:
		return m.QuoteRemoveSymbols(cmd.Session, cmd.Symbols)
	case KindCreateChartSession:
		_, err := m.NewChartSession()
		return err
	case KindDeleteChartSession:
		return m.DeleteChartSession(cmd.Session)
	case KindRequestMoreData:
		return m.RequestMoreData(cmd.Session, cmd.SeriesID, cmd.Count)
	case KindRequestMoreTickMarks:
		return m.RequestMoreTickMarks(cmd.Session, cmd.SeriesID, cmd.Count)
	case KindCreateStudy:
		_, err := m.AddStudy(cmd.Session, cmd.SeriesID, cmd.StudyConfig)
		return err
	case KindModifyStudy:
		return m.ModifyStudy(cmd.Session, cmd.StudyID, cmd.StudyConfig)
	case KindRemoveStudy:
		return m.RemoveStudy(cmd.Session, cmd.StudyID, cmd.SeriesID)
	case KindCreateSeries:
		_, _, _, err := m.AddSeries(cmd.Session, cmd.ChartOptions)
		return err
	case KindModifySeries:
		return m.ModifySeries(cmd.Session, cmd.SeriesID, cmd.VersionTag, cmd.SymbolID, cmd.ChartOptions)
	case KindRemoveSeries:
		return m.RemoveSeries(cmd.Session, cmd.SeriesID)
	case KindCreateReplaySession:
		_, err := m.NewReplaySession()
		return err
	case KindDeleteReplaySession:
		return m.DeleteReplaySession(cmd.Session)
	case KindResolveSymbol:
		return m.ResolveSymbol(cmd.Session, cmd.SymbolID, cmd.ChartOptions)
	case KindSetReplay:
		return m.ReplayAddSeries(cmd.Session, cmd.SeriesID, cmd.ChartOptions)
	case KindStartReplay:
		return m.ReplayStart(cmd.Session, cmd.SeriesID, cmd.Interval)
	case KindStopReplay:
		return m.ReplayStop(cmd.Session, cmd.SeriesID)
	case KindResetReplay:
		return m.ReplayReset(cmd.Session, cmd.SeriesID, cmd.ReplayFrom)
	case KindSetMarket:
		_, _, err := m.SetMarket(cmd.ChartOptions)
		return err
	case KindSendRawMessage:
		frame, err := encodeRaw(cmd.RawMethod, cmd.RawParams)
		if err != nil {
			return err
		}
		return r.tr.Send(frame)
	case KindPing:
		return r.tr.Ping()
	case KindDelete:
		m.Delete()
		return r.tr.Close()
	default:
		return models.NewError(models.ErrInternal, "command: unknown kind")
	}
}
