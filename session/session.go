// Package session implements the session manager: allocation and
// bookkeeping for chart, quote, and replay sessions, series and study
// slots, and the per-client metadata map.
package session

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tvfeed/models"
	"tvfeed/wire"
)

// Sender is the minimal write capability the manager needs; transport.Transport
// satisfies it.
type Sender interface {
	Send(text string) error
}

func genID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// GenSessionID builds a "<prefix>_<12 alphanumeric>" identifier.
// Exported so command/client can mint ids for sessions the manager
// doesn't own outright (e.g. a replay series tag).
func GenSessionID(prefix string) string {
	return prefix + "_" + genID()
}

// chartState is the last (series info, bars) and last symbol info seen.
type chartState struct {
	Series models.SeriesInfo
	Bars   []models.DataPoint
	Symbol models.SymbolInfo
}

// studySlot tracks one attached study/indicator.
type studySlot struct {
	SeriesID string
	Config   models.StudyConfig
}

// Manager owns the per-client metadata and translates high-level
// session operations into wire sends. series/studies/quotes are guarded by
// their own RWMutex rather than one global lock, so a dispatcher reading
// quotes never blocks a resolve_symbol ack updating series.
type Manager struct {
	sender Sender
	log    zerolog.Logger

	seriesMu sync.RWMutex
	series   map[string]models.SeriesInfo

	studiesMu sync.RWMutex
	studies   map[string]studySlot

	quotesMu sync.RWMutex
	quotes   map[string]models.QuoteValue

	stateMu sync.RWMutex
	state   chartState

	seriesCount  atomic.Int64
	studiesCount atomic.Int64

	authMu    sync.RWMutex
	authToken string

	closed atomic.Bool
}

func NewManager(sender Sender, log zerolog.Logger) *Manager {
	return &Manager{
		sender:  sender,
		log:     log,
		series:  make(map[string]models.SeriesInfo),
		studies: make(map[string]studySlot),
		quotes:  make(map[string]models.QuoteValue),
	}
}

func (m *Manager) send(method string, params ...interface{}) error {
	if m.closed.Load() {
		return models.NewError(models.ErrTransportClosed, "session: send after delete")
	}
	frame, err := wire.Encode(method, params)
	if err != nil {
		return models.WrapError(models.ErrInternal, "session: encode "+method, err)
	}
	return m.sender.Send(frame)
}

// SetAuthToken replaces the stored auth token and pushes set_auth_token.
// Also the mechanism recovery uses to re-hydrate auth after a reconnect.
func (m *Manager) SetAuthToken(token string) error {
	m.authMu.Lock()
	m.authToken = token
	m.authMu.Unlock()
	return m.send(wire.MethodSetAuthToken, token)
}

func (m *Manager) AuthToken() string {
	m.authMu.RLock()
	defer m.authMu.RUnlock()
	return m.authToken
}

func (m *Manager) SetLocale(language, country string) error {
	return m.send(wire.MethodSetLocale, language, country)
}

func (m *Manager) SetDataQuality(quality string) error {
	return m.send(wire.MethodSetDataQuality, quality)
}

func (m *Manager) SetTimeZone(session, timezone string) error {
	return m.send(wire.MethodSwitchTimezone, session, timezone)
}

// NewChartSession allocates a cs_* id and sends chart_create_session.
func (m *Manager) NewChartSession() (string, error) {
	id := GenSessionID("cs")
	if err := m.send(wire.MethodChartCreateSession, id); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Manager) DeleteChartSession(session string) error {
	return m.send(wire.MethodChartDeleteSession, session)
}

// NewQuoteSession allocates a qs_* id, sends quote_create_session, then
// immediately registers the fixed wire.AllQuoteFields set.
func (m *Manager) NewQuoteSession() (string, error) {
	id := GenSessionID("qs")
	if err := m.send(wire.MethodQuoteCreateSession, id); err != nil {
		return "", err
	}
	if err := m.SetQuoteFields(id); err != nil {
		return "", err
	}
	return id, nil
}

// SetQuoteFields registers the full protocol field set on a quote session.
func (m *Manager) SetQuoteFields(session string) error {
	return m.send(wire.MethodQuoteSetFields, stringsToParams(session, wire.AllQuoteFields)...)
}

func (m *Manager) DeleteQuoteSession(session string) error {
	return m.send(wire.MethodQuoteDeleteSession, session)
}

func (m *Manager) QuoteFastSymbols(session string, symbols []string) error {
	return m.send(wire.MethodQuoteFastSymbols, stringsToParams(session, symbols)...)
}

func (m *Manager) QuoteAddSymbols(session string, symbols []string) error {
	return m.send(wire.MethodQuoteAddSymbols, stringsToParams(session, symbols)...)
}

func (m *Manager) QuoteRemoveSymbols(session string, symbols []string) error {
	return m.send(wire.MethodQuoteRemoveSymbols, stringsToParams(session, symbols)...)
}

func stringsToParams(first string, rest []string) []interface{} {
	params := make([]interface{}, 0, len(rest)+1)
	params = append(params, first)
	for _, s := range rest {
		params = append(params, s)
	}
	return params
}

// NewReplaySession allocates an rs_* id and sends replay_create_session.
func (m *Manager) NewReplaySession() (string, error) {
	id := GenSessionID("rs")
	if err := m.send(wire.MethodReplayCreateSession, id); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Manager) DeleteReplaySession(session string) error {
	return m.send(wire.MethodReplayDeleteSession, session)
}

func (m *Manager) ReplayAddSeries(replaySession, replaySeriesID string, opts models.ChartOptions) error {
	symInit, err := wire.EncodeSymbolInit(opts)
	if err != nil {
		return err
	}
	return m.send(wire.MethodReplayAddSeries, replaySession, replaySeriesID, symInit, string(opts.Interval))
}

func (m *Manager) ReplayReset(replaySession, replaySeriesID string, timestamp int64) error {
	return m.send(wire.MethodReplayReset, replaySession, replaySeriesID, timestamp)
}

func (m *Manager) ReplayStep(replaySession, replaySeriesID string, step int) error {
	return m.send(wire.MethodReplayStep, replaySession, replaySeriesID, step)
}

func (m *Manager) ReplayStart(replaySession, replaySeriesID string, interval models.Interval) error {
	return m.send(wire.MethodReplayStart, replaySession, replaySeriesID, string(interval))
}

func (m *Manager) ReplayStop(replaySession, replaySeriesID string) error {
	return m.send(wire.MethodReplayStop, replaySession, replaySeriesID)
}

// ResolveSymbol sends resolve_symbol for symbolSeriesID within chartSession,
// optionally anchored to a replay session (the replay parameter rides
// inside the symbol_init string).
func (m *Manager) ResolveSymbol(chartSession, symbolSeriesID string, opts models.ChartOptions) error {
	symInit, err := wire.EncodeSymbolInit(opts)
	if err != nil {
		return err
	}
	return m.send(wire.MethodResolveSymbol, chartSession, symbolSeriesID, symInit)
}

// AddSeries increments series_count, derives the series/symbol/version ids,
// sends resolve_symbol then create_series in that order (the server answers
// a reordered pair with series_error), and records series info.
func (m *Manager) AddSeries(chartSession string, opts models.ChartOptions) (seriesID, symbolID, versionTag string, err error) {
	n := m.seriesCount.Add(1)
	seriesID = fmt.Sprintf("sds_%d", n)
	symbolID = fmt.Sprintf("sds_sym_%d", n)
	versionTag = fmt.Sprintf("s%d", n)

	if err = m.ResolveSymbol(chartSession, symbolID, opts); err != nil {
		return "", "", "", err
	}
	rangeStr := wire.EncodeRange(opts.Range)
	if err = m.send(wire.MethodCreateSeries, chartSession, seriesID, versionTag, symbolID,
		string(opts.Interval), opts.BarCount, rangeStr); err != nil {
		return "", "", "", err
	}

	info := models.SeriesInfo{ChartSessionID: chartSession, Options: opts}
	m.seriesMu.Lock()
	m.series[seriesID] = info
	m.seriesMu.Unlock()
	return seriesID, symbolID, versionTag, nil
}

func (m *Manager) ModifySeries(chartSession, seriesID, versionTag, symbolID string, opts models.ChartOptions) error {
	rangeStr := wire.EncodeRange(opts.Range)
	return m.send(wire.MethodModifySeries, chartSession, seriesID, versionTag, symbolID,
		string(opts.Interval), opts.BarCount, rangeStr)
}

func (m *Manager) RemoveSeries(chartSession, seriesID string) error {
	m.seriesMu.Lock()
	delete(m.series, seriesID)
	m.seriesMu.Unlock()
	return m.send(wire.MethodRemoveSeries, chartSession, seriesID)
}

func (m *Manager) RequestMoreData(chartSession, seriesID string, count int) error {
	return m.send(wire.MethodRequestMoreData, chartSession, seriesID, count)
}

func (m *Manager) RequestMoreTickMarks(chartSession, seriesID string, count int) error {
	return m.send(wire.MethodRequestMoreTicks, chartSession, seriesID, count)
}

// studyConfigPayload renders a StudyConfig into the map the wire expects:
// either Pine-script inputs, or a builtin-name/config-map form.
func studyConfigPayload(cfg models.StudyConfig) interface{} {
	if cfg.PineInputs != nil {
		return cfg.PineInputs
	}
	payload := map[string]interface{}{
		"scriptId":      cfg.ScriptID,
		"scriptVersion": cfg.ScriptVersion,
		"scriptType":    string(cfg.ScriptType),
	}
	if cfg.BuiltinName != "" {
		payload["name"] = cfg.BuiltinName
	}
	for k, v := range cfg.Inputs {
		payload[k] = v
	}
	return payload
}

// AddStudy increments studies_count and sends create_study with either a
// Pine inputs payload or a builtin name+config map.
func (m *Manager) AddStudy(chartSession, seriesID string, cfg models.StudyConfig) (string, error) {
	n := m.studiesCount.Add(1)
	studyID := fmt.Sprintf("st%d", n)
	if err := m.send(wire.MethodCreateStudy, chartSession, studyID, "st1", seriesID, studyConfigPayload(cfg)); err != nil {
		return "", err
	}
	m.studiesMu.Lock()
	m.studies[studyID] = studySlot{SeriesID: seriesID, Config: cfg}
	m.studiesMu.Unlock()
	return studyID, nil
}

func (m *Manager) ModifyStudy(chartSession, studyID string, cfg models.StudyConfig) error {
	return m.send(wire.MethodModifyStudy, chartSession, studyID, "st1", studyConfigPayload(cfg))
}

// RemoveStudy matches the original's id-joining convention
// (series_id + "_" + study_id) before sending remove_study.
func (m *Manager) RemoveStudy(chartSession, studyID, seriesID string) error {
	m.studiesMu.Lock()
	delete(m.studies, studyID)
	m.studiesMu.Unlock()
	id := seriesID + "_" + studyID
	return m.send(wire.MethodRemoveStudy, chartSession, id)
}

// SetMarket is the convenience orchestration over the session calls:
// create a chart session, optionally set up replay, resolve the symbol,
// create the series, and optionally attach a study, in that exact order.
func (m *Manager) SetMarket(opts models.ChartOptions) (chartSession, seriesID string, err error) {
	chartSession, err = m.NewChartSession()
	if err != nil {
		return "", "", err
	}

	effectiveOpts := opts
	if opts.ReplayMode {
		replaySession := opts.ReplaySession
		if replaySession == "" {
			replaySession, err = m.NewReplaySession()
			if err != nil {
				return "", "", err
			}
		}
		replaySeriesID := genID()
		if err = m.ReplayAddSeries(replaySession, replaySeriesID, opts); err != nil {
			return "", "", err
		}
		if err = m.ReplayReset(replaySession, replaySeriesID, opts.ReplayFrom); err != nil {
			return "", "", err
		}
		effectiveOpts.ReplaySession = replaySession
	}

	seriesID, _, _, err = m.AddSeries(chartSession, effectiveOpts)
	if err != nil {
		return "", "", err
	}

	if opts.StudyConfig != nil {
		if _, err = m.AddStudy(chartSession, seriesID, *opts.StudyConfig); err != nil {
			return "", "", err
		}
	}

	return chartSession, seriesID, nil
}

// Clone spins up a second chart session that reuses an already-resolved
// symbol's options, skipping nothing protocol-wise (resolve_symbol still
// runs — TradingView has no "reuse resolution" wire call) but sparing the
// caller from re-deriving ChartOptions for a symbol already seen in the
// same run.
func (m *Manager) Clone(seriesID string) (chartSession, newSeriesID string, err error) {
	m.seriesMu.RLock()
	info, ok := m.series[seriesID]
	m.seriesMu.RUnlock()
	if !ok {
		return "", "", models.NewError(models.ErrInvalidArgument, "session: clone unknown series "+seriesID)
	}
	return m.SetMarket(info.Options)
}

// --- Metadata readers/writers used by dispatch ---

func (m *Manager) SeriesByID(id string) (models.SeriesInfo, bool) {
	m.seriesMu.RLock()
	defer m.seriesMu.RUnlock()
	info, ok := m.series[id]
	return info, ok
}

// KnownSeriesIDs returns a snapshot of currently tracked series ids, used
// by dispatch to find which p[1] keys correspond to known series.
func (m *Manager) KnownSeriesIDs() []string {
	m.seriesMu.RLock()
	defer m.seriesMu.RUnlock()
	ids := make([]string, 0, len(m.series))
	for id := range m.series {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) StudySeriesID(studyID string) (string, bool) {
	m.studiesMu.RLock()
	defer m.studiesMu.RUnlock()
	slot, ok := m.studies[studyID]
	return slot.SeriesID, ok
}

func (m *Manager) KnownStudyIDs() []string {
	m.studiesMu.RLock()
	defer m.studiesMu.RUnlock()
	ids := make([]string, 0, len(m.studies))
	for id := range m.studies {
		ids = append(ids, id)
	}
	return ids
}

// MergeQuote folds a quote delta into the accumulated value for symbol.
func (m *Manager) MergeQuote(symbol string, next models.QuoteValue) models.QuoteValue {
	m.quotesMu.Lock()
	defer m.quotesMu.Unlock()
	merged := m.quotes[symbol].Merge(next)
	m.quotes[symbol] = merged
	return merged
}

func (m *Manager) Quote(symbol string) (models.QuoteValue, bool) {
	m.quotesMu.RLock()
	defer m.quotesMu.RUnlock()
	q, ok := m.quotes[symbol]
	return q, ok
}

func (m *Manager) SetChartState(info models.SeriesInfo, bars []models.DataPoint) {
	m.stateMu.Lock()
	m.state.Series = info
	m.state.Bars = bars
	m.stateMu.Unlock()
}

func (m *Manager) SetSymbolInfo(sym models.SymbolInfo) {
	m.stateMu.Lock()
	m.state.Symbol = sym
	m.stateMu.Unlock()
}

func (m *Manager) ChartState() (models.SeriesInfo, []models.DataPoint, models.SymbolInfo) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state.Series, m.state.Bars, m.state.Symbol
}

func (m *Manager) SeriesCount() int64  { return m.seriesCount.Load() }
func (m *Manager) StudiesCount() int64 { return m.studiesCount.Load() }

// Delete clears all metadata, resets counters, and marks the manager
// closed; it does not itself close the transport (the client owns that).
func (m *Manager) Delete() {
	m.seriesMu.Lock()
	m.series = make(map[string]models.SeriesInfo)
	m.seriesMu.Unlock()

	m.studiesMu.Lock()
	m.studies = make(map[string]studySlot)
	m.studiesMu.Unlock()

	m.quotesMu.Lock()
	m.quotes = make(map[string]models.QuoteValue)
	m.quotesMu.Unlock()

	m.stateMu.Lock()
	m.state = chartState{}
	m.stateMu.Unlock()

	m.seriesCount.Store(0)
	m.studiesCount.Store(0)
	m.closed.Store(true)
}

func (m *Manager) IsClosed() bool { return m.closed.Load() }
