package wire

import (
	"fmt"
	"strconv"

	"github.com/segmentio/encoding/json"

	"tvfeed/models"
)

// Outbound method names, verbatim as the server expects them.
const (
	MethodSetAuthToken        = "set_auth_token"
	MethodSetLocale           = "set_locale"
	MethodSetDataQuality      = "set_data_quality"
	MethodSwitchTimezone      = "switch_timezone"
	MethodChartCreateSession  = "chart_create_session"
	MethodChartDeleteSession  = "chart_delete_session"
	MethodQuoteCreateSession  = "quote_create_session"
	MethodQuoteDeleteSession  = "quote_delete_session"
	MethodQuoteSetFields      = "quote_set_fields"
	MethodQuoteAddSymbols     = "quote_add_symbols"
	MethodQuoteFastSymbols    = "quote_fast_symbols"
	MethodQuoteRemoveSymbols  = "quote_remove_symbols"
	MethodResolveSymbol       = "resolve_symbol"
	MethodCreateSeries        = "create_series"
	MethodModifySeries        = "modify_series"
	MethodRemoveSeries        = "remove_series"
	MethodCreateStudy         = "create_study"
	MethodModifyStudy         = "modify_study"
	MethodRemoveStudy         = "remove_study"
	MethodRequestMoreData     = "request_more_data"
	MethodRequestMoreTicks    = "request_more_tickmarks"
	MethodReplayCreateSession = "replay_create_session"
	MethodReplayDeleteSession = "replay_delete_session"
	MethodReplayAddSeries     = "replay_add_series"
	MethodReplayReset         = "replay_reset"
	MethodReplayStep          = "replay_step"
	MethodReplayStart         = "replay_start"
	MethodReplayStop          = "replay_stop"
)

// Inbound method names.
const (
	EvtChartData         = "timescale_update"
	EvtChartDataUpdate   = "du"
	EvtQuoteData         = "qsd"
	EvtQuoteCompleted    = "quote_completed"
	EvtSeriesLoading     = "series_loading"
	EvtSeriesCompleted   = "series_completed"
	EvtSymbolResolved    = "symbol_resolved"
	EvtReplayOk          = "replay_ok"
	EvtReplayPoint       = "replay_point"
	EvtReplayInstanceID  = "replay_instance_id"
	EvtReplayResolutions = "replay_resolutions"
	EvtReplayDataEnd     = "replay_data_end"
	EvtStudyLoading      = "study_loading"
	EvtStudyCompleted    = "study_completed"
	EvtSymbolError       = "symbol_error"
	EvtSeriesError       = "series_error"
	EvtCriticalError     = "critical_error"
	EvtStudyError        = "study_error"
	EvtProtocolError     = "protocol_error"
	EvtReplayError       = "replay_error"
)

// AllQuoteFields is the exact ordered field list transmitted verbatim in
// quote_set_fields. Do not reorder or trim; the server expects exactly
// this set.
var AllQuoteFields = []string{
	"lp", "lp_time", "ask", "bid", "bid_size", "ask_size", "ch", "chp",
	"volume", "high_price", "low_price", "open_price", "prev_close_price",
	"currency_code", "current_session", "description", "exchange", "format",
	"fractional", "is_tradable", "language", "local_description", "logoid",
	"minmov", "minmove2", "original_name", "pricescale", "pro_name",
	"short_name", "type", "update_mode", "fundamentals", "rch", "rchp",
	"rtc", "rtc_time", "status", "industry", "basic_eps_net_income",
	"beta_1_year", "market_cap_basic", "earnings_per_share_basic_ttm",
	"price_earnings_ttm", "sector", "dividends_yield", "timezone",
	"country_code", "provider_id",
}

// EncodeSymbolInit builds the "=" + JSON object string used as the first
// argument to resolve_symbol and replay_add_series. The leading "=" is
// part of the string field, not a separator.
func EncodeSymbolInit(opts models.ChartOptions) (string, error) {
	m := map[string]interface{}{
		"adjustment": string(opts.Adjustment),
		"symbol":     fmt.Sprintf("%s:%s", opts.Exchange, opts.Symbol),
	}
	if opts.Adjustment == "" {
		m["adjustment"] = string(models.AdjustmentSplits)
	}
	if opts.Currency != "" {
		m["currency-id"] = opts.Currency
	}
	if opts.SessionType != "" {
		m["session"] = string(opts.SessionType)
	}
	if opts.ReplaySession != "" {
		m["replay"] = opts.ReplaySession
	}

	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("wire: encode symbol_init: %w", err)
	}
	return "=" + string(b), nil
}

// EncodeRange renders a models.Range as the single-string form the
// protocol expects: "r,<from>:<to>" for absolute windows, a named window
// literal, or "" when bar_count governs.
func EncodeRange(r models.Range) string {
	if r.IsAbsolute() {
		return fmt.Sprintf("r,%s:%s", strconv.FormatInt(r.From, 10), strconv.FormatInt(r.To, 10))
	}
	if r.Named != "" {
		return string(r.Named)
	}
	return ""
}
