// Package dispatch is the protocol dispatcher: it classifies decoded wire
// segments, echoes heartbeats, decodes payloads against the session
// manager's metadata, and pushes typed events.
package dispatch

import (
	"strings"

	"github.com/rs/zerolog"

	"tvfeed/event"
	"tvfeed/metrics"
	"tvfeed/models"
	"tvfeed/session"
	"tvfeed/wire"
)

// Sender is the minimal write capability the dispatcher needs to echo
// heartbeats; transport.Transport satisfies it.
type Sender interface {
	Send(text string) error
}

// Dispatcher turns raw inbound frames into typed events on sink, using
// manager's metadata to resolve which payload keys belong to which series
// or study.
type Dispatcher struct {
	manager *session.Manager
	sink    event.Sink
	sender  Sender
	log     zerolog.Logger
}

func New(manager *session.Manager, sink event.Sink, sender Sender, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{manager: manager, sink: sink, sender: sender, log: log}
}

// HandleFrame decodes one raw inbound text frame and dispatches every
// segment it contains.
func (d *Dispatcher) HandleFrame(frame string) {
	for _, seg := range wire.Decode(frame) {
		d.handleSegment(seg)
	}
}

func (d *Dispatcher) handleSegment(seg wire.Segment) {
	switch {
	case seg.DecodeFailed:
		metrics.SegmentsDecodeFailedTotal.Inc()
		d.log.Warn().Str("raw", seg.Raw).Msg("dispatch: segment failed to parse")
		d.sink.Push(event.FromError(models.NewError(models.ErrProtocolParse, "dispatch: unparseable segment"), nil))
	case seg.Heartbeat != nil:
		d.echoHeartbeat(seg.Raw)
	case seg.ServerInfo != nil:
		d.log.Debug().Interface("info", seg.ServerInfo).Msg("dispatch: server info frame")
	case seg.Envelope != nil:
		d.handleEnvelope(*seg.Envelope)
	}
}

// echoHeartbeat re-frames and sends the numeric payload back verbatim.
// A send failure here is non-fatal to the reader: the
// transport's own Done() channel is what eventually surfaces a dead
// connection to the command runner.
func (d *Dispatcher) echoHeartbeat(raw string) {
	if err := d.sender.Send(wire.EncodeHeartbeat(raw)); err != nil {
		d.log.Warn().Err(err).Msg("dispatch: heartbeat echo failed")
		return
	}
	metrics.HeartbeatsEchoedTotal.Inc()
}

func (d *Dispatcher) handleEnvelope(env wire.Envelope) {
	kind, errKind, isErr, known := event.ClassifyMethod(env.Method)
	if !known {
		d.sink.Push(event.FromUnknown(env.Method, env.Params))
		return
	}
	if isErr {
		d.sink.Push(event.Event{Kind: event.KindError, ErrKind: errKind,
			Err: models.NewError(errKind, "dispatch: "+env.Method), Method: env.Method, Raw: env.Params})
		return
	}

	switch kind {
	case event.KindChartData:
		d.handleChartData(env.Params)
	case event.KindQuoteData:
		d.handleQuoteData(env.Params)
	case event.KindSymbolInfo:
		d.handleSymbolResolved(env.Params)
	case event.KindSeriesLoading, event.KindStudyLoading:
		d.sink.Push(event.Event{Kind: kind, Loading: decodeLoadingMsg(env.Params, kind == event.KindStudyLoading), Raw: env.Params})
	case event.KindSeriesCompleted, event.KindQuoteCompleted, event.KindStudyCompleted,
		event.KindReplayOk, event.KindReplayPoint, event.KindReplayInstanceID,
		event.KindReplayResolutions, event.KindReplayDataEnd:
		d.sink.Push(event.Event{Kind: kind, Raw: env.Params, Method: env.Method})
	default:
		d.sink.Push(event.FromUnknown(env.Method, env.Params))
	}
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func asSlice(v interface{}) ([]interface{}, bool) {
	s, ok := v.([]interface{})
	return s, ok
}

func asFloat(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// decodeBars turns a raw "s" array of {"i": index, "v": [...]} objects
// into DataPoints.
func decodeBars(raw interface{}) []models.DataPoint {
	entries, ok := asSlice(raw)
	if !ok {
		return nil
	}
	out := make([]models.DataPoint, 0, len(entries))
	for _, e := range entries {
		m, ok := asMap(e)
		if !ok {
			continue
		}
		idx, _ := asFloat(m["i"])
		vs, _ := asSlice(m["v"])
		values := make([]float64, 0, len(vs))
		for _, v := range vs {
			f, _ := asFloat(v)
			values = append(values, f)
		}
		out = append(out, models.DataPoint{Index: int64(idx), Value: values})
	}
	return out
}

// handleChartData decodes a timescale_update/du envelope. params[0] is
// the chart session id, params[1] is a map keyed by both series ids
// (value shape {"s": [...]}) and study ids sharing one payload.
func (d *Dispatcher) handleChartData(params []interface{}) {
	if len(params) < 2 {
		return
	}
	payload, ok := asMap(params[1])
	if !ok {
		return
	}

	for _, seriesID := range d.manager.KnownSeriesIDs() {
		entry, ok := payload[seriesID]
		if !ok {
			continue
		}
		entryMap, ok := asMap(entry)
		if !ok {
			continue
		}
		bars := decodeBars(entryMap["s"])
		info, _ := d.manager.SeriesByID(seriesID)
		d.manager.SetChartState(info, bars)
		d.sink.Push(event.Event{Kind: event.KindChartData, SeriesInfo: info, Bars: bars})
	}

	for _, studyID := range d.manager.KnownStudyIDs() {
		entry, ok := payload[studyID]
		if !ok {
			continue
		}
		entryMap, ok := asMap(entry)
		if !ok {
			continue
		}
		data := decodeStudyResponse(entryMap)
		seriesID, _ := d.manager.StudySeriesID(studyID)
		info, _ := d.manager.SeriesByID(seriesID)
		d.sink.Push(event.Event{Kind: event.KindStudyData, SeriesInfo: info, StudyData: data})
	}
}

// decodeStudyResponse decodes a study payload entry: "st" bars plus the
// "ns" graphics blob. The dwg*-keyed graphics shape is undocumented;
// unrecognized keys are ignored rather than treated as errors.
func decodeStudyResponse(entry map[string]interface{}) models.StudyResponseData {
	data := models.StudyResponseData{Studies: decodeBars(entry["st"])}
	ns, ok := asMap(entry["ns"])
	if !ok {
		return data
	}
	data.Graphics = decodeGraphics(ns)
	return data
}

// graphicEntries iterates an id-keyed map of drawing objects.
func graphicEntries(blob map[string]interface{}, key string, fn func(m map[string]interface{})) {
	entries, ok := asMap(blob[key])
	if !ok {
		return
	}
	for _, raw := range entries {
		if m, ok := asMap(raw); ok {
			fn(m)
		}
	}
}

func mapFloat(m map[string]interface{}, key string) float64 {
	f, _ := asFloat(m[key])
	return f
}

func mapString(m map[string]interface{}, key string) string {
	s, _ := asString(m[key])
	return s
}

func decodeGraphics(ns map[string]interface{}) models.GraphicData {
	var g models.GraphicData
	if idxRaw, ok := asSlice(ns["indexes"]); ok {
		for _, v := range idxRaw {
			if f, ok := asFloat(v); ok {
				g.Indexes = append(g.Indexes, int(f))
			}
		}
	}
	blob, ok := asMap(ns["d"])
	if !ok {
		return g
	}

	graphicEntries(blob, "dwglabels", func(m map[string]interface{}) {
		g.Labels = append(g.Labels, models.GraphicLabel{
			Index:     int(mapFloat(m, "x")),
			Price:     mapFloat(m, "y"),
			Text:      mapString(m, "text"),
			YLoc:      models.TranslateYLoc(mapString(m, "y_loc")),
			Style:     models.TranslateLabelStyle(mapString(m, "style")),
			Color:     mapString(m, "color"),
			TextColor: mapString(m, "text_color"),
			Size:      mapFloat(m, "size"),
			TextAlign: mapString(m, "text_align"),
			ToolTip:   mapString(m, "tool_tip"),
		})
	})

	graphicEntries(blob, "dwglines", func(m map[string]interface{}) {
		g.Lines = append(g.Lines, models.GraphicLine{
			Index1: int(mapFloat(m, "x1")),
			Index2: int(mapFloat(m, "x2")),
			Price1: mapFloat(m, "y1"),
			Price2: mapFloat(m, "y2"),
			Extend: models.TranslateExtend(mapString(m, "extend")),
			Style:  models.TranslateLineStyle(mapString(m, "style")),
			Color:  mapString(m, "color"),
			Width:  int(mapFloat(m, "width")),
		})
	})

	graphicEntries(blob, "dwgboxes", func(m map[string]interface{}) {
		g.Boxes = append(g.Boxes, models.GraphicBox{
			Index1:          int(mapFloat(m, "x1")),
			Index2:          int(mapFloat(m, "x2")),
			Price1:          mapFloat(m, "y1"),
			Price2:          mapFloat(m, "y2"),
			Extend:          models.TranslateExtend(mapString(m, "extend")),
			Style:           models.TranslateBoxStyle(mapString(m, "style")),
			Color:           mapString(m, "color"),
			BackgroundColor: mapString(m, "bg_color"),
			Width:           int(mapFloat(m, "width")),
			Text:            mapString(m, "text"),
			TextColor:       mapString(m, "text_color"),
		})
	})

	graphicEntries(blob, "dwgtables", func(m map[string]interface{}) {
		table := models.GraphicTable{
			ID:              mapString(m, "id"),
			Position:        mapString(m, "position"),
			Rows:            int(mapFloat(m, "rows")),
			Columns:         int(mapFloat(m, "columns")),
			BackgroundColor: mapString(m, "bg_color"),
			FrameColor:      mapString(m, "frame_color"),
			FrameWidth:      mapFloat(m, "frame_width"),
			BorderColor:     mapString(m, "border_color"),
			BorderWidth:     mapFloat(m, "border_width"),
		}
		if rows, ok := asSlice(m["cells"]); ok {
			for _, row := range rows {
				cols, ok := asSlice(row)
				if !ok {
					continue
				}
				for _, cell := range cols {
					if cm, ok := asMap(cell); ok {
						table.Cells = append(table.Cells, decodeTableCell(cm))
					}
				}
			}
		}
		g.Tables = append(g.Tables, table)
	})

	// Standalone cells reference their table by id prefix; keep them with
	// the matching table when one is present.
	graphicEntries(blob, "dwgtablecells", func(m map[string]interface{}) {
		cell := decodeTableCell(m)
		for i := range g.Tables {
			if cell.ID != "" && strings.HasPrefix(cell.ID, g.Tables[i].ID) {
				g.Tables[i].Cells = append(g.Tables[i].Cells, cell)
				return
			}
		}
		g.Tables = append(g.Tables, models.GraphicTable{Cells: []models.GraphicTableCell{cell}})
	})

	graphicEntries(blob, "horizlines", func(m map[string]interface{}) {
		g.HorizLines = append(g.HorizLines, models.GraphicHorizLine{
			Price:      mapFloat(m, "y"),
			StartIndex: int(mapFloat(m, "start_index")),
			EndIndex:   int(mapFloat(m, "end_index")),
			Style:      models.TranslateLineStyle(mapString(m, "style")),
			Color:      mapString(m, "color"),
			Width:      int(mapFloat(m, "width")),
		})
	})

	graphicEntries(blob, "polygons", func(m map[string]interface{}) {
		poly := models.GraphicPolygon{
			Style:           models.TranslateLineStyle(mapString(m, "style")),
			Color:           mapString(m, "color"),
			BackgroundColor: mapString(m, "bg_color"),
			Width:           int(mapFloat(m, "width")),
		}
		if pts, ok := asSlice(m["points"]); ok {
			for _, pt := range pts {
				if pm, ok := asMap(pt); ok {
					poly.Points = append(poly.Points, models.PolygonPoint{
						Index: int(mapFloat(pm, "index")),
						X:     mapFloat(pm, "x"),
						Y:     mapFloat(pm, "y"),
					})
				}
			}
		}
		g.Polygons = append(g.Polygons, poly)
	})

	graphicEntries(blob, "hhists", func(m map[string]interface{}) {
		g.HorizHists = append(g.HorizHists, models.GraphicHorizHist{
			Price:        mapFloat(m, "y"),
			FirstBarTime: int64(mapFloat(m, "first_bar_time")),
			LastBarTime:  int64(mapFloat(m, "last_bar_time")),
			Style:        models.TranslateLineStyle(mapString(m, "style")),
			Color:        mapString(m, "color"),
			Width:        int(mapFloat(m, "width")),
		})
	})

	return g
}

func decodeTableCell(m map[string]interface{}) models.GraphicTableCell {
	return models.GraphicTableCell{
		ID:              mapString(m, "id"),
		Text:            mapString(m, "text"),
		Width:           mapFloat(m, "width"),
		Height:          mapFloat(m, "height"),
		TextColor:       mapString(m, "text_color"),
		TextHAlign:      mapString(m, "text_h_align"),
		TextVAlign:      mapString(m, "text_v_align"),
		TextSize:        mapFloat(m, "text_size"),
		BackgroundColor: mapString(m, "bg_color"),
	}
}

// decodeQuoteValue maps the wire's abbreviated quote keys onto the
// QuoteValue fields; absent keys stay nil.
func decodeQuoteValue(v map[string]interface{}) models.QuoteValue {
	var q models.QuoteValue
	setF := func(dst **float64, key string) {
		if f, ok := asFloat(v[key]); ok {
			*dst = &f
		}
	}
	setS := func(dst **string, key string) {
		if s, ok := asString(v[key]); ok {
			*dst = &s
		}
	}
	setF(&q.Ask, "ask")
	setF(&q.AskSize, "ask_size")
	setF(&q.Bid, "bid")
	setF(&q.BidSize, "bid_size")
	setF(&q.Change, "ch")
	setF(&q.ChangePct, "chp")
	setF(&q.Open, "open_price")
	setF(&q.High, "high_price")
	setF(&q.Low, "low_price")
	setF(&q.PrevClose, "prev_close_price")
	setF(&q.Price, "lp")
	setF(&q.PriceTime, "lp_time")
	setF(&q.Volume, "volume")
	setS(&q.Currency, "currency_code")
	setS(&q.Symbol, "short_name")
	setS(&q.Exchange, "exchange")
	setS(&q.MarketType, "type")
	setS(&q.Description, "description")
	setS(&q.Country, "country_code")
	setS(&q.DataProvider, "provider_id")
	setS(&q.SymbolID, "pro_name")
	return q
}

// handleQuoteData decodes a qsd envelope: params[1] is {"n","s","v"}. A
// status other than "ok" marks the whole batch malformed.
func (d *Dispatcher) handleQuoteData(params []interface{}) {
	if len(params) < 2 {
		return
	}
	payload, ok := asMap(params[1])
	if !ok {
		return
	}
	name, _ := asString(payload["n"])
	status, _ := asString(payload["s"])
	if status != "ok" {
		d.sink.Push(event.Event{Kind: event.KindError, ErrKind: models.ErrQuoteDataStatus,
			Err: models.NewError(models.ErrQuoteDataStatus, "dispatch: quote status "+status+" for "+name), Raw: params})
		return
	}
	valueMap, ok := asMap(payload["v"])
	if !ok {
		return
	}
	qv := decodeQuoteValue(valueMap)
	merged := d.manager.MergeQuote(name, qv)
	d.sink.Push(event.Event{Kind: event.KindQuoteData, Quote: merged})
}

// handleSymbolResolved decodes resolve_symbol's response: params[0] chart
// session, params[1] symbol series id, params[2] the SymbolInfo object.
func (d *Dispatcher) handleSymbolResolved(params []interface{}) {
	if len(params) < 3 {
		return
	}
	m, ok := asMap(params[2])
	if !ok {
		return
	}
	sym := decodeSymbolInfo(m)
	d.manager.SetSymbolInfo(sym)
	d.sink.Push(event.Event{Kind: event.KindSymbolInfo, Symbol: sym})
}

func decodeSymbolInfo(m map[string]interface{}) models.SymbolInfo {
	str := func(key string) string {
		s, _ := asString(m[key])
		return s
	}
	var sub []string
	if raw, ok := asSlice(m["subsessions"]); ok {
		for _, v := range raw {
			sm, ok := asMap(v)
			if !ok {
				continue
			}
			s, _ := asString(sm["session"])
			sub = append(sub, s)
		}
	}
	var aliases []string
	if raw, ok := asSlice(m["aliases"]); ok {
		for _, v := range raw {
			if s, ok := asString(v); ok {
				aliases = append(aliases, s)
			}
		}
	}
	currency := str("currency_code")
	if currency == "" {
		currency = str("currency_id")
	}
	return models.SymbolInfo{
		ID:             str("pro_name"),
		Name:           str("name"),
		Description:    str("description"),
		Exchange:       str("exchange"),
		ListedExchange: str("listed_exchange"),
		Currency:       currency,
		BaseCurrency:   str("base_currency"),
		Timezone:       str("timezone"),
		MarketType:     str("type"),
		SubSessions:    sub,
		Aliases:        aliases,
	}
}

// decodeLoadingMsg decodes the (session, id, update_mode[, version]) tuple
// shared by series_loading and study_loading frames.
func decodeLoadingMsg(params []interface{}, isStudy bool) event.LoadingMsg {
	var msg event.LoadingMsg
	msg.IsStudy = isStudy
	if s, ok := wire.ParamAsString(params, 0); ok {
		msg.Session = s
	}
	if s, ok := wire.ParamAsString(params, 1); ok {
		msg.ID = s
	}
	if s, ok := wire.ParamAsString(params, 2); ok {
		msg.UpdateMode = s
	}
	if s, ok := wire.ParamAsString(params, 3); ok {
		msg.Version = s
	}
	return msg
}
