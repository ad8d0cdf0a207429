package session

import (
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvfeed/models"
)

type fakeSender struct {
	frames []string
}

func (f *fakeSender) Send(text string) error {
	f.frames = append(f.frames, text)
	return nil
}

func newTestManager() (*Manager, *fakeSender) {
	s := &fakeSender{}
	return NewManager(s, zerolog.Nop()), s
}

var sessionIDShape = regexp.MustCompile(`^(cs|qs|rs)_[A-Za-z0-9]{12}$`)

func TestSessionIDShape(t *testing.T) {
	m, _ := newTestManager()
	cs, err := m.NewChartSession()
	require.NoError(t, err)
	qs, err := m.NewQuoteSession()
	require.NoError(t, err)
	rs, err := m.NewReplaySession()
	require.NoError(t, err)

	for _, id := range []string{cs, qs, rs} {
		assert.Regexp(t, sessionIDShape, id)
	}
}

func TestSessionIDCollisionIsNegligible(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := GenSessionID("cs")
		_, dup := seen[id]
		require.False(t, dup, "unexpected collision at iteration %d", i)
		seen[id] = struct{}{}
	}
}

func TestNewQuoteSession_SendsAllFieldsImmediately(t *testing.T) {
	m, sender := newTestManager()
	_, err := m.NewQuoteSession()
	require.NoError(t, err)

	require.Len(t, sender.frames, 2)
	assert.Contains(t, sender.frames[0], `"quote_create_session"`)
	assert.Contains(t, sender.frames[1], `"quote_set_fields"`)
	for _, field := range []string{"lp", "bid", "ask", "provider_id"} {
		assert.Contains(t, sender.frames[1], field)
	}
}

func TestAddSeries_OrdersResolveBeforeCreate(t *testing.T) {
	m, sender := newTestManager()
	cs, err := m.NewChartSession()
	require.NoError(t, err)
	sender.frames = nil

	opts := models.NewChartOptions("VCB", "HOSE", models.Interval1Day)
	opts.BarCount = 10
	seriesID, symbolID, versionTag, err := m.AddSeries(cs, opts)
	require.NoError(t, err)
	assert.Equal(t, "sds_1", seriesID)
	assert.Equal(t, "sds_sym_1", symbolID)
	assert.Equal(t, "s1", versionTag)

	require.Len(t, sender.frames, 2)
	assert.Contains(t, sender.frames[0], `"resolve_symbol"`)
	assert.Contains(t, sender.frames[1], `"create_series"`)

	info, ok := m.SeriesByID(seriesID)
	require.True(t, ok)
	assert.Equal(t, cs, info.ChartSessionID)
}

func TestSeriesCountMonotonic(t *testing.T) {
	m, _ := newTestManager()
	cs, _ := m.NewChartSession()
	for i := 0; i < 5; i++ {
		_, _, _, err := m.AddSeries(cs, models.NewChartOptions("A", "B", models.Interval1Day))
		require.NoError(t, err)
	}
	assert.EqualValues(t, 5, m.SeriesCount())
}

func TestMergeQuote_PresentWinsLatest(t *testing.T) {
	m, _ := newTestManager()
	p1, p2 := 10.0, 11.0
	bid := 9.5
	m.MergeQuote("NASDAQ:AAPL", models.QuoteValue{Price: &p1, Bid: &bid})
	got := m.MergeQuote("NASDAQ:AAPL", models.QuoteValue{Price: &p2})

	require.NotNil(t, got.Price)
	assert.Equal(t, p2, *got.Price)
	require.NotNil(t, got.Bid)
	assert.Equal(t, bid, *got.Bid)
}

func TestSetMarket_ReplayModeOrdering(t *testing.T) {
	m, sender := newTestManager()
	opts := models.NewChartOptions("BTCUSD", "COINBASE", models.Interval1Hour)
	opts.ReplayMode = true
	opts.ReplayFrom = 1700000000

	_, _, err := m.SetMarket(opts)
	require.NoError(t, err)

	methods := make([]string, 0, len(sender.frames))
	re := regexp.MustCompile(`"m":"([a-z_]+)"`)
	for _, f := range sender.frames {
		match := re.FindStringSubmatch(f)
		require.NotNil(t, match, f)
		methods = append(methods, match[1])
	}

	assert.Equal(t, []string{
		"chart_create_session",
		"replay_create_session",
		"replay_add_series",
		"replay_reset",
		"resolve_symbol",
		"create_series",
	}, methods)
}

func TestDelete_ResetsCountersAndMetadata(t *testing.T) {
	m, _ := newTestManager()
	cs, _ := m.NewChartSession()
	_, _, _, err := m.AddSeries(cs, models.NewChartOptions("A", "B", models.Interval1Day))
	require.NoError(t, err)
	require.EqualValues(t, 1, m.SeriesCount())

	m.Delete()
	assert.EqualValues(t, 0, m.SeriesCount())
	assert.Empty(t, m.KnownSeriesIDs())
	assert.True(t, m.IsClosed())
}
