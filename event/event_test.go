package event

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvfeed/models"
	"tvfeed/wire"
)

func TestClassifyMethod_KnownDataEvents(t *testing.T) {
	kind, _, isErr, known := ClassifyMethod(wire.EvtChartData)
	assert.True(t, known)
	assert.False(t, isErr)
	assert.Equal(t, KindChartData, kind)

	kind, _, _, known = ClassifyMethod(wire.EvtQuoteData)
	assert.True(t, known)
	assert.Equal(t, KindQuoteData, kind)
}

func TestClassifyMethod_ErrorEvents(t *testing.T) {
	kind, errKind, isErr, known := ClassifyMethod(wire.EvtCriticalError)
	assert.True(t, known)
	assert.True(t, isErr)
	assert.Equal(t, KindError, kind)
	assert.Equal(t, models.ErrTradingViewCritical, errKind)
}

func TestClassifyMethod_Unknown(t *testing.T) {
	_, _, _, known := ClassifyMethod("something_new")
	assert.False(t, known)
}

func TestChannel_PushAndDrain(t *testing.T) {
	ch := NewChannel(4, zerolog.Nop())
	ch.Push(Event{Kind: KindSymbolInfo, Symbol: models.SymbolInfo{Name: "AAPL"}})
	got := <-ch.Events()
	assert.Equal(t, KindSymbolInfo, got.Kind)
	assert.Equal(t, "AAPL", got.Symbol.Name)
}

func TestBoundedDropOldest_DropsNonPreservedWhenFull(t *testing.T) {
	b := NewBoundedDropOldest(2, zerolog.Nop())
	b.Push(Event{Kind: KindChartData, Method: "first"})
	b.Push(Event{Kind: KindChartData, Method: "second"})
	b.Push(Event{Kind: KindChartData, Method: "third"})

	first := <-b.Events()
	second := <-b.Events()
	assert.Equal(t, "second", first.Method)
	assert.Equal(t, "third", second.Method)
}

func TestBoundedDropOldest_PreservesErrorAndSeriesCompleted(t *testing.T) {
	b := NewBoundedDropOldest(1, zerolog.Nop())
	b.Push(Event{Kind: KindChartData, Method: "droppable"})
	b.Push(Event{Kind: KindSeriesCompleted, Method: "must-survive"})

	got := <-b.Events()
	assert.Equal(t, KindSeriesCompleted, got.Kind)
	assert.Equal(t, "must-survive", got.Method)
}

func TestFromError_UnwrapsTVErrorKind(t *testing.T) {
	tvErr := models.NewError(models.ErrTradingViewSeries, "series gone")
	e := FromError(tvErr, []interface{}{"s1"})
	assert.Equal(t, KindError, e.Kind)
	assert.Equal(t, models.ErrTradingViewSeries, e.ErrKind)
	require.ErrorIs(t, e.Err, tvErr)
}

func TestFromError_PlainErrorBecomesInternal(t *testing.T) {
	e := FromError(assert.AnError, nil)
	assert.Equal(t, models.ErrInternal, e.ErrKind)
}

func TestFromUnknown(t *testing.T) {
	e := FromUnknown("mystery_method", []interface{}{1, 2})
	assert.Equal(t, KindUnknown, e.Kind)
	assert.Equal(t, "mystery_method", e.Method)
	assert.Len(t, e.Raw, 2)
}
