package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataPointAccessorsPadMissingWithNaN(t *testing.T) {
	d := DataPoint{Index: 1, Value: []float64{1000, 1.5, 2.5}}

	assert.Equal(t, 1000.0, d.Timestamp())
	assert.Equal(t, 1.5, d.Open())
	assert.Equal(t, 2.5, d.High())
	assert.True(t, math.IsNaN(d.Low()))
	assert.True(t, math.IsNaN(d.Close()))
	assert.True(t, math.IsNaN(d.Volume()))
}

func TestDataPointEqualIsStructural(t *testing.T) {
	a := DataPoint{Index: 1, Value: []float64{1, 2, 3}}
	b := DataPoint{Index: 1, Value: []float64{1, 2, 3}}
	c := DataPoint{Index: 1, Value: []float64{1, 2, 4}}

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestNewChartOptionsDefaults(t *testing.T) {
	opts := NewChartOptions("VCB", "HOSE", Interval1Day)

	assert.Equal(t, DefaultBarCount, opts.BarCount)
	assert.Equal(t, AdjustmentSplits, opts.Adjustment)
	assert.Equal(t, "VCB", opts.Symbol)
	assert.Equal(t, "HOSE", opts.Exchange)
}

func TestHourlyIntervalsUseHSuffixOnTheWire(t *testing.T) {
	assert.Equal(t, "1H", string(Interval1Hour))
	assert.Equal(t, "2H", string(Interval2Hour))
	assert.Equal(t, "4H", string(Interval4Hour))
}

func TestTranslateLabelStyleUnknownFallsBackToNone(t *testing.T) {
	assert.Equal(t, LabelStyleXCross, TranslateLabelStyle("xcr"))
	assert.Equal(t, LabelStyleArrowUp, TranslateLabelStyle("aup"))
	assert.Equal(t, LabelStyleLabelUp, TranslateLabelStyle("lup"))
	assert.Equal(t, LabelStyleLabelLowerLeft, TranslateLabelStyle("llwlf"))
	assert.Equal(t, LabelStyleLabelUpperRight, TranslateLabelStyle("luprg"))
	assert.Equal(t, LabelStyleLabelCenter, TranslateLabelStyle("lcn"))
	assert.Equal(t, LabelStyleNone, TranslateLabelStyle("not-a-real-code"))
}

func TestTranslateYLocShortCodes(t *testing.T) {
	assert.Equal(t, YLocAboveBar, TranslateYLoc("ab"))
	assert.Equal(t, YLocBelowBar, TranslateYLoc("bl"))
	assert.Equal(t, YLocPrice, TranslateYLoc("pr"))
	assert.Equal(t, YLocPrice, TranslateYLoc("unknown"))
}

func TestTranslateExtendUsesFirstCharacter(t *testing.T) {
	assert.Equal(t, ExtendRight, TranslateExtend("r"))
	assert.Equal(t, ExtendRight, TranslateExtend("right"))
	assert.Equal(t, ExtendBoth, TranslateExtend("both"))
	assert.Equal(t, ExtendNone, TranslateExtend(""))
	assert.Equal(t, ExtendNone, TranslateExtend("n"))
}

func TestTranslateLineStyleDefaultsToSolid(t *testing.T) {
	assert.Equal(t, LineStyleDashed, TranslateLineStyle("dsh"))
	assert.Equal(t, LineStyleArrowBoth, TranslateLineStyle("ab"))
	assert.Equal(t, LineStyleSolid, TranslateLineStyle("unknown"))
}
