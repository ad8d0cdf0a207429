// Package analytics provides the two indicator helpers shipped alongside
// the streaming client: Wilder's RSI over a bar series and a recursive EMA
// over closing prices.
package analytics

import (
	"math"

	"tvfeed/models"
)

// DefaultRSIPeriod matches the conventional 14-bar lookback.
const DefaultRSIPeriod = 14

// RSI computes the relative strength index over the bars' closes. The
// first period values warm the smoothed averages up; entries before the
// indicator is warm are NaN. Output length equals input length.
func RSI(bars []models.DataPoint, period int) []float64 {
	if period <= 0 {
		period = DefaultRSIPeriod
	}
	out := make([]float64, len(bars))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(bars) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := bars[i].Close() - bars[i-1].Close()
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(bars); i++ {
		delta := bars[i].Close() - bars[i-1].Close()
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// EMA computes the final exponential moving average of close with the
// standard 2/(period+1) smoothing, seeded from the first value. Returns
// NaN on empty input.
func EMA(close []float64, period int) float64 {
	if len(close) == 0 || period <= 0 {
		return math.NaN()
	}
	alpha := 2.0 / (float64(period) + 1.0)
	ema := close[0]
	for _, p := range close[1:] {
		ema = alpha*p + (1-alpha)*ema
	}
	return ema
}

// EMASeries returns the running EMA at every bar close; useful when the
// caller wants the whole curve rather than the final value.
func EMASeries(bars []models.DataPoint, period int) []float64 {
	out := make([]float64, len(bars))
	if len(bars) == 0 || period <= 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1.0)
	ema := bars[0].Close()
	out[0] = ema
	for i := 1; i < len(bars); i++ {
		ema = alpha*bars[i].Close() + (1-alpha)*ema
		out[i] = ema
	}
	return out
}
