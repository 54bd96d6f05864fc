// Package indicator computes volatility bands and the stochastic oscillator
// over a trailing window of candles. Window length and evaluation index are
// always passed separately.
package indicator

import (
	"fmt"
	"math"

	"github.com/adamdenes/daytrader/internal/models"
	"github.com/markcheno/go-talib"
)

const (
	DefaultBandsWindow      = 20
	DefaultDeviations       = 2.0
	DefaultOscillatorWindow = 14

	// %D averages %K over this many consecutive bars.
	smoothing = 3
)

type BollingerBands struct {
	Middle    float64
	Lower     float64
	Upper     float64
	Bandwidth float64 // percent of Middle
}

type Oscillator struct {
	K float64
	D float64
}

// InsufficientDataError is returned when the window ending at Index reaches
// before the first bar.
type InsufficientDataError struct {
	Index     int
	Required  int
	Available int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf(
		"insufficient data at bar %d: need %d bars, have %d",
		e.Index, e.Required, e.Available,
	)
}

// DegenerateWindowError is returned when a window has no price range
// (oscillator) or a zero mean (bands).
type DegenerateWindowError struct {
	Index     int
	Indicator string
}

func (e *DegenerateWindowError) Error() string {
	return fmt.Sprintf("degenerate %s window at bar %d", e.Indicator, e.Index)
}

// MinIndex returns the first bar index at which both indicators are defined.
func MinIndex(bandsWindow, oscillatorWindow int) int {
	return max(bandsWindow-1, oscillatorWindow+smoothing-2)
}

// Bands computes Bollinger bands over the closes of bars[i-length+1 : i+1]
// with a population standard deviation.
func Bands(bars []*models.Candle, i, length int, deviations float64) (BollingerBands, error) {
	if err := validate(bars, i, length); err != nil {
		return BollingerBands{}, err
	}
	if deviations < 0 {
		return BollingerBands{}, &models.InvalidConfigurationError{
			Field: "deviations", Reason: "must not be negative",
		}
	}
	if i+1 < length {
		return BollingerBands{}, &InsufficientDataError{Index: i, Required: length, Available: i + 1}
	}

	closes := make([]float64, length)
	for n, c := range bars[i-length+1 : i+1] {
		closes[n] = c.Close
	}

	// talib.BBands zeroes variances below 1e-14, which flattens the bands
	// of pairs priced under ~1e-5. Var has no such cutoff.
	middle := talib.Sma(closes, length)[length-1]
	if middle == 0 {
		return BollingerBands{}, &DegenerateWindowError{Index: i, Indicator: "bands"}
	}
	sd := math.Sqrt(math.Max(talib.Var(closes, length)[length-1], 0))
	bb := BollingerBands{
		Middle: middle,
		Upper:  middle + deviations*sd,
		Lower:  middle - deviations*sd,
	}
	bb.Bandwidth = (bb.Upper - bb.Lower) / bb.Middle * 100

	return bb, nil
}

// Stochastic computes %K at bar i and %D as the mean of %K at i, i-1 and i-2,
// each over a window of length bars.
func Stochastic(bars []*models.Candle, i, length int) (Oscillator, error) {
	if err := validate(bars, i, length); err != nil {
		return Oscillator{}, err
	}
	need := length + smoothing - 1
	if i+1 < need {
		return Oscillator{}, &InsufficientDataError{Index: i, Required: need, Available: i + 1}
	}

	window := bars[i-need+1 : i+1]
	highs := make([]float64, need)
	lows := make([]float64, need)
	for n, c := range window {
		highs[n] = c.High
		lows[n] = c.Low
	}
	hh := talib.Max(highs, length)
	ll := talib.Min(lows, length)

	var osc Oscillator
	for o := 0; o < smoothing; o++ {
		at := need - 1 - o
		if hh[at] == ll[at] {
			return Oscillator{}, &DegenerateWindowError{Index: i - o, Indicator: "oscillator"}
		}
		k := 100 * (window[at].Close - ll[at]) / (hh[at] - ll[at])
		if o == 0 {
			osc.K = k
		}
		osc.D += k
	}
	osc.D /= smoothing

	return osc, nil
}

func validate(bars []*models.Candle, i, length int) error {
	if length < 2 {
		return &models.InvalidConfigurationError{Field: "window length", Reason: "must be at least 2"}
	}
	if i < 0 || i >= len(bars) {
		return fmt.Errorf("bar index %d out of range [0, %d)", i, len(bars))
	}
	return nil
}
