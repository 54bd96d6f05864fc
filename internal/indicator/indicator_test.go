package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/adamdenes/daytrader/internal/models"
)

func bars(closes ...float64) []*models.Candle {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*models.Candle, len(closes))
	for i, c := range closes {
		out[i] = &models.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     c,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
		}
	}
	return out
}

func Test_Bands(t *testing.T) {
	tests := []struct {
		name       string
		closes     []float64
		i          int
		length     int
		deviations float64
		want       BollingerBands
	}{
		{
			name:       "Flat window",
			closes:     []float64{10, 10, 10, 10},
			i:          3,
			length:     4,
			deviations: 2,
			want:       BollingerBands{Middle: 10, Lower: 10, Upper: 10, Bandwidth: 0},
		},
		{
			name:       "Population deviation",
			closes:     []float64{2, 4, 4, 4, 5, 5, 7, 9},
			i:          7,
			length:     8,
			deviations: 2,
			want:       BollingerBands{Middle: 5, Lower: 1, Upper: 9, Bandwidth: 160},
		},
		{
			name:       "Window ends before last bar",
			closes:     []float64{2, 4, 4, 4, 5, 5, 7, 9, 1000},
			i:          7,
			length:     8,
			deviations: 1,
			want:       BollingerBands{Middle: 5, Lower: 3, Upper: 7, Bandwidth: 80},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Bands(bars(tt.closes...), tt.i, tt.length, tt.deviations)
			if err != nil {
				t.Fatalf("Bands() error = %v", err)
			}
			if !near(got.Middle, tt.want.Middle) || !near(got.Lower, tt.want.Lower) ||
				!near(got.Upper, tt.want.Upper) || !near(got.Bandwidth, tt.want.Bandwidth) {
				t.Errorf("Bands() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func Test_BandsOrdering(t *testing.T) {
	closes := make([]float64, 60)
	for n := range closes {
		closes[n] = 100 + 15*math.Sin(float64(n)/3) + float64(n%7)
	}
	b := bars(closes...)
	for i := DefaultBandsWindow - 1; i < len(b); i++ {
		got, err := Bands(b, i, DefaultBandsWindow, DefaultDeviations)
		if err != nil {
			t.Fatalf("Bands(%d) error = %v", i, err)
		}
		if got.Lower > got.Middle || got.Middle > got.Upper {
			t.Errorf("bar %d: bands out of order %+v", i, got)
		}
		if got.Bandwidth < 0 {
			t.Errorf("bar %d: negative bandwidth %v", i, got.Bandwidth)
		}
	}
}

func Test_BandsTinyPrices(t *testing.T) {
	for _, scale := range []float64{1, 1e-6, 1e-8, 1e-10} {
		closes := make([]float64, DefaultBandsWindow)
		for n := range closes {
			closes[n] = 100 * scale
			if n%2 == 0 {
				closes[n] = 103 * scale
			}
		}
		// Population SD of an even 103/100 split is 1.5, the mean 101.5.
		wantWidth := 2 * DefaultDeviations * 1.5 / 101.5 * 100

		got, err := Bands(bars(closes...), len(closes)-1, DefaultBandsWindow, DefaultDeviations)
		if err != nil {
			t.Fatalf("scale %g: Bands() error = %v", scale, err)
		}
		if math.Abs(got.Bandwidth-wantWidth) > 1e-6 {
			t.Errorf("scale %g: Bandwidth = %v, want %v", scale, got.Bandwidth, wantWidth)
		}
		if got.Upper <= got.Middle || got.Lower >= got.Middle {
			t.Errorf("scale %g: bands collapsed %+v", scale, got)
		}
	}
}

func Test_BandsErrors(t *testing.T) {
	tests := []struct {
		name    string
		closes  []float64
		i       int
		length  int
		wantErr any
	}{
		{
			name:    "Not enough bars",
			closes:  []float64{1, 2, 3},
			i:       2,
			length:  4,
			wantErr: &InsufficientDataError{},
		},
		{
			name:    "Zero mean",
			closes:  []float64{0, 0, 0},
			i:       2,
			length:  3,
			wantErr: &DegenerateWindowError{},
		},
		{
			name:    "Window too short",
			closes:  []float64{1, 2, 3},
			i:       2,
			length:  1,
			wantErr: &models.InvalidConfigurationError{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Bands(bars(tt.closes...), tt.i, tt.length, DefaultDeviations)
			assertErrorType(t, err, tt.wantErr)
		})
	}
}

func Test_Stochastic(t *testing.T) {
	// Highs are close+1, lows close-1.
	closes := []float64{10, 12, 14, 16, 18, 20}

	got, err := Stochastic(bars(closes...), 5, 4)
	if err != nil {
		t.Fatalf("Stochastic() error = %v", err)
	}
	// Window ending at 5: ll=13, hh=21, close=20 -> 87.5
	// Window ending at 4: ll=11, hh=19, close=18 -> 87.5
	// Window ending at 3: ll=9, hh=17, close=16 -> 87.5
	if !near(got.K, 87.5) || !near(got.D, 87.5) {
		t.Errorf("Stochastic() = %+v, want K=87.5 D=87.5", got)
	}
}

func Test_StochasticRange(t *testing.T) {
	closes := make([]float64, 80)
	for n := range closes {
		closes[n] = 50 + 20*math.Cos(float64(n)/4)
	}
	b := bars(closes...)
	for i := DefaultOscillatorWindow + 1; i < len(b); i++ {
		got, err := Stochastic(b, i, DefaultOscillatorWindow)
		if err != nil {
			t.Fatalf("Stochastic(%d) error = %v", i, err)
		}
		if got.K < 0 || got.K > 100 || got.D < 0 || got.D > 100 {
			t.Errorf("bar %d: oscillator out of range %+v", i, got)
		}
	}
}

func Test_StochasticErrors(t *testing.T) {
	flat := bars(5, 5, 5, 5, 5, 5)
	for _, c := range flat {
		c.High, c.Low = 5, 5
	}

	tests := []struct {
		name    string
		bars    []*models.Candle
		i       int
		length  int
		wantErr any
	}{
		{
			name:    "Needs two extra bars for %D",
			bars:    bars(1, 2, 3, 4, 5),
			i:       4,
			length:  4,
			wantErr: &InsufficientDataError{},
		},
		{
			name:    "No price range",
			bars:    flat,
			i:       5,
			length:  4,
			wantErr: &DegenerateWindowError{},
		},
		{
			name:    "Index out of range",
			bars:    bars(1, 2, 3),
			i:       3,
			length:  2,
			wantErr: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Stochastic(tt.bars, tt.i, tt.length)
			if err == nil {
				t.Fatal("Stochastic() expected an error")
			}
			if tt.wantErr != nil {
				assertErrorType(t, err, tt.wantErr)
			}
		})
	}
}

func Test_MinIndex(t *testing.T) {
	if got := MinIndex(20, 14); got != 19 {
		t.Errorf("MinIndex(20, 14) = %d, want 19", got)
	}
	if got := MinIndex(5, 14); got != 15 {
		t.Errorf("MinIndex(5, 14) = %d, want 15", got)
	}
}

func assertErrorType(t *testing.T, err error, want any) {
	t.Helper()
	switch want.(type) {
	case *InsufficientDataError:
		var e *InsufficientDataError
		if !errors.As(err, &e) {
			t.Errorf("got %v, want InsufficientDataError", err)
		}
	case *DegenerateWindowError:
		var e *DegenerateWindowError
		if !errors.As(err, &e) {
			t.Errorf("got %v, want DegenerateWindowError", err)
		}
	case *models.InvalidConfigurationError:
		var e *models.InvalidConfigurationError
		if !errors.As(err, &e) {
			t.Errorf("got %v, want InvalidConfigurationError", err)
		}
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}
