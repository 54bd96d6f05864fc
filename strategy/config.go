package strategy

import (
	"fmt"

	"github.com/adamdenes/daytrader/internal/indicator"
	"github.com/adamdenes/daytrader/internal/models"
)

// Config holds the indicator windows and trading rules of the rebuy strategy.
type Config struct {
	BandsWindow         int       `mapstructure:"bands_window" json:"bands_window"`
	OscillatorWindow    int       `mapstructure:"oscillator_window" json:"oscillator_window"`
	Deviations          float64   `mapstructure:"deviations" json:"deviations"`
	MinBandwidthPercent float64   `mapstructure:"min_bandwidth_percent" json:"min_bandwidth_percent"`
	Oversold            float64   `mapstructure:"oversold" json:"oversold"`
	Overbought          float64   `mapstructure:"overbought" json:"overbought"`
	RebuyDropPercent    float64   `mapstructure:"rebuy_drop_percent" json:"rebuy_drop_percent"`
	ScaleMultipliers    []float64 `mapstructure:"scale_multipliers" json:"scale_multipliers"`
	MaxRebuys           int       `mapstructure:"max_rebuys" json:"max_rebuys"`
	AllowShort          bool      `mapstructure:"allow_short" json:"allow_short"`
}

func DefaultConfig() Config {
	return Config{
		BandsWindow:         indicator.DefaultBandsWindow,
		OscillatorWindow:    indicator.DefaultOscillatorWindow,
		Deviations:          indicator.DefaultDeviations,
		MinBandwidthPercent: 2,
		Oversold:            20,
		Overbought:          80,
		RebuyDropPercent:    1.75,
		ScaleMultipliers:    []float64{2, 4},
		MaxRebuys:           2,
		AllowShort:          true,
	}
}

// MinLookback is the first bar index with enough history for both indicators.
func (c Config) MinLookback() int {
	return indicator.MinIndex(c.BandsWindow, c.OscillatorWindow)
}

func (c Config) Validate() error {
	invalid := func(field, reason string) error {
		return &models.InvalidConfigurationError{Field: field, Reason: reason}
	}

	switch {
	case c.BandsWindow < 2:
		return invalid("bands_window", "must be at least 2")
	case c.OscillatorWindow < 2:
		return invalid("oscillator_window", "must be at least 2")
	case c.Deviations < 0:
		return invalid("deviations", "must not be negative")
	case c.MinBandwidthPercent < 0:
		return invalid("min_bandwidth_percent", "must not be negative")
	case c.Oversold < 0 || c.Oversold > 100:
		return invalid("oversold", "must be within [0, 100]")
	case c.Overbought < 0 || c.Overbought > 100:
		return invalid("overbought", "must be within [0, 100]")
	case c.Oversold >= c.Overbought:
		return invalid("oversold", "must be below overbought")
	case c.RebuyDropPercent < 0 || c.RebuyDropPercent >= 100:
		return invalid("rebuy_drop_percent", "must be within [0, 100)")
	case c.MaxRebuys < 0:
		return invalid("max_rebuys", "must not be negative")
	case len(c.ScaleMultipliers) < c.MaxRebuys:
		return invalid("scale_multipliers", fmt.Sprintf("needs %d entries, has %d", c.MaxRebuys, len(c.ScaleMultipliers)))
	}
	for n, m := range c.ScaleMultipliers[:c.MaxRebuys] {
		if m <= 0 {
			return invalid(fmt.Sprintf("scale_multipliers[%d]", n), "must be positive")
		}
	}
	return nil
}
