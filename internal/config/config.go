package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/adamdenes/daytrader/internal/backtest"
	"github.com/adamdenes/daytrader/internal/ledger"
	"github.com/adamdenes/daytrader/internal/models"
	"github.com/adamdenes/daytrader/strategy"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const envPrefix = "DAYTRADER"

type Settings struct {
	Exchange      string        `mapstructure:"exchange" json:"exchange"`
	Interval      string        `mapstructure:"interval" json:"interval"`
	PollInterval  time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	USD           bool          `mapstructure:"usd" json:"usd"`
	EUR           bool          `mapstructure:"eur" json:"eur"`
	ETH           bool          `mapstructure:"eth" json:"eth"`
	BNB           bool          `mapstructure:"bnb" json:"bnb"`
	BTC           bool          `mapstructure:"btc" json:"btc"`
	Min24HrVolume float64       `mapstructure:"min_24hr_volume" json:"min_24hr_volume"`
	AllowShorts   bool          `mapstructure:"allow_shorts" json:"allow_shorts"`

	Addr     string `mapstructure:"addr" json:"addr"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	CacheDir string `mapstructure:"cache_dir" json:"cache_dir"`

	Storage  StorageSettings  `mapstructure:"storage" json:"storage"`
	Backtest BacktestSettings `mapstructure:"backtest" json:"backtest"`
}

type StorageSettings struct {
	Driver string `mapstructure:"driver" json:"driver"`
	DSN    string `mapstructure:"dsn" json:"-"`
}

// BacktestSettings keeps money as strings so values survive the config file
// without float rounding.
type BacktestSettings struct {
	Strategy        strategy.Config `mapstructure:"strategy" json:"strategy"`
	StartingBalance string          `mapstructure:"starting_balance" json:"starting_balance"`
	FeeRatePercent  string          `mapstructure:"fee_rate_percent" json:"fee_rate_percent"`
	FeeSchedule     string          `mapstructure:"fee_schedule" json:"fee_schedule"`
}

func setDefaults(v *viper.Viper) {
	sc := strategy.DefaultConfig()
	bc := backtest.DefaultConfig()

	defaults := map[string]any{
		"exchange":        "binance",
		"interval":        "5m",
		"poll_interval":   time.Minute,
		"usd":             true,
		"eur":             false,
		"eth":             false,
		"bnb":             false,
		"btc":             false,
		"min_24hr_volume": 400000.0,
		"allow_shorts":    sc.AllowShort,
		"addr":            ":4000",
		"log_level":       "info",
		"cache_dir":       "./data",
		"storage.driver":  "timescale",
		"storage.dsn":     "",

		"backtest.strategy.bands_window":          sc.BandsWindow,
		"backtest.strategy.oscillator_window":     sc.OscillatorWindow,
		"backtest.strategy.deviations":            sc.Deviations,
		"backtest.strategy.min_bandwidth_percent": sc.MinBandwidthPercent,
		"backtest.strategy.oversold":              sc.Oversold,
		"backtest.strategy.overbought":            sc.Overbought,
		"backtest.strategy.rebuy_drop_percent":    sc.RebuyDropPercent,
		"backtest.strategy.scale_multipliers":     sc.ScaleMultipliers,
		"backtest.strategy.max_rebuys":            sc.MaxRebuys,
		"backtest.starting_balance":               bc.StartingBalance.String(),
		"backtest.fee_rate_percent":               bc.FeeRatePercent.String(),
		"backtest.fee_schedule":                   bc.FeeSchedule.String(),
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the settings file at path (yaml, json or toml, by extension)
// and applies DAYTRADER_* environment overrides. An empty path uses
// defaults and the environment only.
func Load(path string) (*Settings, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config %s: %w", path, err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the settings to path, the format follows the extension.
func (s *Settings) Save(path string) error {
	v := viper.New()
	values := map[string]any{
		"exchange":        s.Exchange,
		"interval":        s.Interval,
		"poll_interval":   s.PollInterval.String(),
		"usd":             s.USD,
		"eur":             s.EUR,
		"eth":             s.ETH,
		"bnb":             s.BNB,
		"btc":             s.BTC,
		"min_24hr_volume": s.Min24HrVolume,
		"allow_shorts":    s.AllowShorts,
		"addr":            s.Addr,
		"log_level":       s.LogLevel,
		"cache_dir":       s.CacheDir,
		"storage.driver":  s.Storage.Driver,
		"storage.dsn":     s.Storage.DSN,

		"backtest.strategy.bands_window":          s.Backtest.Strategy.BandsWindow,
		"backtest.strategy.oscillator_window":     s.Backtest.Strategy.OscillatorWindow,
		"backtest.strategy.deviations":            s.Backtest.Strategy.Deviations,
		"backtest.strategy.min_bandwidth_percent": s.Backtest.Strategy.MinBandwidthPercent,
		"backtest.strategy.oversold":              s.Backtest.Strategy.Oversold,
		"backtest.strategy.overbought":            s.Backtest.Strategy.Overbought,
		"backtest.strategy.rebuy_drop_percent":    s.Backtest.Strategy.RebuyDropPercent,
		"backtest.strategy.scale_multipliers":     s.Backtest.Strategy.ScaleMultipliers,
		"backtest.strategy.max_rebuys":            s.Backtest.Strategy.MaxRebuys,
		"backtest.starting_balance":               s.Backtest.StartingBalance,
		"backtest.fee_rate_percent":               s.Backtest.FeeRatePercent,
		"backtest.fee_schedule":                   s.Backtest.FeeSchedule,
	}
	for k, val := range values {
		v.Set(k, val)
	}
	return v.WriteConfigAs(path)
}

func (s *Settings) Validate() error {
	if strings.ToLower(s.Exchange) != "binance" {
		return &models.InvalidConfigurationError{Field: "exchange", Reason: fmt.Sprintf("%q is not supported", s.Exchange)}
	}
	if s.Min24HrVolume < 0 {
		return &models.InvalidConfigurationError{Field: "min_24hr_volume", Reason: "must not be negative"}
	}
	if s.PollInterval <= 0 {
		return &models.InvalidConfigurationError{Field: "poll_interval", Reason: "must be positive"}
	}
	_, err := s.BacktestConfig()
	return err
}

// BacktestConfig converts the backtest block into an engine configuration.
// AllowShorts is the single switch for short entries.
func (s *Settings) BacktestConfig() (backtest.Config, error) {
	cfg := backtest.Config{Strategy: s.Backtest.Strategy}
	cfg.Strategy.AllowShort = s.AllowShorts

	var err error
	if cfg.StartingBalance, err = decimal.NewFromString(s.Backtest.StartingBalance); err != nil {
		return cfg, &models.InvalidConfigurationError{Field: "backtest.starting_balance", Reason: err.Error()}
	}
	if cfg.FeeRatePercent, err = decimal.NewFromString(s.Backtest.FeeRatePercent); err != nil {
		return cfg, &models.InvalidConfigurationError{Field: "backtest.fee_rate_percent", Reason: err.Error()}
	}
	if cfg.FeeSchedule, err = ledger.ParseFeeSchedule(s.Backtest.FeeSchedule); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Quotes lists the enabled quote currencies.
func (s *Settings) Quotes() []string {
	var out []string
	for _, q := range []struct {
		name    string
		enabled bool
	}{
		{"USD", s.USD},
		{"EUR", s.EUR},
		{"ETH", s.ETH},
		{"BNB", s.BNB},
		{"BTC", s.BTC},
	} {
		if q.enabled {
			out = append(out, q.name)
		}
	}
	return out
}
