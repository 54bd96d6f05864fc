package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adamdenes/daytrader/internal/ledger"
	"github.com/adamdenes/daytrader/internal/models"
	"github.com/shopspring/decimal"
)

func Test_LoadDefaults(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.Exchange != "binance" || !s.USD || s.EUR || !s.AllowShorts {
		t.Errorf("unexpected exchange settings: %+v", s)
	}
	if s.Min24HrVolume != 400000 {
		t.Errorf("Min24HrVolume = %v, want 400000", s.Min24HrVolume)
	}
	if s.PollInterval != time.Minute {
		t.Errorf("PollInterval = %v, want 1m", s.PollInterval)
	}

	cfg, err := s.BacktestConfig()
	if err != nil {
		t.Fatalf("BacktestConfig() error = %v", err)
	}
	if !cfg.StartingBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("StartingBalance = %v, want 1000", cfg.StartingBalance)
	}
	if !cfg.FeeRatePercent.Equal(decimal.RequireFromString("0.2")) {
		t.Errorf("FeeRatePercent = %v, want 0.2", cfg.FeeRatePercent)
	}
	if cfg.FeeSchedule != ledger.FeesOnEveryFill {
		t.Errorf("FeeSchedule = %v, want every-fill", cfg.FeeSchedule)
	}
	if cfg.Strategy.BandsWindow != 20 || cfg.Strategy.OscillatorWindow != 14 || cfg.Strategy.MaxRebuys != 2 {
		t.Errorf("unexpected strategy defaults: %+v", cfg.Strategy)
	}
	if len(cfg.Strategy.ScaleMultipliers) != 2 || cfg.Strategy.ScaleMultipliers[1] != 4 {
		t.Errorf("ScaleMultipliers = %v, want [2 4]", cfg.Strategy.ScaleMultipliers)
	}
}

func Test_LoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daytrader.yaml")
	content := `
exchange: binance
btc: true
min_24hr_volume: 1000
allow_shorts: false
poll_interval: 30s
backtest:
  fee_schedule: open-and-close
  strategy:
    bands_window: 10
    max_rebuys: 1
    scale_multipliers: [3]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DAYTRADER_STORAGE_DRIVER", "postgres")
	t.Setenv("DAYTRADER_LOG_LEVEL", "debug")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !s.BTC || s.Min24HrVolume != 1000 || s.AllowShorts {
		t.Errorf("file values not applied: %+v", s)
	}
	if s.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", s.PollInterval)
	}
	if s.Storage.Driver != "postgres" || s.LogLevel != "debug" {
		t.Errorf("env overrides not applied: driver=%q level=%q", s.Storage.Driver, s.LogLevel)
	}

	cfg, err := s.BacktestConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FeeSchedule != ledger.FeesOnOpenAndClose {
		t.Errorf("FeeSchedule = %v, want open-and-close", cfg.FeeSchedule)
	}
	if cfg.Strategy.BandsWindow != 10 || cfg.Strategy.OscillatorWindow != 14 {
		t.Errorf("strategy windows = %d/%d, want 10/14", cfg.Strategy.BandsWindow, cfg.Strategy.OscillatorWindow)
	}
	if cfg.Strategy.AllowShort {
		t.Error("AllowShorts=false did not reach the strategy")
	}
}

func Test_SaveRoundTrip(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	s.ETH = true
	s.Min24HrVolume = 123456
	s.Backtest.StartingBalance = "2500.50"

	path := filepath.Join(t.TempDir(), "settings.json")
	if err := s.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.ETH || got.Min24HrVolume != 123456 || got.Backtest.StartingBalance != "2500.50" {
		t.Errorf("round trip lost values: %+v", got)
	}
}

func Test_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "unknown exchange", key: "DAYTRADER_EXCHANGE", value: "kraken"},
		{name: "negative volume", key: "DAYTRADER_MIN_24HR_VOLUME", value: "-1"},
		{name: "bad fee schedule", key: "DAYTRADER_BACKTEST_FEE_SCHEDULE", value: "sometimes"},
		{name: "bad balance", key: "DAYTRADER_BACKTEST_STARTING_BALANCE", value: "lots"},
		{name: "tiny window", key: "DAYTRADER_BACKTEST_STRATEGY_BANDS_WINDOW", value: "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			var ice *models.InvalidConfigurationError
			if !errors.As(err, &ice) {
				t.Errorf("Load() error = %v, want InvalidConfigurationError", err)
			}
		})
	}
}

func Test_Quotes(t *testing.T) {
	s := &Settings{USD: true, BNB: true}
	got := s.Quotes()
	if len(got) != 2 || got[0] != "USD" || got[1] != "BNB" {
		t.Errorf("Quotes() = %v, want [USD BNB]", got)
	}
}
