package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adamdenes/daytrader/internal/indicator"
	"github.com/adamdenes/daytrader/internal/ledger"
	"github.com/adamdenes/daytrader/internal/logger"
	"github.com/adamdenes/daytrader/internal/metrics"
	"github.com/adamdenes/daytrader/internal/models"
	"github.com/adamdenes/daytrader/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrUnorderedBars = errors.New("bars are not in ascending open time order")

// Config is everything a run needs besides the bars.
type Config struct {
	Strategy        strategy.Config    `json:"strategy"`
	StartingBalance decimal.Decimal    `json:"starting_balance"`
	FeeRatePercent  decimal.Decimal    `json:"fee_rate_percent"`
	FeeSchedule     ledger.FeeSchedule `json:"fee_schedule"`
}

func DefaultConfig() Config {
	return Config{
		Strategy:        strategy.DefaultConfig(),
		StartingBalance: decimal.NewFromInt(1000),
		FeeRatePercent:  decimal.RequireFromString("0.2"),
		FeeSchedule:     ledger.FeesOnEveryFill,
	}
}

func (c Config) Validate() error {
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if !c.StartingBalance.IsPositive() {
		return &models.InvalidConfigurationError{Field: "starting_balance", Reason: "must be positive"}
	}
	if c.FeeRatePercent.IsNegative() || c.FeeRatePercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return &models.InvalidConfigurationError{Field: "fee_rate_percent", Reason: "must be within [0, 100)"}
	}
	return nil
}

// RunError aborts a run at the bar that failed.
type RunError struct {
	Index int
	Time  time.Time
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("backtest aborted at bar %d (%s): %v", e.Index, e.Time.Format(time.RFC3339), e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

type BacktestEngine struct {
	runID    uuid.UUID
	symbol   string
	bars     []*models.Candle
	cfg      Config
	tm       ledger.TradeManager
	strategy Strategy
}

// NewBacktestEngine validates the configuration and bar order and wires a
// fresh virtual account to the rebuy strategy.
func NewBacktestEngine(symbol string, bars []*models.Candle, cfg Config) (*BacktestEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkOrder(bars); err != nil {
		return nil, err
	}

	tm := ledger.NewVirtualTradeManager(ledger.Options{
		StartingBalance: cfg.StartingBalance,
		FeeRatePercent:  cfg.FeeRatePercent,
		FeeSchedule:     cfg.FeeSchedule,
	})
	strat, err := strategy.NewRebuyStrategy(symbol, cfg.Strategy, tm)
	if err != nil {
		return nil, err
	}

	return &BacktestEngine{
		runID:    uuid.New(),
		symbol:   symbol,
		bars:     bars,
		cfg:      cfg,
		tm:       tm,
		strategy: strat,
	}, nil
}

func (b *BacktestEngine) RunID() uuid.UUID {
	return b.runID
}

// Run replays the bars oldest to newest. Bars without enough history are
// skipped, any other failure aborts the run with a *RunError.
func (b *BacktestEngine) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	logger.Info.Printf("Backtest %s started: %s, %d bars, strategy %q\n",
		b.runID, b.symbol, len(b.bars), b.strategy.Name())

	for i := b.cfg.Strategy.MinLookback(); i < len(b.bars); i++ {
		if err := ctx.Err(); err != nil {
			metrics.BacktestRuns.WithLabelValues(b.symbol, "cancelled").Inc()
			return nil, err
		}

		act, err := b.strategy.OnBar(b.bars, i)
		if err != nil {
			var ide *indicator.InsufficientDataError
			if errors.As(err, &ide) {
				logger.Debug.Printf("skipping bar %d: %v\n", i, err)
				continue
			}
			metrics.BacktestRuns.WithLabelValues(b.symbol, "failed").Inc()
			return nil, &RunError{Index: i, Time: b.bars[i].OpenTime, Err: err}
		}
		if act == strategy.Closed {
			b.observeClose()
		}
	}

	report := b.report()
	elapsed := time.Since(started)
	metrics.BacktestRuns.WithLabelValues(b.symbol, "completed").Inc()
	metrics.BacktestDuration.WithLabelValues(b.symbol).Observe(elapsed.Seconds())

	logger.Info.Printf("Backtest %s finished in %v: %d trades, balance %s -> %s\n",
		b.runID, elapsed, report.Stats.Trades,
		report.StartingBalance.StringFixed(2), report.EndingBalance.StringFixed(2))
	return report, nil
}

func (b *BacktestEngine) observeClose() {
	trades := b.tm.ClosedTrades()
	last := trades[len(trades)-1]
	result := "win"
	if last.ProfitAmount.IsNegative() {
		result = "loss"
	}
	metrics.TradesClosed.WithLabelValues(b.symbol, last.Direction.String(), result).Inc()
}

func (b *BacktestEngine) report() *Report {
	trades := b.tm.ClosedTrades()
	r := &Report{
		RunID:           b.runID,
		Symbol:          b.symbol,
		Strategy:        b.strategy.Name(),
		Bars:            len(b.bars),
		StartingBalance: b.cfg.StartingBalance,
		EndingBalance:   b.tm.Balance(),
		Trades:          trades,
		OpenPosition:    b.strategy.Position(),
		Stats:           Summarize(trades),
		Config:          b.cfg,
	}
	if len(b.bars) > 0 {
		r.From = b.bars[0].OpenTime
		r.To = b.bars[len(b.bars)-1].OpenTime
	}
	r.Stats.ROI = r.EndingBalance.Sub(r.StartingBalance).Div(r.StartingBalance).Mul(decimal.NewFromInt(100))
	return r
}

func checkOrder(bars []*models.Candle) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].OpenTime.After(bars[i-1].OpenTime) {
			return fmt.Errorf("%w: bar %d at %s follows %s",
				ErrUnorderedBars, i,
				bars[i].OpenTime.Format(time.RFC3339), bars[i-1].OpenTime.Format(time.RFC3339))
		}
	}
	return nil
}
