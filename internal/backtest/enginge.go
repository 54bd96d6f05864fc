package backtest

import (
	"context"

	"github.com/adamdenes/daytrader/internal/ledger"
	"github.com/adamdenes/daytrader/internal/models"
	"github.com/adamdenes/daytrader/strategy"
)

type Engine interface {
	Run(ctx context.Context) (*Report, error)
}

// Strategy is driven one bar at a time by the engine.
type Strategy interface {
	Name() string
	OnBar(bars []*models.Candle, i int) (strategy.Action, error)
	State() strategy.State
	Position() *ledger.Position
}

var (
	_ Engine   = (*BacktestEngine)(nil)
	_ Strategy = (*strategy.RebuyStrategy)(nil)
)
