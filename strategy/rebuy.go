package strategy

import (
	"fmt"

	"github.com/adamdenes/daytrader/internal/indicator"
	"github.com/adamdenes/daytrader/internal/ledger"
	"github.com/adamdenes/daytrader/internal/logger"
	"github.com/adamdenes/daytrader/internal/models"
	"github.com/shopspring/decimal"
)

type Phase int

const (
	Scanning Phase = iota
	Open
	Rebuy
	Waiting
)

// State is the strategy's position in its cycle. Rebuys is only meaningful
// in the Rebuy phase.
type State struct {
	Phase  Phase
	Rebuys int
}

func (s State) String() string {
	switch s.Phase {
	case Scanning:
		return "Scanning"
	case Open:
		return "Open"
	case Rebuy:
		return fmt.Sprintf("Rebuy(%d)", s.Rebuys)
	case Waiting:
		return "Waiting"
	default:
		return fmt.Sprintf("Phase(%d)", int(s.Phase))
	}
}

// Action is what a bar caused. At most one per bar.
type Action int

const (
	None Action = iota
	Opened
	Rebought
	Closed
)

func (a Action) String() string {
	switch a {
	case None:
		return "none"
	case Opened:
		return "opened"
	case Rebought:
		return "rebought"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// RebuyStrategy trades one symbol: enter on a band breach confirmed by the
// oscillator, scale in on further breaches, exit on the opposite band.
type RebuyStrategy struct {
	name     string              // Name of strategy
	symbol   string              // Trading pair
	cfg      Config              // Windows and rules
	tm       ledger.TradeManager // Owner of the account
	position *ledger.Position    // Open position, nil while scanning
	bundle   decimal.Decimal     // Base allocation of the current position
	weights  decimal.Decimal     // 1 + sum of the used multipliers
	scales   []decimal.Decimal   // Multipliers as decimals
}

func NewRebuyStrategy(symbol string, cfg Config, tm ledger.TradeManager) (*RebuyStrategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	weights := decimal.NewFromInt(1)
	scales := make([]decimal.Decimal, cfg.MaxRebuys)
	for n := range scales {
		scales[n] = decimal.NewFromFloat(cfg.ScaleMultipliers[n])
		weights = weights.Add(scales[n])
	}

	s := &RebuyStrategy{
		name:     "rebuy",
		symbol:   symbol,
		cfg:      cfg,
		tm:       tm,
		position: tm.OpenPosition(symbol),
		weights:  weights,
		scales:   scales,
	}
	if s.position != nil {
		s.bundle = s.position.InitialInvestment
	}
	return s, nil
}

func (s *RebuyStrategy) Name() string {
	return s.name
}

func (s *RebuyStrategy) Symbol() string {
	return s.symbol
}

func (s *RebuyStrategy) Position() *ledger.Position {
	return s.position
}

func (s *RebuyStrategy) State() State {
	if s.position == nil {
		return State{Phase: Scanning}
	}
	n := s.position.RebuyCount()
	switch {
	case n == 0:
		return State{Phase: Open}
	case n >= s.cfg.MaxRebuys:
		return State{Phase: Waiting, Rebuys: n}
	default:
		return State{Phase: Rebuy, Rebuys: n}
	}
}

// OnBar evaluates bar i. The close test runs before the rebuy test, and
// nothing else happens on a bar that changed the position.
func (s *RebuyStrategy) OnBar(bars []*models.Candle, i int) (Action, error) {
	bands, err := indicator.Bands(bars, i, s.cfg.BandsWindow, s.cfg.Deviations)
	if err != nil {
		return None, err
	}
	bar := bars[i]

	if s.position == nil {
		return s.scan(bars, i, bands)
	}

	if price, ok := exitPrice(s.position.Direction, bar, bands); ok {
		if _, err := s.tm.Close(s.position, decimal.NewFromFloat(price), bar.OpenTime); err != nil {
			return None, err
		}
		logger.Info.Printf("%s %s closed at %v, profit %s%%\n",
			s.symbol, s.position.Direction, price, s.position.ProfitPercent.StringFixed(2))
		s.position = nil
		return Closed, nil
	}

	n := s.position.RebuyCount()
	if n >= s.cfg.MaxRebuys {
		return None, nil
	}

	last := s.position.LastPrice().InexactFloat64()
	drop := s.cfg.RebuyDropPercent / 100
	switch s.position.Direction {
	case models.Long:
		if bar.Close > last*(1-drop) {
			return None, nil
		}
	case models.Short:
		if bar.Close < last*(1+drop) {
			return None, nil
		}
	}

	ok, err := s.confirm(bars, i, bands, s.position.Direction)
	if err != nil || !ok {
		return None, err
	}

	price := decimal.NewFromFloat(bar.Close)
	coins := s.scales[n].Mul(s.bundle).Div(price)
	if _, err := s.tm.ScaleIn(s.position, coins, price, bar.OpenTime); err != nil {
		return None, err
	}
	logger.Info.Printf("%s %s rebuy %d at %v\n", s.symbol, s.position.Direction, n+1, bar.Close)
	return Rebought, nil
}

func (s *RebuyStrategy) scan(bars []*models.Candle, i int, bands indicator.BollingerBands) (Action, error) {
	dir, ok, err := signal(bars, i, bands, s.cfg)
	if err != nil || !ok {
		return None, err
	}

	bar := bars[i]
	balance := s.tm.Balance()
	if !balance.IsPositive() {
		logger.Warn.Printf("%s %s signal at %v ignored, balance is %s\n", s.symbol, dir, bar.Close, balance)
		return None, nil
	}

	bundle := balance.Div(s.weights)
	price := decimal.NewFromFloat(bar.Close)
	coins := bundle.Div(price)

	var p *ledger.Position
	if dir == models.Long {
		p, err = s.tm.OpenLong(s.symbol, coins, price, bar.OpenTime)
	} else {
		p, err = s.tm.OpenShort(s.symbol, coins, price, bar.OpenTime)
	}
	if err != nil {
		return None, err
	}
	s.position = p
	s.bundle = bundle

	logger.Info.Printf("%s %s opened at %v, bandwidth %.2f%%\n", s.symbol, dir, bar.Close, bands.Bandwidth)
	return Opened, nil
}

// confirm repeats the entry condition for one direction.
func (s *RebuyStrategy) confirm(
	bars []*models.Candle,
	i int,
	bands indicator.BollingerBands,
	dir models.Direction,
) (bool, error) {
	cfg := s.cfg
	if dir == models.Short {
		// Rebuying an open short does not depend on new shorts being allowed.
		cfg.AllowShort = true
	}
	got, ok, err := signal(bars, i, bands, cfg)
	if err != nil || !ok {
		return false, err
	}
	return got == dir, nil
}

// EntrySignal reports whether bar i satisfies the entry condition and in
// which direction.
func EntrySignal(bars []*models.Candle, i int, cfg Config) (models.Direction, bool, error) {
	bands, err := indicator.Bands(bars, i, cfg.BandsWindow, cfg.Deviations)
	if err != nil {
		return models.Long, false, err
	}
	return signal(bars, i, bands, cfg)
}

// signal checks the band breach first and computes the oscillator only when
// the close is outside the bands.
func signal(
	bars []*models.Candle,
	i int,
	bands indicator.BollingerBands,
	cfg Config,
) (models.Direction, bool, error) {
	if bands.Bandwidth < cfg.MinBandwidthPercent {
		return models.Long, false, nil
	}

	price := bars[i].Close
	var dir models.Direction
	switch {
	case price < bands.Lower:
		dir = models.Long
	case price > bands.Upper && cfg.AllowShort:
		dir = models.Short
	default:
		return models.Long, false, nil
	}

	osc, err := indicator.Stochastic(bars, i, cfg.OscillatorWindow)
	if err != nil {
		return dir, false, err
	}

	if dir == models.Long {
		return dir, osc.K < cfg.Oversold && osc.D < cfg.Oversold, nil
	}
	return dir, osc.K > cfg.Overbought && osc.D > cfg.Overbought, nil
}

// exitPrice returns the band-breaching extreme of the bar when the position
// should be closed.
func exitPrice(dir models.Direction, bar *models.Candle, bands indicator.BollingerBands) (float64, bool) {
	if dir == models.Long && bar.High > bands.Upper {
		return bar.High, true
	}
	if dir == models.Short && bar.Low < bands.Lower {
		return bar.Low, true
	}
	return 0, false
}
