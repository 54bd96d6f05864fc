package ledger

import (
	"fmt"
	"time"

	"github.com/adamdenes/daytrader/internal/logger"
	"github.com/adamdenes/daytrader/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FeeSchedule selects which fills are charged the fee rate.
type FeeSchedule int

const (
	// FeesOnEveryFill charges the entry, every rebuy and the close.
	FeesOnEveryFill FeeSchedule = iota
	// FeesOnOpenAndClose leaves rebuys free of charge.
	FeesOnOpenAndClose
)

func (f FeeSchedule) String() string {
	switch f {
	case FeesOnEveryFill:
		return "every-fill"
	case FeesOnOpenAndClose:
		return "open-and-close"
	default:
		return fmt.Sprintf("FeeSchedule(%d)", int(f))
	}
}

func (f FeeSchedule) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *FeeSchedule) UnmarshalText(b []byte) error {
	v, err := ParseFeeSchedule(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// ParseFeeSchedule accepts the names produced by FeeSchedule.String.
func ParseFeeSchedule(s string) (FeeSchedule, error) {
	switch s {
	case "", "every-fill":
		return FeesOnEveryFill, nil
	case "open-and-close":
		return FeesOnOpenAndClose, nil
	}
	return 0, &models.InvalidConfigurationError{Field: "fee schedule", Reason: fmt.Sprintf("unknown value %q", s)}
}

type AlreadyOpenError struct {
	Symbol string
	ID     string
}

func (e *AlreadyOpenError) Error() string {
	return fmt.Sprintf("position %s already open for %s", e.ID, e.Symbol)
}

type PositionClosedError struct {
	Symbol string
	ID     string
}

func (e *PositionClosedError) Error() string {
	return fmt.Sprintf("position %s for %s is already closed", e.ID, e.Symbol)
}

// UnknownPositionError is returned for a position this manager does not
// hold open.
type UnknownPositionError struct {
	Symbol string
	ID     string
}

func (e *UnknownPositionError) Error() string {
	return fmt.Sprintf("position %s for %s is not open in this account", e.ID, e.Symbol)
}

// TradeManager owns the account and is the only writer of positions.
type TradeManager interface {
	OpenLong(symbol string, coins, price decimal.Decimal, ts time.Time) (*Position, error)
	OpenShort(symbol string, coins, price decimal.Decimal, ts time.Time) (*Position, error)
	ScaleIn(p *Position, coins, price decimal.Decimal, ts time.Time) (*Position, error)
	Close(p *Position, price decimal.Decimal, ts time.Time) (*Position, error)
	Balance() decimal.Decimal
	ClosedTrades() []*Position
	OpenPosition(symbol string) *Position
}

type Options struct {
	StartingBalance decimal.Decimal
	FeeRatePercent  decimal.Decimal
	FeeSchedule     FeeSchedule
	// NewID generates position IDs, uuid.NewString when nil.
	NewID func() string
}

// VirtualTradeManager is the ledger-only TradeManager used for backtests and
// paper trading. It is not safe for concurrent use; give each symbol its own.
type VirtualTradeManager struct {
	balance  decimal.Decimal
	feeRate  decimal.Decimal
	schedule FeeSchedule
	newID    func() string
	open     map[string]*Position
	closed   []*Position
}

var _ TradeManager = (*VirtualTradeManager)(nil)

func NewVirtualTradeManager(opts Options) *VirtualTradeManager {
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &VirtualTradeManager{
		balance:  opts.StartingBalance,
		feeRate:  opts.FeeRatePercent.Div(hundred),
		schedule: opts.FeeSchedule,
		newID:    newID,
		open:     make(map[string]*Position),
	}
}

func (vm *VirtualTradeManager) OpenLong(symbol string, coins, price decimal.Decimal, ts time.Time) (*Position, error) {
	return vm.enter(symbol, models.Long, coins, price, ts)
}

func (vm *VirtualTradeManager) OpenShort(symbol string, coins, price decimal.Decimal, ts time.Time) (*Position, error) {
	return vm.enter(symbol, models.Short, coins, price, ts)
}

func (vm *VirtualTradeManager) enter(
	symbol string,
	dir models.Direction,
	coins, price decimal.Decimal,
	ts time.Time,
) (*Position, error) {
	if p, ok := vm.open[symbol]; ok {
		return nil, &AlreadyOpenError{Symbol: symbol, ID: p.ID}
	}
	if err := positive(coins, price); err != nil {
		return nil, err
	}

	investment := coins.Mul(price)
	p := &Position{
		ID:                vm.newID(),
		Symbol:            symbol,
		Direction:         dir,
		OpenTime:          ts,
		OpenPrice:         price,
		InitialCoins:      coins,
		InitialInvestment: investment,
		Rebuys:            []Rebuy{},
		TotalCoins:        coins,
		TotalInvestment:   investment,
		FeesPaid:          vm.feeRate.Mul(investment),
	}
	vm.open[symbol] = p

	logger.Debug.Printf("%s %s opened at %s, invested %s\n", symbol, dir, price, investment.StringFixed(2))
	return p, nil
}

func (vm *VirtualTradeManager) ScaleIn(p *Position, coins, price decimal.Decimal, ts time.Time) (*Position, error) {
	if err := vm.owned(p); err != nil {
		return nil, err
	}
	if err := positive(coins, price); err != nil {
		return nil, err
	}

	investment := coins.Mul(price)
	p.Rebuys = append(p.Rebuys, Rebuy{
		Investment: investment,
		Coins:      coins,
		Price:      price,
		Time:       ts,
	})
	p.TotalCoins = p.TotalCoins.Add(coins)
	p.TotalInvestment = p.TotalInvestment.Add(investment)
	if vm.schedule == FeesOnEveryFill {
		p.FeesPaid = p.FeesPaid.Add(vm.feeRate.Mul(investment))
	}

	logger.Debug.Printf("%s %s rebuy %d at %s, invested %s\n",
		p.Symbol, p.Direction, len(p.Rebuys), price, investment.StringFixed(2))
	return p, nil
}

// Close realizes the position at price and credits the profit to the
// balance. The position is final afterwards.
func (vm *VirtualTradeManager) Close(p *Position, price decimal.Decimal, ts time.Time) (*Position, error) {
	if err := vm.owned(p); err != nil {
		return nil, err
	}
	if !price.IsPositive() {
		return nil, &models.InvalidConfigurationError{Field: "price", Reason: "must be positive"}
	}

	fees := p.FeesPaid.Add(vm.feeRate.Mul(p.TotalInvestment))
	raw := p.TotalCoins.Mul(price).Sub(p.TotalInvestment)
	if p.Direction == models.Short {
		raw = raw.Neg()
	}
	profit := raw.Sub(fees)

	closedAt := ts
	p.FeesPaid = fees
	p.ClosePrice = price
	p.ProfitAmount = profit
	p.ProfitPercent = profit.Div(p.TotalInvestment).Mul(hundred)
	p.CloseTime = &closedAt

	vm.closed = append(vm.closed, p)
	vm.balance = vm.balance.Add(profit)
	delete(vm.open, p.Symbol)

	logger.Debug.Printf("%s %s closed at %s, profit %s (%s%%)\n",
		p.Symbol, p.Direction, price, profit.StringFixed(2), p.ProfitPercent.StringFixed(2))
	return p, nil
}

func (vm *VirtualTradeManager) Balance() decimal.Decimal {
	return vm.balance
}

// ClosedTrades returns the closed positions in close order.
func (vm *VirtualTradeManager) ClosedTrades() []*Position {
	out := make([]*Position, len(vm.closed))
	copy(out, vm.closed)
	return out
}

func (vm *VirtualTradeManager) OpenPosition(symbol string) *Position {
	return vm.open[symbol]
}

func (vm *VirtualTradeManager) owned(p *Position) error {
	if p.IsClosed() {
		return &PositionClosedError{Symbol: p.Symbol, ID: p.ID}
	}
	if vm.open[p.Symbol] != p {
		return &UnknownPositionError{Symbol: p.Symbol, ID: p.ID}
	}
	return nil
}

func positive(coins, price decimal.Decimal) error {
	if !coins.IsPositive() {
		return &models.InvalidConfigurationError{Field: "coins", Reason: "must be positive"}
	}
	if !price.IsPositive() {
		return &models.InvalidConfigurationError{Field: "price", Reason: "must be positive"}
	}
	return nil
}
