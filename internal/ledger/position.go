package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/adamdenes/daytrader/internal/models"
	"github.com/shopspring/decimal"
)

// Rebuy is one scale-in fill. Never mutated after it is appended.
type Rebuy struct {
	Investment decimal.Decimal `json:"investment"`
	Coins      decimal.Decimal `json:"coins"`
	Price      decimal.Decimal `json:"price"`
	Time       time.Time       `json:"time"`
}

// Position is a single virtual trade. Only a TradeManager mutates it and it
// is final once CloseTime is set.
type Position struct {
	ID                string           `json:"id"`
	Symbol            string           `json:"symbol"`
	Direction         models.Direction `json:"direction"`
	OpenTime          time.Time        `json:"open_time"`
	OpenPrice         decimal.Decimal  `json:"open_price"`
	InitialCoins      decimal.Decimal  `json:"initial_coins"`
	InitialInvestment decimal.Decimal  `json:"initial_investment"`
	Rebuys            []Rebuy          `json:"rebuys"`
	TotalCoins        decimal.Decimal  `json:"total_coins"`
	TotalInvestment   decimal.Decimal  `json:"total_investment"`
	FeesPaid          decimal.Decimal  `json:"fees_paid"`
	CloseTime         *time.Time       `json:"close_time,omitempty"`
	ClosePrice        decimal.Decimal  `json:"close_price"`
	ProfitAmount      decimal.Decimal  `json:"profit_amount"`
	ProfitPercent     decimal.Decimal  `json:"profit_percent"`
}

func (p *Position) IsClosed() bool {
	return p.CloseTime != nil
}

func (p *Position) RebuyCount() int {
	return len(p.Rebuys)
}

// LastPrice is the price of the most recent fill, entry or rebuy.
func (p *Position) LastPrice() decimal.Decimal {
	if n := len(p.Rebuys); n > 0 {
		return p.Rebuys[n-1].Price
	}
	return p.OpenPrice
}

// Duration is the holding time of a closed position, zero while open.
func (p *Position) Duration() time.Duration {
	if p.CloseTime == nil {
		return 0
	}
	return p.CloseTime.Sub(p.OpenTime)
}

func (p *Position) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s open %s @ %s coins=%s invest=%s",
		p.ID, p.Symbol, p.Direction,
		p.OpenTime.Format(time.DateTime), p.OpenPrice.StringFixed(8),
		p.InitialCoins.StringFixed(8), p.InitialInvestment.StringFixed(2),
	)
	for n, r := range p.Rebuys {
		fmt.Fprintf(&sb, "\n  rebuy %d %s @ %s coins=%s invest=%s",
			n+1, r.Time.Format(time.DateTime), r.Price.StringFixed(8),
			r.Coins.StringFixed(8), r.Investment.StringFixed(2),
		)
	}
	if p.CloseTime != nil {
		fmt.Fprintf(&sb, "\n  closed %s @ %s fees=%s profit=%s (%s%%) after %s",
			p.CloseTime.Format(time.DateTime), p.ClosePrice.StringFixed(8),
			p.FeesPaid.StringFixed(2), p.ProfitAmount.StringFixed(2),
			p.ProfitPercent.StringFixed(2), p.Duration(),
		)
	}
	return sb.String()
}
