package backtest

import (
	"time"

	"github.com/adamdenes/daytrader/internal/ledger"
	"github.com/shopspring/decimal"
)

// Statistics summarizes closed trades only. Percent fields are zero when
// there are no trades.
type Statistics struct {
	Trades            int             `json:"trades"`
	Winners           int             `json:"winners"`
	Losers            int             `json:"losers"`
	WinRate           decimal.Decimal `json:"win_rate"`
	TotalProfit       decimal.Decimal `json:"total_profit"`
	ROI               decimal.Decimal `json:"roi"`
	AvgProfitPercent  decimal.Decimal `json:"avg_profit_percent"`
	MaxProfitPercent  decimal.Decimal `json:"max_profit_percent"`
	MinProfitPercent  decimal.Decimal `json:"min_profit_percent"`
	AvgDuration       time.Duration   `json:"avg_duration"`
	ShortestDuration  time.Duration   `json:"shortest_duration"`
	LongestDuration   time.Duration   `json:"longest_duration"`
	RebuyDistribution map[int]int     `json:"rebuy_distribution"`
}

// Summarize aggregates closed trades. A trade with zero profit counts as a
// winner.
func Summarize(trades []*ledger.Position) Statistics {
	s := Statistics{RebuyDistribution: make(map[int]int)}

	var pctSum decimal.Decimal
	var durSum time.Duration
	for _, t := range trades {
		if !t.IsClosed() {
			continue
		}
		s.Trades++
		if t.ProfitAmount.IsNegative() {
			s.Losers++
		} else {
			s.Winners++
		}
		s.TotalProfit = s.TotalProfit.Add(t.ProfitAmount)
		pctSum = pctSum.Add(t.ProfitPercent)

		d := t.Duration()
		durSum += d
		if s.Trades == 1 {
			s.MaxProfitPercent, s.MinProfitPercent = t.ProfitPercent, t.ProfitPercent
			s.ShortestDuration, s.LongestDuration = d, d
		} else {
			s.MaxProfitPercent = decimal.Max(s.MaxProfitPercent, t.ProfitPercent)
			s.MinProfitPercent = decimal.Min(s.MinProfitPercent, t.ProfitPercent)
			s.ShortestDuration = min(s.ShortestDuration, d)
			s.LongestDuration = max(s.LongestDuration, d)
		}
		s.RebuyDistribution[t.RebuyCount()]++
	}

	if s.Trades == 0 {
		return s
	}
	n := decimal.NewFromInt(int64(s.Trades))
	s.WinRate = decimal.NewFromInt(int64(s.Winners)).Div(n).Mul(decimal.NewFromInt(100))
	s.AvgProfitPercent = pctSum.Div(n)
	s.AvgDuration = durSum / time.Duration(s.Trades)
	return s
}

// RebuyShare is the percentage of trades that used exactly n rebuys.
func (s Statistics) RebuyShare(n int) float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.RebuyDistribution[n]) / float64(s.Trades) * 100
}
