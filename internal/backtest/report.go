package backtest

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/adamdenes/daytrader/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Report struct {
	RunID           uuid.UUID          `json:"run_id"`
	Symbol          string             `json:"symbol"`
	Strategy        string             `json:"strategy"`
	Bars            int                `json:"bars"`
	From            time.Time          `json:"from"`
	To              time.Time          `json:"to"`
	StartingBalance decimal.Decimal    `json:"starting_balance"`
	EndingBalance   decimal.Decimal    `json:"ending_balance"`
	Trades          []*ledger.Position `json:"trades"`
	OpenPosition    *ledger.Position   `json:"open_position,omitempty"`
	Stats           Statistics         `json:"stats"`
	Config          Config             `json:"config"`
}

// Print writes every trade followed by the statistics block.
func (r *Report) Print(w io.Writer) error {
	for _, t := range r.Trades {
		if _, err := fmt.Fprintln(w, t); err != nil {
			return err
		}
	}
	if r.OpenPosition != nil {
		if _, err := fmt.Fprintf(w, "still open: %s\n", r.OpenPosition); err != nil {
			return err
		}
	}

	s := r.Stats
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "\nsymbol\t%s\n", r.Symbol)
	fmt.Fprintf(tw, "period\t%s - %s (%d bars)\n",
		r.From.Format(time.DateTime), r.To.Format(time.DateTime), r.Bars)
	fmt.Fprintf(tw, "balance\t%s -> %s (ROI %s%%)\n",
		r.StartingBalance.StringFixed(2), r.EndingBalance.StringFixed(2), s.ROI.StringFixed(2))
	fmt.Fprintf(tw, "trades\t%d\n", s.Trades)
	fmt.Fprintf(tw, "winners\t%d (%s%%)\n", s.Winners, s.WinRate.StringFixed(2))
	fmt.Fprintf(tw, "losers\t%d\n", s.Losers)
	fmt.Fprintf(tw, "total profit\t%s\n", s.TotalProfit.StringFixed(2))
	fmt.Fprintf(tw, "avg profit\t%s%%\n", s.AvgProfitPercent.StringFixed(2))
	fmt.Fprintf(tw, "max profit\t%s%%\n", s.MaxProfitPercent.StringFixed(2))
	fmt.Fprintf(tw, "max loss\t%s%%\n", s.MinProfitPercent.StringFixed(2))
	fmt.Fprintf(tw, "avg duration\t%v\n", s.AvgDuration)
	fmt.Fprintf(tw, "shortest\t%v\n", s.ShortestDuration)
	fmt.Fprintf(tw, "longest\t%v\n", s.LongestDuration)

	rebuys := make([]int, 0, len(s.RebuyDistribution))
	for n := range s.RebuyDistribution {
		rebuys = append(rebuys, n)
	}
	sort.Ints(rebuys)
	for _, n := range rebuys {
		fmt.Fprintf(tw, "%d rebuys\t%d (%.2f%%)\n", n, s.RebuyDistribution[n], s.RebuyShare(n))
	}

	return tw.Flush()
}
