package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newManager(schedule FeeSchedule) *VirtualTradeManager {
	n := 0
	return NewVirtualTradeManager(Options{
		StartingBalance: d("1000"),
		FeeRatePercent:  d("0.2"),
		FeeSchedule:     schedule,
		NewID: func() string {
			n++
			return fmt.Sprintf("trade-%d", n)
		},
	})
}

func checkTotals(t *testing.T, p *Position) {
	t.Helper()
	inv, coins := p.InitialInvestment, p.InitialCoins
	for _, r := range p.Rebuys {
		inv = inv.Add(r.Investment)
		coins = coins.Add(r.Coins)
	}
	if !inv.Equal(p.TotalInvestment) {
		t.Errorf("TotalInvestment = %s, want %s", p.TotalInvestment, inv)
	}
	if !coins.Equal(p.TotalCoins) {
		t.Errorf("TotalCoins = %s, want %s", p.TotalCoins, coins)
	}
}

func Test_CloseProfit(t *testing.T) {
	tests := []struct {
		name     string
		schedule FeeSchedule
		short    bool
		rebuy    bool
		close    string
		wantFees string
		wantPnL  string
	}{
		{
			name:     "Long winner no rebuy",
			close:    "110",
			wantFees: "0.4", // 0.2% of 100 twice
			wantPnL:  "9.6", // 110 - 100 - 0.4
		},
		{
			name:     "Short winner no rebuy",
			short:    true,
			close:    "90",
			wantFees: "0.4",
			wantPnL:  "9.6",
		},
		{
			name:     "Long loser no rebuy",
			close:    "95",
			wantFees: "0.4",
			wantPnL:  "-5.4",
		},
		{
			name:     "Long with rebuy, every fill charged",
			rebuy:    true,
			close:    "100",
			wantFees: "1.2", // 0.2 + 0.3 + 0.1, then 0.6 on 300 total
			wantPnL:  "48.8",
		},
		{
			name:     "Long with rebuy, open and close charged",
			schedule: FeesOnOpenAndClose,
			rebuy:    true,
			close:    "100",
			wantFees: "0.8", // 0.2 + 0.6
			wantPnL:  "49.2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newManager(tt.schedule)

			var (
				p   *Position
				err error
			)
			if tt.short {
				p, err = vm.OpenShort("BTCUSDT", d("1"), d("100"), t0)
			} else {
				p, err = vm.OpenLong("BTCUSDT", d("1"), d("100"), t0)
			}
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			checkTotals(t, p)

			if tt.rebuy {
				// 3.5 coins for 300 in total
				if _, err := vm.ScaleIn(p, d("2"), d("75"), t0.Add(time.Minute)); err != nil {
					t.Fatalf("scale in: %v", err)
				}
				checkTotals(t, p)
				if _, err := vm.ScaleIn(p, d("0.5"), d("100"), t0.Add(2*time.Minute)); err != nil {
					t.Fatalf("scale in: %v", err)
				}
				checkTotals(t, p)
			}

			if _, err := vm.Close(p, d(tt.close), t0.Add(time.Hour)); err != nil {
				t.Fatalf("close: %v", err)
			}
			checkTotals(t, p)

			if !p.FeesPaid.Equal(d(tt.wantFees)) {
				t.Errorf("FeesPaid = %s, want %s", p.FeesPaid, tt.wantFees)
			}
			if !p.ProfitAmount.Equal(d(tt.wantPnL)) {
				t.Errorf("ProfitAmount = %s, want %s", p.ProfitAmount, tt.wantPnL)
			}
			wantPct := d(tt.wantPnL).Div(p.TotalInvestment).Mul(hundred)
			if !p.ProfitPercent.Equal(wantPct) {
				t.Errorf("ProfitPercent = %s, want %s", p.ProfitPercent, wantPct)
			}
			if !vm.Balance().Equal(d("1000").Add(d(tt.wantPnL))) {
				t.Errorf("Balance = %s", vm.Balance())
			}
			if vm.OpenPosition("BTCUSDT") != nil {
				t.Error("position still tracked as open")
			}
			if p.Duration() != time.Hour {
				t.Errorf("Duration = %v, want 1h", p.Duration())
			}
		})
	}
}

func Test_BalanceReplay(t *testing.T) {
	vm := newManager(FeesOnEveryFill)
	prices := [][2]string{{"100", "103"}, {"50", "48.5"}, {"20", "20"}, {"7.25", "9.1"}}

	for n, pr := range prices {
		ts := t0.Add(time.Duration(n) * time.Hour)
		p, err := vm.OpenLong("ETHUSDT", d("3"), d(pr[0]), ts)
		if err != nil {
			t.Fatal(err)
		}
		if n%2 == 1 {
			if _, err := vm.ScaleIn(p, d("6"), d(pr[0]).Mul(d("0.98")), ts.Add(time.Minute)); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := vm.Close(p, d(pr[1]), ts.Add(30*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	sum := d("1000")
	for _, p := range vm.ClosedTrades() {
		sum = sum.Add(p.ProfitAmount)
	}
	if !sum.Equal(vm.Balance()) {
		t.Errorf("replayed balance %s != account balance %s", sum, vm.Balance())
	}
	if got := len(vm.ClosedTrades()); got != len(prices) {
		t.Errorf("closed trades = %d, want %d", got, len(prices))
	}
}

func Test_Errors(t *testing.T) {
	vm := newManager(FeesOnEveryFill)

	p, err := vm.OpenLong("BNBUSDT", d("1"), d("300"), t0)
	if err != nil {
		t.Fatal(err)
	}

	_, err = vm.OpenShort("BNBUSDT", d("1"), d("300"), t0)
	var openErr *AlreadyOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("second open: got %v, want AlreadyOpenError", err)
	}
	if openErr.ID != p.ID {
		t.Errorf("AlreadyOpenError.ID = %q, want %q", openErr.ID, p.ID)
	}

	if _, err := vm.Close(p, d("310"), t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	balance := vm.Balance()

	var closedErr *PositionClosedError
	if _, err := vm.Close(p, d("400"), t0.Add(2*time.Minute)); !errors.As(err, &closedErr) {
		t.Errorf("double close: got %v, want PositionClosedError", err)
	}
	if _, err := vm.ScaleIn(p, d("1"), d("290"), t0.Add(2*time.Minute)); !errors.As(err, &closedErr) {
		t.Errorf("scale in closed: got %v, want PositionClosedError", err)
	}
	if !vm.Balance().Equal(balance) {
		t.Errorf("balance changed after rejected close: %s != %s", vm.Balance(), balance)
	}
	if got := len(vm.ClosedTrades()); got != 1 {
		t.Errorf("closed trades = %d, want 1", got)
	}

	if _, err := vm.OpenLong("BNBUSDT", d("0"), d("300"), t0); err == nil {
		t.Error("zero coins accepted")
	}
}

func Test_ForeignPosition(t *testing.T) {
	other := newManager(FeesOnEveryFill)
	foreign, err := other.OpenLong("ETHUSDT", d("1"), d("2000"), t0)
	if err != nil {
		t.Fatal(err)
	}

	vm := newManager(FeesOnEveryFill)
	own, err := vm.OpenLong("ETHUSDT", d("0.5"), d("2000"), t0)
	if err != nil {
		t.Fatal(err)
	}

	var unknown *UnknownPositionError
	if _, err := vm.ScaleIn(foreign, d("1"), d("1900"), t0.Add(time.Minute)); !errors.As(err, &unknown) {
		t.Errorf("scale in foreign: got %v, want UnknownPositionError", err)
	}
	if _, err := vm.Close(foreign, d("2500"), t0.Add(time.Minute)); !errors.As(err, &unknown) {
		t.Errorf("close foreign: got %v, want UnknownPositionError", err)
	}
	if !vm.Balance().Equal(d("1000")) || len(vm.ClosedTrades()) != 0 {
		t.Errorf("foreign close changed the account: balance %s, %d trades", vm.Balance(), len(vm.ClosedTrades()))
	}
	if foreign.IsClosed() || foreign.RebuyCount() != 0 {
		t.Error("foreign position was modified")
	}
	if vm.OpenPosition("ETHUSDT") != own {
		t.Error("own position no longer open")
	}
}

func Test_LastPrice(t *testing.T) {
	vm := newManager(FeesOnEveryFill)
	p, _ := vm.OpenLong("XRPUSDT", d("10"), d("0.5"), t0)
	if !p.LastPrice().Equal(d("0.5")) {
		t.Errorf("LastPrice = %s, want 0.5", p.LastPrice())
	}
	vm.ScaleIn(p, d("20"), d("0.49"), t0.Add(time.Minute))
	if !p.LastPrice().Equal(d("0.49")) {
		t.Errorf("LastPrice = %s, want 0.49", p.LastPrice())
	}
	if p.RebuyCount() != 1 {
		t.Errorf("RebuyCount = %d, want 1", p.RebuyCount())
	}
}

func Test_ParseFeeSchedule(t *testing.T) {
	tests := []struct {
		in      string
		want    FeeSchedule
		wantErr bool
	}{
		{in: "", want: FeesOnEveryFill},
		{in: "every-fill", want: FeesOnEveryFill},
		{in: "open-and-close", want: FeesOnOpenAndClose},
		{in: "never", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFeeSchedule(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFeeSchedule(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFeeSchedule(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
