package scanner

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/adamdenes/daytrader/internal/models"
	"github.com/adamdenes/daytrader/strategy"
)

var start = time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

func bars(closes ...[3]float64) []*models.Candle {
	out := make([]*models.Candle, len(closes))
	for i, c := range closes {
		ot := start.Add(time.Duration(i) * 5 * time.Minute)
		out[i] = &models.Candle{
			OpenTime:  ot,
			Open:      c[0],
			High:      c[1],
			Low:       c[2],
			Close:     c[0],
			CloseTime: ot.Add(5*time.Minute - time.Millisecond),
		}
	}
	return out
}

// dipSeries is flat history, a closed bar far below the lower band and a
// forming bar after it.
func dipSeries() []*models.Candle {
	var rows [][3]float64
	for i := 0; i < 19; i++ {
		rows = append(rows, [3]float64{100, 101, 100})
	}
	rows = append(rows, [3]float64{70, 71, 70}, [3]float64{130, 131, 129})
	return bars(rows...)
}

type fakeFetcher map[string][]*models.Candle

func (f fakeFetcher) GetRecentKlines(_ context.Context, symbol, _ string, _ int) ([]*models.Candle, error) {
	b, ok := f[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return b, nil
}

func Test_FilterSymbols(t *testing.T) {
	tickers := []models.Ticker24h{
		{Symbol: "ETHBTC", QuoteVolume: "900"},
		{Symbol: "BTCUSDT", QuoteVolume: "500000"},
		{Symbol: "ADAUSDT", QuoteVolume: "100"},
		{Symbol: "BNBEUR", QuoteVolume: "450000"},
		{Symbol: "XRPBUSD", QuoteVolume: "400000"},
		{Symbol: "DOGEUSDT", QuoteVolume: "n/a"},
	}
	tests := []struct {
		name      string
		quotes    []string
		minVolume float64
		want      []string
	}{
		{
			name:      "usd only",
			quotes:    []string{"USD"},
			minVolume: 400000,
			want:      []string{"BTCUSDT", "XRPBUSD"},
		},
		{
			name:      "eur and usd",
			quotes:    []string{"USD", "EUR"},
			minVolume: 400000,
			want:      []string{"BNBEUR", "BTCUSDT", "XRPBUSD"},
		},
		{
			name:      "btc with no volume floor",
			quotes:    []string{"BTC"},
			minVolume: 0,
			want:      []string{"BTCUSDT", "ETHBTC"},
		},
		{
			name:      "nothing enabled",
			quotes:    nil,
			minVolume: 0,
			want:      nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterSymbols(tickers, tt.quotes, tt.minVolume)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FilterSymbols() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_ScanOnce(t *testing.T) {
	cfg := strategy.DefaultConfig()
	cfg.MinBandwidthPercent = 0

	flat := make([][3]float64, 30)
	for i := range flat {
		flat[i] = [3]float64{100, 101, 99}
	}
	f := fakeFetcher{
		"BTCUSDT": dipSeries(),
		"ETHUSDT": bars(flat...),
	}
	s, err := New(f, []string{"btcusdt", "ethusdt", "missing"}, "5m", cfg)
	if err != nil {
		t.Fatal(err)
	}
	dip := dipSeries()
	s.now = func() time.Time { return dip[19].CloseTime.Add(time.Second) }

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	got, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce() error = %v", err)
	}
	want := models.Signal{
		Symbol:    "BTCUSDT",
		Interval:  "5m",
		Direction: models.Long,
		Time:      dip[19].OpenTime,
		Price:     70,
	}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("ScanOnce() = %+v, want [%+v]", got, want)
	}

	select {
	case sig := <-ch:
		if sig != want {
			t.Errorf("subscriber got %+v, want %+v", sig, want)
		}
	default:
		t.Error("subscriber received nothing")
	}

	// Same closed bar on the next poll.
	got, err = s.ScanOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("repeated signal for the same bar: %+v", got)
	}
}

func Test_ScanOnceCancelled(t *testing.T) {
	s, err := New(fakeFetcher{}, []string{"BTCUSDT"}, "5m", strategy.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.ScanOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("ScanOnce() error = %v, want context.Canceled", err)
	}
}

func Test_Unsubscribe(t *testing.T) {
	s, err := New(fakeFetcher{}, nil, "5m", strategy.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	ch, unsubscribe := s.Subscribe()
	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
	s.publish(models.Signal{Symbol: "BTCUSDT"})
}

type fakeMarket struct {
	tickers []models.Ticker24h
	symbols map[string]struct{}
}

func (f fakeMarket) Get24hTickers(context.Context) ([]models.Ticker24h, error) {
	return f.tickers, nil
}

func (f fakeMarket) NewSymbolCache(context.Context) (map[string]struct{}, error) {
	return f.symbols, nil
}

func Test_Watchlist(t *testing.T) {
	md := fakeMarket{
		tickers: []models.Ticker24h{
			{Symbol: "BTCUSDT", QuoteVolume: "900000"},
			{Symbol: "LUNAUSDT", QuoteVolume: "900000"},
			{Symbol: "ETHUSDT", QuoteVolume: "10"},
		},
		symbols: map[string]struct{}{"BTCUSDT": {}, "ETHUSDT": {}},
	}
	got, err := Watchlist(context.Background(), md, []string{"USD"}, 400000)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"BTCUSDT"}) {
		t.Errorf("Watchlist() = %v, want [BTCUSDT]", got)
	}
}
