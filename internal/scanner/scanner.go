package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adamdenes/daytrader/internal/indicator"
	"github.com/adamdenes/daytrader/internal/logger"
	"github.com/adamdenes/daytrader/internal/metrics"
	"github.com/adamdenes/daytrader/internal/models"
	"github.com/adamdenes/daytrader/strategy"
	"golang.org/x/sync/errgroup"
)

const (
	minCandles   = 50
	parallelism  = 8
	subscriberCh = 16
)

// KlineFetcher returns the newest candles of a symbol, ascending.
type KlineFetcher interface {
	GetRecentKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
}

// FilterSymbols keeps the symbols quoted in one of the enabled currencies
// whose 24h quote volume reaches minVolume. The result is sorted.
func FilterSymbols(tickers []models.Ticker24h, quotes []string, minVolume float64) []string {
	var out []string
	for _, t := range tickers {
		if !hasQuote(t.Symbol, quotes) {
			continue
		}
		vol, err := strconv.ParseFloat(t.QuoteVolume, 64)
		if err != nil || vol < minVolume {
			continue
		}
		out = append(out, t.Symbol)
	}
	sort.Strings(out)
	return out
}

// MarketData lists the tradable symbols and their 24h statistics.
type MarketData interface {
	Get24hTickers(ctx context.Context) ([]models.Ticker24h, error)
	NewSymbolCache(ctx context.Context) (map[string]struct{}, error)
}

// Watchlist returns the tradable symbols that pass FilterSymbols.
func Watchlist(ctx context.Context, md MarketData, quotes []string, minVolume float64) ([]string, error) {
	tickers, err := md.Get24hTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("error fetching tickers: %w", err)
	}
	tradable, err := md.NewSymbolCache(ctx)
	if err != nil {
		return nil, fmt.Errorf("error fetching symbols: %w", err)
	}

	var out []string
	for _, s := range FilterSymbols(tickers, quotes, minVolume) {
		if _, ok := tradable[s]; ok {
			out = append(out, s)
		}
	}
	logger.Info.Printf("%d of %d symbols have enough volume\n", len(out), len(tickers))
	return out, nil
}

func hasQuote(symbol string, quotes []string) bool {
	s := strings.ToLower(symbol)
	for _, q := range quotes {
		if strings.Contains(s, strings.ToLower(q)) {
			return true
		}
	}
	return false
}

// Scanner polls the watched symbols and checks the entry condition on the
// newest closed bar of each. Signals fan out to every subscriber.
type Scanner struct {
	fetcher  KlineFetcher
	watch    []models.CandleSubsciption
	cfg      strategy.Config
	limit    int
	now      func() time.Time
	mu       sync.Mutex
	lastSeen map[string]time.Time
	subs     map[chan models.Signal]struct{}
}

func New(fetcher KlineFetcher, symbols []string, interval string, cfg strategy.Config) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	watch := make([]models.CandleSubsciption, len(symbols))
	for i, s := range symbols {
		watch[i] = models.CandleSubsciption{Symbol: strings.ToUpper(s), Interval: interval}
	}
	return &Scanner{
		fetcher:  fetcher,
		watch:    watch,
		cfg:      cfg,
		limit:    max(minCandles, cfg.MinLookback()+2),
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
		subs:     make(map[chan models.Signal]struct{}),
	}, nil
}

func (s *Scanner) Symbols() []string {
	out := make([]string, len(s.watch))
	for i, w := range s.watch {
		out[i] = w.Symbol
	}
	return out
}

// Subscribe returns a channel of signals and a func that detaches it.
func (s *Scanner) Subscribe() (<-chan models.Signal, func()) {
	ch := make(chan models.Signal, subscriberCh)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Scanner) publish(sig models.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- sig:
		default:
			logger.Warn.Printf("Dropping %s signal for a slow subscriber\n", sig.Symbol)
		}
	}
}

// Run scans every interval until ctx is done.
func (s *Scanner) Run(ctx context.Context, every time.Duration) error {
	logger.Info.Printf("Scanning %d symbols every %v\n", len(s.watch), every)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if _, err := s.ScanOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanOnce checks every watched symbol once and publishes new signals. A
// symbol that fails to download is logged and skipped.
func (s *Scanner) ScanOnce(ctx context.Context) ([]models.Signal, error) {
	var (
		mu    sync.Mutex
		found []models.Signal
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, w := range s.watch {
		w := w
		g.Go(func() error {
			sig, ok, err := s.scan(gctx, w)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn.Printf("Skipping %s: %v\n", w.Symbol, err)
				return nil
			}
			if ok {
				mu.Lock()
				found = append(found, sig)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Symbol < found[j].Symbol })
	for _, sig := range found {
		metrics.SignalsTotal.WithLabelValues(sig.Symbol, sig.Direction.String()).Inc()
		logger.Info.Printf("%s %s %s at %v (%s)\n", sig.Time.Format(time.DateTime), sig.Symbol, sig.Direction, sig.Price, sig.Interval)
		s.publish(sig)
	}
	return found, nil
}

func (s *Scanner) scan(ctx context.Context, w models.CandleSubsciption) (models.Signal, bool, error) {
	bars, err := s.fetcher.GetRecentKlines(ctx, w.Symbol, w.Interval, s.limit)
	if err != nil {
		return models.Signal{}, false, err
	}

	// The newest bar is usually still forming.
	now := s.now()
	for len(bars) > 0 && bars[len(bars)-1].CloseTime.After(now) {
		bars = bars[:len(bars)-1]
	}
	if len(bars) == 0 {
		return models.Signal{}, false, nil
	}

	i := len(bars) - 1
	dir, ok, err := strategy.EntrySignal(bars, i, s.cfg)
	if err != nil {
		var ide *indicator.InsufficientDataError
		var dwe *indicator.DegenerateWindowError
		if errors.As(err, &ide) || errors.As(err, &dwe) {
			return models.Signal{}, false, nil
		}
		return models.Signal{}, false, err
	}
	if !ok {
		return models.Signal{}, false, nil
	}

	bar := bars[i]
	s.mu.Lock()
	seen := s.lastSeen[w.Symbol].Equal(bar.OpenTime)
	s.lastSeen[w.Symbol] = bar.OpenTime
	s.mu.Unlock()
	if seen {
		return models.Signal{}, false, nil
	}

	return models.Signal{
		Symbol:    w.Symbol,
		Interval:  w.Interval,
		Direction: dir,
		Time:      bar.OpenTime,
		Price:     bar.Close,
	}, true, nil
}
