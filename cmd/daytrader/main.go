package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adamdenes/daytrader/api"
	"github.com/adamdenes/daytrader/cmd/rest"
	"github.com/adamdenes/daytrader/internal/config"
	"github.com/adamdenes/daytrader/internal/logger"
	"github.com/adamdenes/daytrader/internal/models"
	"github.com/adamdenes/daytrader/internal/scanner"
	"github.com/adamdenes/daytrader/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP network address, overrides the config")
	cfgPath := flag.String("config", "", "settings file (yaml, json or toml)")
	noScan := flag.Bool("no-scan", false, "do not start the live scanner")
	flag.Parse()

	settings, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if *addr != "" {
		settings.Addr = *addr
	}
	if err := logger.Init(settings.LogLevel); err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := rest.NewClient("")
	cache, err := storage.NewFileCache(settings.CacheDir)
	if err != nil {
		logger.Error.Fatal(err)
	}

	var (
		candles api.CandleSource = &rest.CachedSource{Client: client, Cache: cache}
		trades  api.TradeStore
	)
	if settings.Storage.DSN != "" {
		db, err := storage.New(settings.Storage.Driver, settings.Storage.DSN)
		if err != nil {
			logger.Error.Fatal(err)
		}
		defer db.Close()
		if err := db.Init(); err != nil {
			logger.Error.Fatal(err)
		}
		candles = &storedSource{db: db, client: client}
		trades = db
	}

	var sc *scanner.Scanner
	if !*noScan {
		sc = startScanner(ctx, client, settings)
	}

	server := api.NewServer(settings.Addr, candles, trades, sc, settings)
	if err := server.Run(ctx); err != nil {
		logger.Error.Fatal(err)
	}
}

func startScanner(ctx context.Context, client *rest.Client, settings *config.Settings) *scanner.Scanner {
	cfg, err := settings.BacktestConfig()
	if err != nil {
		logger.Error.Fatal(err)
	}
	symbols, err := scanner.Watchlist(ctx, client, settings.Quotes(), settings.Min24HrVolume)
	if err != nil {
		logger.Error.Printf("Scanner disabled: %v\n", err)
		return nil
	}
	sc, err := scanner.New(client, symbols, settings.Interval, cfg.Strategy)
	if err != nil {
		logger.Error.Fatal(err)
	}

	go func() {
		if err := sc.Run(ctx, settings.PollInterval); err != nil && ctx.Err() == nil {
			logger.Error.Printf("Scanner stopped: %v\n", err)
		}
	}()
	return sc
}

// storedSource reads candles from the database and fills it from the
// exchange when the requested range is empty.
type storedSource struct {
	db     storage.Storage
	client *rest.Client
}

func (s *storedSource) FetchData(
	ctx context.Context,
	symbol, interval string,
	start, end time.Time,
) ([]*models.Candle, error) {
	candles, err := s.db.FetchData(ctx, symbol, interval, start, end)
	if err != nil || len(candles) > 0 {
		return candles, err
	}

	candles, err = s.client.GetKlines(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}
	if len(candles) > 0 {
		if err := s.db.SaveCandles(ctx, symbol, interval, candles); err != nil {
			logger.Warn.Printf("Could not store %s %s candles: %v\n", symbol, interval, err)
		}
	}
	return candles, nil
}
