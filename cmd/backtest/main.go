package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/adamdenes/daytrader/cmd/rest"
	"github.com/adamdenes/daytrader/internal/backtest"
	"github.com/adamdenes/daytrader/internal/config"
	"github.com/adamdenes/daytrader/internal/logger"
	"github.com/adamdenes/daytrader/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "", "settings file (yaml, json or toml)")
	symbol := flag.String("symbol", "BTCUSDT", "trading pair")
	interval := flag.String("interval", "", "candle interval, defaults to the configured one")
	from := flag.String("from", time.Now().AddDate(0, -1, 0).Format(time.DateOnly), "first day (YYYY-MM-DD, UTC)")
	to := flag.String("to", time.Now().Format(time.DateOnly), "last day (YYYY-MM-DD, UTC)")
	save := flag.Bool("save", false, "store the trades in the configured database")
	flag.Parse()

	settings, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := logger.Init(settings.LogLevel); err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if *interval == "" {
		*interval = settings.Interval
	}
	start, err := time.Parse(time.DateOnly, *from)
	if err != nil {
		logger.Error.Fatal(err)
	}
	end, err := time.Parse(time.DateOnly, *to)
	if err != nil {
		logger.Error.Fatal(err)
	}
	end = end.Add(24*time.Hour - time.Millisecond)

	cfg, err := settings.BacktestConfig()
	if err != nil {
		logger.Error.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cache, err := storage.NewFileCache(settings.CacheDir)
	if err != nil {
		logger.Error.Fatal(err)
	}
	sym := strings.ToUpper(*symbol)
	bars, err := rest.NewClient("").LoadCandles(ctx, cache, sym, *interval, start, end)
	if err != nil {
		logger.Error.Fatal(err)
	}
	logger.Info.Printf("Backtesting %s %s on %d candles\n", sym, *interval, len(bars))

	engine, err := backtest.NewBacktestEngine(sym, bars, cfg)
	if err != nil {
		logger.Error.Fatal(err)
	}
	report, err := engine.Run(ctx)
	if err != nil {
		logger.Error.Fatal(err)
	}
	if err := report.Print(os.Stdout); err != nil {
		logger.Error.Fatal(err)
	}

	if !*save {
		return
	}
	if settings.Storage.DSN == "" {
		logger.Error.Fatal("-save needs storage.dsn")
	}
	db, err := storage.New(settings.Storage.Driver, settings.Storage.DSN)
	if err != nil {
		logger.Error.Fatal(err)
	}
	defer db.Close()
	if err := db.Init(); err != nil {
		logger.Error.Fatal(err)
	}
	if err := db.SaveTrades(ctx, report.RunID, report.Trades); err != nil {
		logger.Error.Fatal(err)
	}
	logger.Info.Printf("Saved %d trades of run %v\n", len(report.Trades), report.RunID)
}
