package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/adamdenes/daytrader/cmd/rest"
	"github.com/adamdenes/daytrader/internal/config"
	"github.com/adamdenes/daytrader/internal/logger"
	"github.com/adamdenes/daytrader/internal/scanner"
)

func main() {
	cfgPath := flag.String("config", "", "settings file (yaml, json or toml)")
	saveCfg := flag.String("save-config", "", "write the effective settings to this file and exit")
	flag.Parse()

	settings, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if *saveCfg != "" {
		if err := settings.Save(*saveCfg); err != nil {
			log.Fatal(err)
		}
		return
	}
	if err := logger.Init(settings.LogLevel); err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	cfg, err := settings.BacktestConfig()
	if err != nil {
		logger.Error.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := rest.NewClient("")
	symbols, err := scanner.Watchlist(ctx, client, settings.Quotes(), settings.Min24HrVolume)
	if err != nil {
		logger.Error.Fatal(err)
	}
	sc, err := scanner.New(client, symbols, settings.Interval, cfg.Strategy)
	if err != nil {
		logger.Error.Fatal(err)
	}
	fmt.Printf("Scanning %s\n", strings.Join(sc.Symbols(), ", "))

	signals, unsubscribe := sc.Subscribe()
	defer unsubscribe()
	go func() {
		for sig := range signals {
			fmt.Printf("%s %-12s %-5s %v\n", sig.Time.Local().Format(time.DateTime), sig.Symbol, sig.Direction, sig.Price)
		}
	}()

	if err := sc.Run(ctx, settings.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error.Fatal(err)
	}
}
