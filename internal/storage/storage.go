package storage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/adamdenes/daytrader/internal/ledger"
	"github.com/adamdenes/daytrader/internal/models"
	"github.com/google/uuid"
)

// Storage persists candles and the trade ledgers of finished runs.
type Storage interface {
	Init() error
	SaveCandles(ctx context.Context, symbol, interval string, candles []*models.Candle) error
	FetchData(ctx context.Context, symbol, interval string, start, end time.Time) ([]*models.Candle, error)
	SaveTrades(ctx context.Context, runID uuid.UUID, trades []*ledger.Position) error
	Close()
}

// New opens the store for driver "postgres" (lib/pq) or "timescale" (pgx).
func New(driver, dsn string) (Storage, error) {
	switch driver {
	case "postgres":
		return NewPostgresDB(dsn)
	case "timescale":
		return NewTimescaleDB(dsn)
	default:
		return nil, &models.InvalidConfigurationError{
			Field:  "storage.driver",
			Reason: fmt.Sprintf("unknown driver %q", driver),
		}
	}
}

const queryTimeout = 30 * time.Second

var intervalRe = regexp.MustCompile(`^(\d+)([smhdwM])$`)

// ConvertInterval turns a Binance interval ("15m", "1w") into a Postgres
// interval literal ("15 minutes", "1 week"). Unknown input is returned as is.
func ConvertInterval(interval string) string {
	m := intervalRe.FindStringSubmatch(interval)
	if m == nil {
		return interval
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return interval
	}

	units := map[string]string{
		"s": "second",
		"m": "minute",
		"h": "hour",
		"d": "day",
		"w": "week",
		"M": "month",
	}
	unit := units[m[2]]
	if n != 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s", n, unit)
}

// IntervalDuration is the length of one Binance interval. Months count as
// 30 days.
func IntervalDuration(interval string) (time.Duration, error) {
	m := intervalRe.FindStringSubmatch(interval)
	if m == nil {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	n, _ := strconv.Atoi(m[1])

	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	case "M":
		unit = 30 * 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}
