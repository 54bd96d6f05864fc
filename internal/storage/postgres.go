package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adamdenes/daytrader/internal/ledger"
	"github.com/adamdenes/daytrader/internal/logger"
	"github.com/adamdenes/daytrader/internal/metrics"
	"github.com/adamdenes/daytrader/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type PostgresDB struct {
	db *sql.DB
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresDB{db: db}, nil
}

func (p *PostgresDB) Init() error {
	if _, err := p.db.Exec("CREATE SCHEMA IF NOT EXISTS binance"); err != nil {
		return err
	}
	if err := p.CreateCandleTable(); err != nil {
		return err
	}
	return p.CreateTradeTable()
}

func (p *PostgresDB) CreateCandleTable() error {
	query := `CREATE TABLE IF NOT EXISTS binance.kline_data (
		id serial PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		interval VARCHAR(3) NOT NULL,
		open_time bigint NOT NULL,
		open NUMERIC(24, 8) NOT NULL,
		high NUMERIC(24, 8) NOT NULL,
		low NUMERIC(24, 8) NOT NULL,
		close NUMERIC(24, 8) NOT NULL,
		volume NUMERIC(24, 8) NOT NULL,
		close_time bigint NOT NULL,
		UNIQUE (symbol, interval, open_time)
	);`

	_, err := p.db.Exec(query)
	return err
}

func (p *PostgresDB) CreateTradeTable() error {
	query := `CREATE TABLE IF NOT EXISTS binance.backtest_trades (
		run_id uuid NOT NULL,
		trade_id TEXT NOT NULL,
		symbol VARCHAR(20) NOT NULL,
		direction VARCHAR(5) NOT NULL,
		open_time TIMESTAMPTZ NOT NULL,
		open_price NUMERIC NOT NULL,
		initial_coins NUMERIC NOT NULL,
		initial_investment NUMERIC NOT NULL,
		rebuys JSONB NOT NULL,
		total_coins NUMERIC NOT NULL,
		total_investment NUMERIC NOT NULL,
		fees_paid NUMERIC NOT NULL,
		close_time TIMESTAMPTZ NOT NULL,
		close_price NUMERIC NOT NULL,
		profit_amount NUMERIC NOT NULL,
		profit_percent NUMERIC NOT NULL,
		PRIMARY KEY (run_id, trade_id)
	);`

	_, err := p.db.Exec(query)
	return err
}

func (p *PostgresDB) Close() {
	p.db.Close()
}

// SaveCandles bulk loads candles with COPY. Existing rows for the same open
// time make the whole copy fail, callers fetch the missing range first.
func (p *PostgresDB) SaveCandles(
	ctx context.Context,
	symbol, interval string,
	candles []*models.Candle,
) error {
	startTime := time.Now()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		pq.CopyInSchema(
			"binance",
			"kline_data",
			"symbol",
			"interval",
			"open_time",
			"open",
			"high",
			"low",
			"close",
			"volume",
			"close_time",
		),
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err = stmt.ExecContext(ctx,
			symbol,
			interval,
			c.OpenTime.UnixMilli(),
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
			c.CloseTime.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("error copying candle %v: %w", c.OpenTime, err)
		}
	}

	// Flush the COPY buffer
	if _, err = stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("error executing COPY command: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return err
	}

	metrics.StorageQueryDuration.WithLabelValues("postgres_copy_candles").Observe(time.Since(startTime).Seconds())
	logger.Info.Printf("Copied %d %s %s candles to Postgres, it took %v\n",
		len(candles), symbol, interval, time.Since(startTime))
	return nil
}

func (p *PostgresDB) FetchData(
	ctx context.Context,
	symbol, interval string,
	start, end time.Time,
) ([]*models.Candle, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// Only query what is used to reduce overhead
	query := `SELECT
        open_time,
        open,
        high,
        low,
        close,
        volume,
        close_time
        FROM binance.kline_data
        WHERE symbol = $1 AND interval = $2 AND open_time >= $3 AND open_time <= $4
        ORDER BY open_time ASC`

	rows, err := p.db.QueryContext(ctx, query, symbol, interval, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return nil, err
	}
	defer rows.Close()

	var candles []*models.Candle
	for rows.Next() {
		var (
			c      models.Candle
			ot, ct int64
		)
		if err := rows.Scan(&ot, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &ct); err != nil {
			return nil, err
		}
		c.OpenTime = time.UnixMilli(ot).UTC()
		c.CloseTime = time.UnixMilli(ct).UTC()
		candles = append(candles, &c)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	metrics.StorageQueryDuration.WithLabelValues("postgres_fetch_candles").Observe(time.Since(startTime).Seconds())
	logger.Info.Printf("Fetched %d %s candles, it took %v\n", len(candles), symbol, time.Since(startTime))
	return candles, nil
}

// SaveTrades stores the closed trades of one run.
func (p *PostgresDB) SaveTrades(ctx context.Context, runID uuid.UUID, trades []*ledger.Position) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertTradeQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range trades {
		args, err := tradeArgs(runID, t)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("error inserting trade %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

const insertTradeQuery = `
    INSERT INTO binance.backtest_trades (
        run_id,
        trade_id,
        symbol,
        direction,
        open_time,
        open_price,
        initial_coins,
        initial_investment,
        rebuys,
        total_coins,
        total_investment,
        fees_paid,
        close_time,
        close_price,
        profit_amount,
        profit_percent
    )
    VALUES (
        $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
    )`

func tradeArgs(runID uuid.UUID, t *ledger.Position) ([]any, error) {
	if !t.IsClosed() {
		return nil, fmt.Errorf("trade %s for %s is still open", t.ID, t.Symbol)
	}
	rebuys, err := json.Marshal(t.Rebuys)
	if err != nil {
		return nil, err
	}
	return []any{
		runID.String(),
		t.ID,
		t.Symbol,
		t.Direction.String(),
		t.OpenTime,
		t.OpenPrice,
		t.InitialCoins,
		t.InitialInvestment,
		string(rebuys),
		t.TotalCoins,
		t.TotalInvestment,
		t.FeesPaid,
		*t.CloseTime,
		t.ClosePrice,
		t.ProfitAmount,
		t.ProfitPercent,
	}, nil
}
