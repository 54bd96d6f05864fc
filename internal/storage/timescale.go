package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adamdenes/daytrader/internal/ledger"
	"github.com/adamdenes/daytrader/internal/logger"
	"github.com/adamdenes/daytrader/internal/metrics"
	"github.com/adamdenes/daytrader/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// Continuous aggregates kept on top of the kline hypertable, keyed by the
// Binance interval they bucket into.
var aggregates = map[string][3]string{
	// interval: start offset, end offset, schedule
	"5m": {"1 day", "5 minutes", "10 minutes"},
	"1h": {"1 month", "1 hour", "1 day"},
	"1d": {"1 year", "1 day", "1 week"},
}

type TimescaleDB struct {
	db *sql.DB
}

func NewTimescaleDB(dsn string) (*TimescaleDB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &TimescaleDB{db: db}, nil
}

func (ts *TimescaleDB) Close() {
	ts.db.Close()
}

func (ts *TimescaleDB) Init() error {
	if _, err := ts.db.Exec("CREATE SCHEMA IF NOT EXISTS binance"); err != nil {
		return err
	}
	if err := ts.CreateCandleTable(); err != nil {
		return err
	}
	if err := ts.CreateTradeTable(); err != nil {
		return err
	}

	for interval, policy := range aggregates {
		if err := ts.CreateMaterializedView(interval); err != nil {
			return err
		}
		if err := ts.CreateRefreshPolicy(interval, policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}

	return nil
}

func (ts *TimescaleDB) CreateCandleTable() error {
	typeQuery := `CREATE TABLE IF NOT EXISTS binance.symbol_intervals (
        symbol_interval_id SERIAL PRIMARY KEY,
        symbol TEXT NOT NULL,
        interval TEXT NOT NULL,
        UNIQUE (symbol, interval)
    );`

	tableQuery := `CREATE TABLE IF NOT EXISTS binance.kline (
        symbol_interval_id INT REFERENCES binance.symbol_intervals(symbol_interval_id),
        open_time TIMESTAMPTZ NOT NULL,
        open FLOAT NOT NULL,
        high FLOAT NOT NULL,
        low FLOAT NOT NULL,
        close FLOAT NOT NULL,
        volume FLOAT NOT NULL,
        close_time TIMESTAMPTZ NOT NULL
    );`
	// Check if hypertable exist, if not create it
	hypertableQuery := `
    DO $$
    BEGIN
        IF NOT EXISTS (SELECT * FROM timescaledb_information.hypertables WHERE hypertable_schema = 'binance' AND hypertable_name = 'kline') THEN
            PERFORM create_hypertable('binance.kline', 'open_time');
        END IF;
    END $$;`

	for _, q := range []string{typeQuery, tableQuery, hypertableQuery} {
		if _, err := ts.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (ts *TimescaleDB) CreateTradeTable() error {
	query := `CREATE TABLE IF NOT EXISTS binance.backtest_trades (
        run_id uuid NOT NULL,
        trade_id TEXT NOT NULL,
        symbol TEXT NOT NULL,
        direction TEXT NOT NULL,
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

	_, err := ts.db.Exec(query)
	return err
}

// CreateMaterializedView creates an OHLC continuous aggregate bucketed by
// the given Binance interval.
func (ts *TimescaleDB) CreateMaterializedView(interval string) error {
	query := fmt.Sprintf(`
    CREATE MATERIALIZED VIEW IF NOT EXISTS binance.aggregate_%s WITH (timescaledb.continuous) AS
    SELECT
        si.symbol,
        time_bucket(INTERVAL '%s', open_time) as bucket,
        FIRST(open, open_time) as open,
        MAX(high) as high,
        MIN(low) as low,
        LAST(close, close_time) as close,
        SUM(volume) as volume
    FROM binance.kline AS kd
    JOIN binance.symbol_intervals AS si ON kd.symbol_interval_id = si.symbol_interval_id
    GROUP BY bucket, si.symbol;`, interval, ConvertInterval(interval))

	_, err := ts.db.Exec(query)
	return err
}

func (ts *TimescaleDB) CreateRefreshPolicy(
	interval string,
	startOffset, endOffset, scheduleInterval string,
) error {
	// Add only if not already created...
	p := fmt.Sprintf(`
    DO $$
    BEGIN
        IF NOT EXISTS (
            SELECT 1
            FROM timescaledb_information.jobs j
            JOIN timescaledb_information.continuous_aggregates c ON j.hypertable_name = c.materialization_hypertable_name
            WHERE c.view_name = 'aggregate_%s' AND c.view_schema = 'binance'
        ) THEN
            PERFORM add_continuous_aggregate_policy(
                'binance."aggregate_%s"',
                start_offset => INTERVAL '%s',
                end_offset => INTERVAL '%s',
                schedule_interval => INTERVAL '%s'
            );
        END IF;
    END $$;`,
		interval, interval, startOffset, endOffset, scheduleInterval)

	_, err := ts.db.Exec(p)
	return err
}

// SaveCandles streams the candles into the hypertable with COPY.
func (ts *TimescaleDB) SaveCandles(
	ctx context.Context,
	symbol, interval string,
	candles []*models.Candle,
) error {
	startTime := time.Now()

	conn, err := ts.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var copied int64
	err = conn.Raw(func(driverConn any) error {
		pc := driverConn.(*stdlib.Conn).Conn()

		// Ensure the symbol and interval combination exists in the symbol_intervals table
		var symbolIntervalID int64
		err := pc.QueryRow(ctx, `
            INSERT INTO binance.symbol_intervals (symbol, interval)
            VALUES ($1, $2)
            ON CONFLICT (symbol, interval)
            DO UPDATE SET
                symbol = EXCLUDED.symbol,
                interval = EXCLUDED.interval
            RETURNING symbol_interval_id`,
			symbol,
			interval,
		).Scan(&symbolIntervalID)
		if err != nil {
			return fmt.Errorf("error QueryRow: %w", err)
		}

		copied, err = pc.CopyFrom(ctx,
			pgx.Identifier{"binance", "kline"},
			[]string{
				"symbol_interval_id",
				"open_time",
				"open",
				"high",
				"low",
				"close",
				"volume",
				"close_time",
			},
			&candleCopySource{symbolIntervalID: symbolIntervalID, candles: candles, idx: -1},
		)
		if err != nil {
			return fmt.Errorf("error CopyFrom: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.StorageQueryDuration.WithLabelValues("timescale_copy_candles").Observe(time.Since(startTime).Seconds())
	logger.Info.Printf("Copied %d %s %s candles to TimescaleDB, it took %v\n",
		copied, symbol, interval, time.Since(startTime))
	return nil
}

func (ts *TimescaleDB) FetchData(
	ctx context.Context,
	symbol, interval string,
	start, end time.Time,
) ([]*models.Candle, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
        SELECT kd.open_time, kd.open, kd.high, kd.low, kd.close, kd.volume, kd.close_time
        FROM binance.kline AS kd
        JOIN binance.symbol_intervals AS si ON kd.symbol_interval_id = si.symbol_interval_id
        WHERE si.symbol = $1 AND si.interval = $2 AND kd.open_time BETWEEN $3 AND $4
        ORDER BY kd.open_time ASC`

	rows, err := ts.db.QueryContext(ctx, query, symbol, interval, start, end)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return nil, err
	}
	defer rows.Close()

	var candles []*models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.CloseTime); err != nil {
			return nil, err
		}
		c.OpenTime = c.OpenTime.UTC()
		c.CloseTime = c.CloseTime.UTC()
		candles = append(candles, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	metrics.StorageQueryDuration.WithLabelValues("timescale_fetch_candles").Observe(time.Since(startTime).Seconds())
	return candles, nil
}

// SaveTrades sends all inserts of a run in one pgx batch.
func (ts *TimescaleDB) SaveTrades(ctx context.Context, runID uuid.UUID, trades []*ledger.Position) error {
	conn, err := ts.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		pc := driverConn.(*stdlib.Conn).Conn()

		batch := &pgx.Batch{}
		for _, t := range trades {
			args, err := tradeArgs(runID, t)
			if err != nil {
				return err
			}
			batch.Queue(insertTradeQuery, args...)
		}

		br := pc.SendBatch(ctx, batch)
		for _, t := range trades {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("error inserting trade %s: %w", t.ID, err)
			}
		}
		return br.Close()
	})
}

// candleCopySource implements pgx.CopyFromSource over a candle slice.
type candleCopySource struct {
	symbolIntervalID int64
	candles          []*models.Candle
	idx              int
}

func (cs *candleCopySource) Next() bool {
	cs.idx++
	return cs.idx < len(cs.candles)
}

func (cs *candleCopySource) Values() ([]any, error) {
	if cs.idx < 0 || cs.idx >= len(cs.candles) {
		return nil, errors.New("no current record")
	}
	c := cs.candles[cs.idx]

	var (
		symbolIntervalID pgtype.Int8
		openTime         pgtype.Timestamptz
		closeTime        pgtype.Timestamptz
		open             pgtype.Float8
		high             pgtype.Float8
		low              pgtype.Float8
		cloze            pgtype.Float8
		volume           pgtype.Float8
	)
	sets := []struct {
		dst interface{ Set(any) error }
		src any
	}{
		{&symbolIntervalID, cs.symbolIntervalID},
		{&openTime, c.OpenTime},
		{&open, c.Open},
		{&high, c.High},
		{&low, c.Low},
		{&cloze, c.Close},
		{&volume, c.Volume},
		{&closeTime, c.CloseTime},
	}
	for _, s := range sets {
		if err := s.dst.Set(s.src); err != nil {
			return nil, err
		}
	}

	return []any{
		symbolIntervalID,
		openTime,
		open,
		high,
		low,
		cloze,
		volume,
		closeTime,
	}, nil
}

func (cs *candleCopySource) Err() error {
	return nil
}
