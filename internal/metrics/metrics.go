package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BacktestRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daytrader_backtest_runs_total",
			Help: "Backtest runs by symbol and outcome",
		},
		[]string{"symbol", "outcome"},
	)

	BacktestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daytrader_backtest_duration_seconds",
			Help:    "Wall time of a backtest run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"symbol"},
	)

	TradesClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daytrader_trades_closed_total",
			Help: "Virtual trades closed by symbol, direction and result",
		},
		[]string{"symbol", "direction", "result"},
	)

	SignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daytrader_scanner_signals_total",
			Help: "Entry signals emitted by the scanner",
		},
		[]string{"symbol", "direction"},
	)

	RestRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "daytrader_rest_request_duration_seconds",
			Help: "Exchange REST request duration",
		},
		[]string{"endpoint", "status"},
	)

	StorageQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "daytrader_storage_query_duration_seconds",
			Help: "Database query duration",
		},
		[]string{"operation"},
	)
)
