package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/adamdenes/daytrader/internal/backtest"
	"github.com/adamdenes/daytrader/internal/config"
	"github.com/adamdenes/daytrader/internal/ledger"
	"github.com/adamdenes/daytrader/internal/logger"
	"github.com/adamdenes/daytrader/internal/models"
	"github.com/adamdenes/daytrader/internal/scanner"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// CandleSource serves the bars a backtest runs on.
type CandleSource interface {
	FetchData(ctx context.Context, symbol, interval string, start, end time.Time) ([]*models.Candle, error)
}

// TradeStore persists the ledger of a finished run.
type TradeStore interface {
	SaveTrades(ctx context.Context, runID uuid.UUID, trades []*ledger.Position) error
}

type Server struct {
	listenAddress string
	candles       CandleSource
	trades        TradeStore
	scanner       *scanner.Scanner
	settings      *config.Settings
	router        *http.ServeMux
	infoLog       *log.Logger
	errorLog      *log.Logger
}

// NewServer wires the handlers. trades and sc may be nil, the matching
// features are then disabled.
func NewServer(
	addr string,
	candles CandleSource,
	trades TradeStore,
	sc *scanner.Scanner,
	settings *config.Settings,
) *Server {
	return &Server{
		listenAddress: addr,
		candles:       candles,
		trades:        trades,
		scanner:       sc,
		settings:      settings,
		router:        &http.ServeMux{},
		infoLog:       logger.Info,
		errorLog:      logger.Error,
	}
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:     s.listenAddress,
		Handler:  s.routes(),
		ErrorLog: s.errorLog,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.errorLog.Printf("error shutting down server: %v\n", err)
		}
	}()

	s.infoLog.Printf("Server listening on localhost%s\n", s.listenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	s.router = http.NewServeMux()

	s.router.Handle("/backtest", s.compress(http.HandlerFunc(s.backtestHandler)))
	s.router.Handle("/settings", s.compress(http.HandlerFunc(s.settingsHandler)))
	s.router.HandleFunc("/ws/signals", s.signalsHandler)
	s.router.Handle("/metrics", promhttp.Handler())

	// Chain middlewares here
	return s.recoverPanic(s.tagRequest(s.logRequest(s.secureHeader(s.router))))
}

type backtestRequest struct {
	models.KlineRequest
	Config *backtest.Config `json:"config,omitempty"`
	Save   bool             `json:"save"`
}

func (s *Server) backtestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.clientError(w, http.StatusMethodNotAllowed)
		return
	}

	req := &backtestRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.errorLog.Println(err)
		s.clientError(w, http.StatusBadRequest)
		return
	}
	if err := ValidateSymbol(req.Symbol); err != nil {
		s.errorLog.Println(err)
		s.clientError(w, http.StatusBadRequest)
		return
	}
	if req.Interval == "" {
		req.Interval = s.settings.Interval
	}
	start, end, err := ValidateTimes(req.OpenTime, req.CloseTime)
	if err != nil {
		s.errorLog.Println(err)
		s.clientError(w, http.StatusBadRequest)
		return
	}

	cfg := req.Config
	if cfg == nil {
		c, err := s.settings.BacktestConfig()
		if err != nil {
			s.serverError(w, err)
			return
		}
		cfg = &c
	}

	bars, err := s.candles.FetchData(r.Context(), req.Symbol, req.Interval, start, end)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if len(bars) == 0 {
		s.notFound(w)
		return
	}

	engine, err := backtest.NewBacktestEngine(req.Symbol, bars, *cfg)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	report, err := engine.Run(r.Context())
	if err != nil {
		if !clientStillConnected(r) {
			s.errorLog.Println("Client disconnected early.")
			return
		}
		s.badRequest(w, err)
		return
	}

	if req.Save && s.trades != nil {
		if err := s.trades.SaveTrades(r.Context(), report.RunID, report.Trades); err != nil {
			s.serverError(w, err)
			return
		}
	}

	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		s.errorLog.Println(err)
	}
}

func (s *Server) settingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		s.clientError(w, http.StatusMethodNotAllowed)
		return
	}
	if err := WriteJSON(w, http.StatusOK, s.settings); err != nil {
		s.errorLog.Println(err)
	}
}

// signalsHandler streams scanner signals as JSON messages until the client
// goes away.
func (s *Server) signalsHandler(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		s.clientError(w, http.StatusServiceUnavailable)
		return
	}

	signals, unsubscribe := s.scanner.Subscribe()
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.errorLog.Printf("websocket accept: %v\n", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())

	go receiver(ctx, signals, conn)
	s.cleanUp(ctx, conn, cancel)
}

func (s *Server) cleanUp(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		msgType, msg, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure: // Disconnect by client
				s.infoLog.Printf("WebSocket closed by client")
			case websocket.StatusGoingAway: // Closing the tab
				s.infoLog.Printf("WebSocket going away")
			default:
				s.errorLog.Printf(
					"WebSocket read error: %v - %v\n",
					err,
					websocket.CloseStatus(err),
				)
			}
			return
		}

		if msgType == websocket.MessageText && string(msg) == "CLOSE" {
			s.infoLog.Printf("Received closing message from client: %s\n", msg)
			conn.Close(websocket.StatusNormalClosure, "Closed by client")
			return
		}
	}
}

func receiver[T any](ctx context.Context, in <-chan T, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-in:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, data); err != nil {
				logger.Error.Printf("Error writing data to WebSocket: %v\n", err)
				return
			}
		}
	}
}

func clientStillConnected(r *http.Request) bool {
	select {
	case <-r.Context().Done():
		return false
	default:
		return true
	}
}
