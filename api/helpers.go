package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"runtime/debug"
	"time"

	"github.com/adamdenes/daytrader/internal/backtest"
	"github.com/adamdenes/daytrader/internal/models"
)

var symbolRe = regexp.MustCompile(`^[A-Za-z0-9]{5,20}$`)

func (s *Server) serverError(w http.ResponseWriter, err error) {
	trace := fmt.Sprintf("%s\n%s", err.Error(), debug.Stack())
	s.errorLog.Output(2, trace)

	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (s *Server) clientError(w http.ResponseWriter, status int) {
	http.Error(w, http.StatusText(status), status)
}

func (s *Server) notFound(w http.ResponseWriter) {
	s.clientError(w, http.StatusNotFound)
}

// badRequest answers 400 with the reason for configuration and data errors,
// 422 with the failing bar for an aborted run and falls back to serverError
// for everything else.
func (s *Server) badRequest(w http.ResponseWriter, err error) {
	var (
		ice *models.InvalidConfigurationError
		re  *backtest.RunError
	)
	switch {
	case errors.As(err, &ice) || errors.Is(err, backtest.ErrUnorderedBars):
		s.errorLog.Println(err)
		_ = WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &re):
		s.errorLog.Println(err)
		_ = WriteJSON(w, http.StatusUnprocessableEntity, runErrorResponse{
			Index: re.Index,
			Time:  re.Time,
			Error: re.Err.Error(),
		})
	default:
		s.serverError(w, err)
	}
}

type runErrorResponse struct {
	Index int       `json:"index"`
	Time  time.Time `json:"time"`
	Error string    `json:"error"`
}

func ValidateSymbol(symbol string) error {
	if !symbolRe.MatchString(symbol) {
		return fmt.Errorf("invalid symbol %q", symbol)
	}
	return nil
}

// ValidateTimes converts a millisecond range into times. end must not be
// before start.
func ValidateTimes(start, end int64) (time.Time, time.Time, error) {
	if start <= 0 || end <= 0 {
		return time.Time{}, time.Time{}, errors.New("open_time and close_time are required")
	}
	if end < start {
		return time.Time{}, time.Time{}, fmt.Errorf("close_time %d is before open_time %d", end, start)
	}
	return time.UnixMilli(start).UTC(), time.UnixMilli(end).UTC(), nil
}

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	// []byte slices are not converting correctly, so I need to type switch
	switch data := v.(type) {
	case []byte:
		_, err := w.Write(data)
		return err
	default:
		return json.NewEncoder(w).Encode(data)
	}
}
