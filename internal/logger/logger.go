package logger

import (
	"log"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Debug *log.Logger
	Info  *log.Logger
	Warn  *log.Logger
	Error *log.Logger

	base = zap.NewNop()
)

func init() {
	// Usable before Init, tests never call it.
	Debug = log.New(os.Stderr, "DEBUG\t", log.Ldate|log.Ltime|log.Lshortfile)
	Info = log.New(os.Stdout, "INFO\t", log.Ldate|log.Ltime)
	Warn = log.New(os.Stdout, "WARN\t", log.Ldate|log.Ltime)
	Error = log.New(os.Stderr, "ERROR\t", log.Ldate|log.Ltime|log.Lshortfile)
}

// Init replaces the package loggers with zap-backed ones writing JSON at the
// given level ("debug", "info", "warn", "error").
func Init(level string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	base = l

	loggers := []struct {
		dst   **log.Logger
		level zapcore.Level
	}{
		{&Debug, zapcore.DebugLevel},
		{&Info, zapcore.InfoLevel},
		{&Warn, zapcore.WarnLevel},
		{&Error, zapcore.ErrorLevel},
	}
	for _, lg := range loggers {
		std, err := zap.NewStdLogAt(l, lg.level)
		if err != nil {
			return err
		}
		*lg.dst = std
	}

	return nil
}

// Zap returns the structured logger behind the package loggers.
func Zap() *zap.Logger {
	return base
}

func Sync() {
	_ = base.Sync()
}
