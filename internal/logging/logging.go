// Package logging builds the service logger and the structured event
// helpers used by the HTTP layer and the fail-closed boundary.
package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/straja-ai/apiguard/internal/config"
	"github.com/straja-ai/apiguard/internal/redact"
)

// Event names written in the "event" field.
const (
	EventError      = "error"
	EventRequest    = "request"
	EventSuspicious = "suspicious_request"
)

// New builds a zap logger from the logging section of the config.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("apiguard"), nil
}

// Failure logs a caught failure. It never panics.
func Failure(log *zap.Logger, path string, err error, trace string) {
	defer swallow()
	if log == nil {
		return
	}
	msg := "<nil>"
	if err != nil {
		msg = err.Error()
	}
	log.Error("unhandled failure",
		zap.String("event", EventError),
		zap.String("path", redact.String(path)),
		zap.String("error", redact.String(msg)),
		zap.String("trace", trace),
	)
}

// RequestCompleted logs one finished HTTP request.
func RequestCompleted(log *zap.Logger, path, method string, status int, duration time.Duration, client string) {
	defer swallow()
	if log == nil {
		return
	}
	log.Info("request completed",
		zap.String("event", EventRequest),
		zap.String("path", redact.String(path)),
		zap.String("method", method),
		zap.Int("status", status),
		zap.Float64("duration_ms", float64(duration.Microseconds())/1000),
		zap.String("client", client),
	)
}

// Suspicious logs a request from a client that looks scripted.
func Suspicious(log *zap.Logger, path, method, userAgent, client string) {
	defer swallow()
	if log == nil {
		return
	}
	log.Warn("suspicious request",
		zap.String("event", EventSuspicious),
		zap.String("path", redact.String(path)),
		zap.String("method", method),
		zap.String("user_agent", redact.String(userAgent)),
		zap.String("client", client),
	)
}

func swallow() {
	_ = recover()
}
