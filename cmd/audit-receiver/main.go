package main

import (
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/straja-ai/apiguard/internal/activation"
)

func main() {
	addr := flag.String("addr", ":8099", "listen address for audit receiver")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	mux := http.NewServeMux()
	mux.HandleFunc("/audit", handleEvent(logger))
	mux.HandleFunc("/", handleEvent(logger))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("audit receiver listening (POST JSON to /audit)", zap.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("receiver error", zap.Error(err))
	}
}

func handleEvent(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		_ = r.Body.Close()

		var ev activation.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			logger.Warn("received malformed audit event", zap.String("path", r.URL.Path), zap.Int("len", len(body)), zap.Error(err))
			http.Error(w, `{"status":"invalid"}`, http.StatusBadRequest)
			return
		}

		logger.Info("received audit event",
			zap.String("request_id", ev.RequestID),
			zap.String("header_request_id", r.Header.Get("X-Request-Id")),
			zap.String("project_id", ev.Meta.ProjectID),
			zap.String("route", ev.Meta.Route),
			zap.Bool("blocked", ev.Summary.Blocked),
			zap.Bool("fail_closed", ev.Summary.FailClosed),
			zap.Float64("risk_score", ev.Summary.RiskScore),
			zap.Strings("categories", ev.Summary.Categories),
			zap.Int("policy_matches", len(ev.PolicyMatches)),
		)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"status":"ok"}`+"\n")
	}
}
