package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/straja-ai/apiguard/internal/activation"
	"github.com/straja-ai/apiguard/internal/auth"
	"github.com/straja-ai/apiguard/internal/config"
	"github.com/straja-ai/apiguard/internal/console"
	"github.com/straja-ai/apiguard/internal/inspect"
	"github.com/straja-ai/apiguard/internal/policy"
	"github.com/straja-ai/apiguard/internal/safety"
	"github.com/straja-ai/apiguard/internal/telemetry"
)

// Deps are the collaborators a Server runs with. Zero values are replaced
// with inert defaults so tests can pass only what they exercise.
type Deps struct {
	Logger    *zap.Logger
	Auth      *auth.Auth
	Pipeline  *inspect.Pipeline
	Emitter   *activation.Emitter
	Policies  *policy.Source
	Engine    *policy.Engine
	Telemetry *telemetry.Provider
}

// Server wraps the HTTP server components for apiguard.
type Server struct {
	router       *mux.Router
	handler      http.Handler
	cfg          *config.Config
	log          *zap.Logger
	auth         *auth.Auth
	pipeline     *inspect.Pipeline
	emitter      *activation.Emitter
	policies     *policy.Source
	engine       *policy.Engine
	telemetry    *telemetry.Provider
	schemas      *schemas
	limiter      *clientRateLimiter
	inflight     chan struct{}
	requestStore *requestStore
	loggingLevel string

	background sync.WaitGroup
}

// New creates a new apiguard server with all routes registered.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: nil config")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tp := deps.Telemetry
	if tp == nil {
		tp = telemetry.Noop()
	}
	pipeline := deps.Pipeline
	if pipeline == nil {
		vocab := safety.NewVocabulary(cfg.Signals.SensitiveTokens, cfg.Signals.ThreatTokens, cfg.Signals.UrgencyTokens)
		pipeline = inspect.New(safety.NewExtractor(vocab), inspect.WithTracer(tp.Tracer()))
	}
	sc, err := compileSchemas()
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	maxInFlight := cfg.Server.MaxInFlightRequests
	if maxInFlight <= 0 {
		maxInFlight = 200
	}

	s := &Server{
		router:       mux.NewRouter(),
		cfg:          cfg,
		log:          log.Named("server"),
		auth:         deps.Auth,
		pipeline:     pipeline,
		emitter:      deps.Emitter,
		policies:     deps.Policies,
		engine:       deps.Engine,
		telemetry:    tp,
		schemas:      sc,
		limiter:      newClientRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		inflight:     make(chan struct{}, maxInFlight),
		requestStore: newRequestStore(cfg.Server.RequestStatusTTL),
		loggingLevel: cfg.Logging.ActivationLevel,
	}
	s.routes()
	s.handler = s.chain(s.router, s.withRequestID, s.withRequestLogging, s.withRecovery, s.withCORS, s.withSuspiciousClient)
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.PathPrefix("/console").Handler(console.Handler()).Methods(http.MethodGet)

	r.Handle("/v1/analyze", s.guarded(s.handleAnalyze)).Methods(http.MethodPost)
	r.Handle("/analyze", s.guarded(s.handleAnalyze)).Methods(http.MethodPost)
	r.Handle("/v1/ui-plan", s.guarded(s.handleUIPlan)).Methods(http.MethodPost)
	r.Handle("/v1/policies", s.guarded(s.handleListPolicies)).Methods(http.MethodGet)
	r.Handle("/v1/policies/evaluate", s.guarded(s.handleEvaluatePolicies)).Methods(http.MethodPost)
	r.Handle("/v1/requests/{id}", s.guarded(s.handleRequestStatus)).Methods(http.MethodGet)
}

// guarded wraps an API handler with admission control and auth.
func (s *Server) guarded(h http.HandlerFunc) http.Handler {
	return s.chain(h, s.withConcurrencyLimit, s.withRateLimit, s.withAuth, s.withBodyLimit)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on cfg.Server.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("apiguard listening", zap.String("addr", s.cfg.Server.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("apiguard shutting down")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := s.Wait(shutdownCtx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.emitter.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"inflight": len(s.inflight),
		"capacity": cap(s.inflight),
		"activation": map[string]uint64{
			"enqueued": stats.Enqueued,
			"dropped":  stats.Dropped,
		},
	})
}
