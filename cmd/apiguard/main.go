package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/straja-ai/apiguard/internal/activation"
	"github.com/straja-ai/apiguard/internal/audit"
	"github.com/straja-ai/apiguard/internal/auth"
	"github.com/straja-ai/apiguard/internal/config"
	"github.com/straja-ai/apiguard/internal/logging"
	"github.com/straja-ai/apiguard/internal/policy"
	"github.com/straja-ai/apiguard/internal/server"
	"github.com/straja-ai/apiguard/internal/telemetry"
)

var version = "dev"

func main() {
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "apiguard.yaml", "Path to apiguard config file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("failed to load env file: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addrFlag != "" {
		cfg.Server.Addr = *addrFlag
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("apiguard stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  "apiguard",
		Version:  version,
	}, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	recorder, closeStore, err := openRecorder(ctx, cfg.Audit, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sinks, err := buildSinks(cfg.Activation.Sinks, recorder)
	if err != nil {
		return err
	}
	emitter := activation.NewEmitter(activation.EmitterConfig{
		QueueSize:       cfg.Activation.QueueSize,
		Workers:         cfg.Activation.Workers,
		ShutdownTimeout: cfg.Activation.ShutdownTimeout,
	}, sinks, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Activation.ShutdownTimeout+time.Second)
		defer cancel()
		emitter.Close(closeCtx)
	}()

	engine, err := policy.NewEngine(logger)
	if err != nil {
		return fmt.Errorf("policy engine: %w", err)
	}
	cache, closeCache := buildPolicyCache(cfg.Policies, logger)
	defer closeCache()

	var lister policy.Lister
	if recorder.Enabled() {
		lister = recorder
	}

	authz, err := auth.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	srv, err := server.New(cfg, server.Deps{
		Logger:    logger,
		Auth:      authz,
		Emitter:   emitter,
		Policies:  policy.NewSource(lister, cache),
		Engine:    engine,
		Telemetry: tp,
	})
	if err != nil {
		return err
	}

	logger.Info("starting apiguard",
		zap.String("addr", cfg.Server.Addr),
		zap.String("version", version),
		zap.Bool("security", cfg.Security.Enabled),
		zap.Bool("audit", recorder.Enabled()),
		zap.Int("sinks", len(sinks)),
	)
	return srv.Run(ctx)
}

func openRecorder(ctx context.Context, cfg config.AuditConfig, logger *zap.Logger) (*audit.Recorder, func(), error) {
	if !cfg.Enabled() {
		return audit.NewRecorder(nil, logger, cfg.Timeout), func() {}, nil
	}
	store, err := audit.OpenStore(cfg.Driver, cfg.ResolvedDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("audit store: %w", err)
	}
	if cfg.AutoMigrate {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := store.Init(initCtx)
		cancel()
		if err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("audit migrate: %w", err)
		}
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing audit store failed", zap.Error(err))
		}
	}
	return audit.NewRecorder(store, logger, cfg.Timeout), closeFn, nil
}

func buildSinks(cfgs []config.ActivationSinkConfig, recorder *audit.Recorder) ([]activation.Sink, error) {
	specs := make([]activation.SinkSpec, 0, len(cfgs))
	for _, sc := range cfgs {
		specs = append(specs, activation.SinkSpec{
			Type:    sc.Type,
			Path:    sc.Path,
			URL:     sc.URL,
			Headers: sc.Headers,
			Timeout: sc.Timeout,
		})
	}
	return activation.OpenSinks(specs, recorder)
}

func buildPolicyCache(cfg config.PoliciesConfig, logger *zap.Logger) (policy.Cache, func()) {
	if cfg.Redis.Addr == "" {
		return policy.NewMemoryCache(cfg.CacheTTL), func() {}
	}
	rc := policy.NewRedisCache(policy.RedisOptions{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password(),
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
		TTL:       cfg.CacheTTL,
	}, logger)
	return rc, func() { _ = rc.Close() }
}
