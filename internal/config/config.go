package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds apiguard configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Signals    SignalsConfig    `yaml:"signals"`
	Security   SecurityConfig   `yaml:"security"`
	Projects   []ProjectConfig  `yaml:"projects"`
	Audit      AuditConfig      `yaml:"audit"`
	Activation ActivationConfig `yaml:"activation"`
	Policies   PoliciesConfig   `yaml:"policies"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr                string        `yaml:"addr"` // HTTP listen address, e.g. ":8080"
	MaxRequestBodyBytes int64         `yaml:"max_request_body_bytes"`
	MaxInFlightRequests int           `yaml:"max_in_flight_requests"`
	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins  []string      `yaml:"cors_allowed_origins"`
	RateLimitRPS        float64       `yaml:"rate_limit_rps"` // per client; 0 disables
	RateLimitBurst      int           `yaml:"rate_limit_burst"`
	RequestStatusTTL    time.Duration `yaml:"request_status_ttl"`
}

type LoggingConfig struct {
	Level           string `yaml:"level"`            // debug | info | warn | error
	Format          string `yaml:"format"`           // json | console
	ActivationLevel string `yaml:"activation_level"` // none | metadata | full
}

// SignalsConfig replaces the built-in token lists when a list is non-empty.
type SignalsConfig struct {
	SensitiveTokens []string `yaml:"sensitive_tokens"`
	ThreatTokens    []string `yaml:"threat_tokens"`
	UrgencyTokens   []string `yaml:"urgency_tokens"`
}

type SecurityConfig struct {
	Enabled bool `yaml:"enabled"` // require a project API key on /v1 routes
}

type ProjectConfig struct {
	ID      string   `yaml:"id"`
	APIKeys []string `yaml:"api_keys"`
}

type AuditConfig struct {
	Driver      string        `yaml:"driver"` // postgres | sqlite; empty disables auditing
	DSN         string        `yaml:"dsn"`
	DSNEnv      string        `yaml:"dsn_env"`
	Timeout     time.Duration `yaml:"timeout"`
	AutoMigrate bool          `yaml:"auto_migrate"`
}

// ResolvedDSN returns the DSN, preferring the environment variable when set.
func (a AuditConfig) ResolvedDSN() string {
	if name := strings.TrimSpace(a.DSNEnv); name != "" {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(a.DSN)
}

// Enabled reports whether an audit store is configured.
func (a AuditConfig) Enabled() bool {
	return strings.TrimSpace(a.Driver) != ""
}

type ActivationConfig struct {
	QueueSize       int                    `yaml:"queue_size"`
	Workers         int                    `yaml:"workers"`
	ShutdownTimeout time.Duration          `yaml:"shutdown_timeout"`
	Sinks           []ActivationSinkConfig `yaml:"sinks"`
}

type ActivationSinkConfig struct {
	Type    string            `yaml:"type"` // file_jsonl | webhook | audit
	Path    string            `yaml:"path"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

type PoliciesConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Redis    RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr        string `yaml:"addr"` // empty keeps the cache in memory
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	KeyPrefix   string `yaml:"key_prefix"`
}

// Password reads the redis password from the configured environment variable.
func (r RedisConfig) Password() string {
	if name := strings.TrimSpace(r.PasswordEnv); name != "" {
		return os.Getenv(name)
	}
	return ""
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc | http
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxRequestBodyBytes <= 0 {
		cfg.Server.MaxRequestBodyBytes = 1 << 20
	}
	if cfg.Server.MaxInFlightRequests <= 0 {
		cfg.Server.MaxInFlightRequests = 200
	}
	if cfg.Server.ReadHeaderTimeout <= 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if len(cfg.Server.CORSAllowedOrigins) == 0 {
		cfg.Server.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Server.RateLimitRPS > 0 && cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = int(cfg.Server.RateLimitRPS) + 1
	}
	if cfg.Server.RequestStatusTTL <= 0 {
		cfg.Server.RequestStatusTTL = 30 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.ActivationLevel == "" {
		cfg.Logging.ActivationLevel = "metadata"
	}

	if cfg.Audit.Timeout <= 0 {
		cfg.Audit.Timeout = 3 * time.Second
	}

	if cfg.Activation.QueueSize <= 0 {
		cfg.Activation.QueueSize = 1000
	}
	if cfg.Activation.Workers <= 0 {
		cfg.Activation.Workers = 1
	}
	if cfg.Activation.ShutdownTimeout <= 0 {
		cfg.Activation.ShutdownTimeout = 2 * time.Second
	}

	if cfg.Policies.CacheTTL <= 0 {
		cfg.Policies.CacheTTL = 30 * time.Second
	}
	if cfg.Policies.Redis.KeyPrefix == "" {
		cfg.Policies.Redis.KeyPrefix = "apiguard:"
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
}

// applyEnv lets deployment environments override a few settings without
// editing the YAML file.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("APIGUARD_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("APIGUARD_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}
