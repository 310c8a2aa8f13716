package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ValidationError lists every problem found in a config, keyed by the
// YAML path of the offending field.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

type checker struct {
	problems []string
}

func (c *checker) failf(field, format string, args ...any) {
	c.problems = append(c.problems, field+": "+fmt.Sprintf(format, args...))
}

func (c *checker) oneOf(field, got string, allowed ...string) {
	v := strings.ToLower(strings.TrimSpace(got))
	if v == "" {
		return
	}
	for _, a := range allowed {
		if v == a {
			return
		}
	}
	c.failf(field, "must be one of %s, got %q", strings.Join(allowed, ", "), got)
}

// Validate reports all configuration problems at once. It returns nil or a
// *ValidationError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	c := &checker{}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		c.failf("server.addr", "must be set")
	}
	if cfg.Server.RateLimitRPS < 0 {
		c.failf("server.rate_limit_rps", "must not be negative")
	}

	c.oneOf("logging.level", cfg.Logging.Level, "debug", "info", "warn", "error")
	c.oneOf("logging.format", cfg.Logging.Format, "json", "console")
	c.oneOf("logging.activation_level", cfg.Logging.ActivationLevel, "none", "metadata", "full")

	checkProjects(c, cfg)
	checkAudit(c, cfg.Audit)
	checkSinks(c, cfg.Activation.Sinks, cfg.Audit.Enabled())

	if cfg.Telemetry.Enabled && strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		c.failf("telemetry.endpoint", "must be set when telemetry is enabled")
	}
	c.oneOf("telemetry.protocol", cfg.Telemetry.Protocol, "grpc", "http")

	if len(c.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: c.problems}
}

func checkProjects(c *checker, cfg *Config) {
	if cfg.Security.Enabled && len(cfg.Projects) == 0 {
		c.failf("projects", "security.enabled requires at least one project")
	}
	owners := make(map[string]string)
	for i, p := range cfg.Projects {
		field := fmt.Sprintf("projects[%d]", i)
		id := strings.TrimSpace(p.ID)
		if id == "" {
			c.failf(field+".id", "project id must be set")
			continue
		}
		if cfg.Security.Enabled && len(p.APIKeys) == 0 {
			c.failf(field+".api_keys", "project %q needs at least one key", id)
		}
		for _, k := range p.APIKeys {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			if owner, ok := owners[k]; ok && owner != id {
				c.failf(field+".api_keys", "a key is assigned to projects %q and %q", owner, id)
			}
			owners[k] = id
		}
	}
}

func checkAudit(c *checker, a AuditConfig) {
	if !a.Enabled() {
		return
	}
	c.oneOf("audit.driver", a.Driver, "postgres", "sqlite")
	if a.ResolvedDSN() == "" {
		c.failf("audit.dsn", "must be set (directly or through audit.dsn_env)")
	}
}

func checkSinks(c *checker, sinks []ActivationSinkConfig, auditEnabled bool) {
	for i, s := range sinks {
		field := fmt.Sprintf("activation.sinks[%d]", i)
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				c.failf(field+".path", "required for file_jsonl")
			}
		case "webhook":
			u, err := url.Parse(strings.TrimSpace(s.URL))
			if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
				c.failf(field+".url", "webhook needs an http or https url")
			}
		case "audit":
			if !auditEnabled {
				c.failf(field, "audit sink requires audit.driver")
			}
		default:
			c.failf(field+".type", "unknown type %q", s.Type)
		}
	}
}
