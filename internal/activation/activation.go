package activation

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/straja-ai/apiguard/internal/audit"
	"github.com/straja-ai/apiguard/internal/inspect"
	"github.com/straja-ai/apiguard/internal/redact"
	"github.com/straja-ai/apiguard/internal/safety"
	"github.com/straja-ai/apiguard/internal/uiplan"
)

// EventVersion is bumped whenever the serialized Event shape changes.
const EventVersion = "1"

// Preview levels control how much request text an event carries.
const (
	LevelNone     = "none"
	LevelMetadata = "metadata"
	LevelFull     = "full"
)

const previewLimit = 500

// Meta identifies where an analysis came from.
type Meta struct {
	ProjectID string `json:"project_id,omitempty"`
	Route     string `json:"route"`
	Client    string `json:"client,omitempty"`
}

// Summary is the headline of an analysis, suitable for dashboards.
type Summary struct {
	Blocked    bool     `json:"blocked"`
	FailClosed bool     `json:"fail_closed"`
	RiskScore  float64  `json:"risk_score"`
	Categories []string `json:"categories,omitempty"`
}

// SignalEntry is one detected signal as carried in an event.
type SignalEntry struct {
	Category string `json:"category"`
	Source   string `json:"source"`
	Evidence string `json:"evidence"`
}

// PolicyMatch names an active policy whose rule matched the verdict.
type PolicyMatch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Preview carries redacted request text according to the preview level.
type Preview struct {
	APISpecName string `json:"api_spec_name,omitempty"`
	UserIntent  string `json:"user_intent,omitempty"`
	APISpec     string `json:"api_spec,omitempty"`
}

type Timing struct {
	Total float64 `json:"total"`
}

// AuditPayload is the raw input the audit sink persists. It is never serialized.
type AuditPayload struct {
	APISpecName string
	APISpec     string
	UserIntent  string
}

// Event is the canonical record of one analysis.
type Event struct {
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	RequestID     string          `json:"request_id"`
	Meta          Meta            `json:"meta"`
	Summary       Summary         `json:"summary"`
	Verdict       safety.Verdict  `json:"verdict"`
	UIContract    uiplan.Contract `json:"ui_contract"`
	Signals       []SignalEntry   `json:"signals,omitempty"`
	PolicyMatches []PolicyMatch   `json:"policy_matches,omitempty"`
	Preview       Preview         `json:"preview"`
	TimingMs      Timing          `json:"timing_ms"`

	Audit *AuditPayload `json:"-"`
}

// BuildParams collects inputs needed to assemble an Event.
type BuildParams struct {
	RequestID     string
	ProjectID     string
	Route         string
	Client        string
	Input         safety.Input
	Outcome       inspect.Outcome
	Signals       safety.SignalSet
	FailClosed    bool
	PolicyMatches []PolicyMatch
	LoggingLevel  string
	Duration      time.Duration
}

// BuildEvent creates an Event from a finished analysis.
func BuildEvent(params BuildParams) *Event {
	name := SpecName(params.Input.APISpec)
	v := params.Outcome.Verdict

	return &Event{
		Version:   EventVersion,
		Timestamp: time.Now().UTC(),
		RequestID: ensureRequestID(params.RequestID),
		Meta: Meta{
			ProjectID: params.ProjectID,
			Route:     params.Route,
			Client:    params.Client,
		},
		Summary: Summary{
			Blocked:    params.Outcome.UIContract.Blocked || v.Threat,
			FailClosed: params.FailClosed,
			RiskScore:  audit.RiskScore(v),
			Categories: categories(params.Signals),
		},
		Verdict:       v,
		UIContract:    params.Outcome.UIContract,
		Signals:       signalEntries(params.Signals, params.LoggingLevel),
		PolicyMatches: clonePolicyMatches(params.PolicyMatches),
		Preview:       buildPreview(params.LoggingLevel, name, params.Input),
		TimingMs:      Timing{Total: durationMillis(params.Duration)},
		Audit: &AuditPayload{
			APISpecName: name,
			APISpec:     params.Input.APISpec,
			UserIntent:  params.Input.UserIntent,
		},
	}
}

// LogEvent writes a redacted JSON representation of the event.
func LogEvent(log *zap.Logger, ev *Event) {
	if log == nil || ev == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn("activation: failed to marshal event", zap.Error(err))
		return
	}
	log.Info("activation", zap.String("event", "activation"), zap.String("payload", redact.String(string(data))))
}

// SpecName derives a short display name from the first non-empty line of a spec.
func SpecName(apiSpec string) string {
	for _, line := range strings.Split(apiSpec, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return truncate(line, 80)
	}
	return "unnamed"
}

func ensureRequestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func categories(s safety.SignalSet) []string {
	var out []string
	if len(s.Threats) > 0 {
		out = append(out, safety.CategoryThreat)
	}
	if len(s.SensitiveFields) > 0 {
		out = append(out, safety.CategorySensitiveField)
	}
	if s.Urgency {
		out = append(out, safety.CategoryUrgency)
	}
	return out
}

func signalEntries(s safety.SignalSet, level string) []SignalEntry {
	if len(s.Signals) == 0 || normalizeLevel(level) == LevelNone {
		return nil
	}
	out := make([]SignalEntry, 0, len(s.Signals))
	for _, sig := range s.Signals {
		out = append(out, SignalEntry{
			Category: sig.Category,
			Source:   sig.Source,
			Evidence: sig.Evidence,
		})
	}
	return out
}

func clonePolicyMatches(in []PolicyMatch) []PolicyMatch {
	if len(in) == 0 {
		return nil
	}
	out := make([]PolicyMatch, len(in))
	copy(out, in)
	return out
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

var (
	emailRegex = regexp.MustCompile(`(?i)[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	tokenRegex = regexp.MustCompile(`[A-Za-z0-9_\-]{20,}`)
)

func buildPreview(level, name string, in safety.Input) Preview {
	switch normalizeLevel(level) {
	case LevelFull:
		return Preview{
			APISpecName: redact.String(name),
			UserIntent:  redact.String(truncate(simpleRedact(in.UserIntent), previewLimit)),
			APISpec:     redact.String(truncate(simpleRedact(in.APISpec), previewLimit)),
		}
	case LevelMetadata:
		return Preview{APISpecName: redact.String(name)}
	default:
		return Preview{}
	}
}

func normalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelNone:
		return LevelNone
	case LevelFull:
		return LevelFull
	default:
		return LevelMetadata
	}
}

func simpleRedact(s string) string {
	s = emailRegex.ReplaceAllString(s, "[REDACTED_EMAIL]")
	s = tokenRegex.ReplaceAllString(s, "[REDACTED_TOKEN]")
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
