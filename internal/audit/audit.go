// Package audit persists analysed API specs, verdicts and the active policy
// set. Every caller-facing operation is best-effort: failures are logged and
// resolve to an empty result so they can never change a safety outcome.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/straja-ai/apiguard/internal/safety"
	"github.com/straja-ai/apiguard/internal/uiplan"
)

// ErrNoStore is returned by OpenStore when no driver is configured.
var ErrNoStore = errors.New("audit store not configured")

// Policy is an operator-maintained rule evaluated against verdicts.
// Rule is a CEL expression over `verdict` and `risk_score`.
type Policy struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Rule        string `json:"rule,omitempty"`
	Active      bool   `json:"active"`
}

// VerdictRecord is one analysis outcome as it is stored.
type VerdictRecord struct {
	APISpecID  string // empty stores NULL
	UserIntent string
	Verdict    safety.Verdict
	UIContract uiplan.Contract
	RiskScore  float64
	CreatedAt  time.Time
}

// Store is the persistence surface used by the Recorder.
type Store interface {
	InsertAPISpec(ctx context.Context, name, specText string) (string, error)
	InsertVerdict(ctx context.Context, rec VerdictRecord) (string, error)
	ActivePolicies(ctx context.Context) ([]Policy, error)
}

// RiskScore weights the verdict flags into a number in [0, 1].
func RiskScore(v safety.Verdict) float64 {
	var score float64
	if v.Threat {
		score += 0.6
	}
	if v.SensitiveRequest {
		score += 0.3
	}
	if v.Urgency {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}
