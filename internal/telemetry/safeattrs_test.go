package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeAttributesDropsRequestTextAndSecrets(t *testing.T) {
	attrs := SafeAttributes(map[string]any{
		"apiguard.api_spec":    "POST /charge {cvv}",
		"apiguard.user_intent": "charge now",
		"constructed_input":    "{}",
		"authorization":        "Bearer abc",
		"api_key":              "sk-123",
		"apiguard.route":       "/v1/analyze",
		"long_string":          strings.Repeat("x", 600),
	})

	require.Len(t, attrs, 1)
	assert.Equal(t, "apiguard.route", string(attrs[0].Key))
}

func TestSafeAttributesKeepsScalarsSorted(t *testing.T) {
	attrs := SafeAttributes(map[string]any{
		"apiguard.threat":      true,
		"apiguard.route":       "/v1/analyze",
		"apiguard.matches":     3,
		"apiguard.risk":        0.6,
		"apiguard.categories":  []string{"threat"},
		"apiguard.user_email":  "a@b.c",
		"apiguard.unsupported": struct{}{},
	})

	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		keys = append(keys, string(a.Key))
	}
	assert.Equal(t, []string{"apiguard.categories", "apiguard.matches", "apiguard.risk", "apiguard.route", "apiguard.threat"}, keys)
}

func TestSafeAttributesRedactsStringValues(t *testing.T) {
	attrs := SafeAttributes(map[string]any{"apiguard.client": "Bearer abcdefghijklmnop"})
	require.Len(t, attrs, 1)
	assert.NotContains(t, attrs[0].Value.AsString(), "abcdefghijklmnop")
}

func TestSafeAttributesEmpty(t *testing.T) {
	assert.Nil(t, SafeAttributes(nil))
}

func TestNoopProviderRecordsWithoutPanicking(t *testing.T) {
	p := Noop()
	p.RecordAnalysis(context.Background(), AnalysisMetrics{Route: "/v1/analyze", FailClosed: true, PolicyMatches: 2, DurationMs: 1.2})
	if p.Tracer() == nil || p.Meter() == nil {
		t.Fatalf("noop provider must expose tracer and meter")
	}
	var nilProvider *Provider
	nilProvider.RecordAnalysis(context.Background(), AnalysisMetrics{})
	if err := nilProvider.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown: %v", err)
	}
}
