package telemetry

import (
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/straja-ai/apiguard/internal/redact"
)

const (
	maxAttrValueLen = 256
	maxAttrSliceLen = 16
)

// Attribute keys containing any of these fragments never leave the process.
// Request text and credentials belong in the audit trail, not in traces.
var deniedKeyFragments = []string{
	"api_spec",
	"user_intent",
	"payload",
	"constructed_input",
	"prompt",
	"content",
	"authorization",
	"api_key",
	"token",
	"password",
	"secret",
	"cvv",
	"card",
	"ssn",
	"email",
}

// SafeAttributes converts values to OTEL attributes, dropping denied keys,
// oversized strings and unsupported types. Output is sorted by key.
func SafeAttributes(values map[string]any) []attribute.KeyValue {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if !deniedKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch val := values[k].(type) {
		case string:
			if len(val) > maxAttrValueLen {
				continue
			}
			attrs = append(attrs, attribute.String(k, redact.String(val)))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case []string:
			if len(val) > maxAttrSliceLen {
				val = val[:maxAttrSliceLen]
			}
			attrs = append(attrs, attribute.StringSlice(k, val))
		}
	}
	return attrs
}

func deniedKey(k string) bool {
	lk := strings.ToLower(k)
	for _, frag := range deniedKeyFragments {
		if strings.Contains(lk, frag) {
			return true
		}
	}
	return false
}
