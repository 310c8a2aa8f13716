package safety

import "strings"

// Default token lists. They are copied into a Vocabulary at startup and never
// touched again.
var (
	defaultSensitiveTokens = []string{
		"card_number", "cvv", "ssn", "password", "secret", "api_key",
		"credit_card", "social_security", "bank_account", "pin", "token",
	}
	defaultThreatTokens = []string{
		"exploit", "attack", "breach", "hack", "injection", "bypass",
		"unauthorized", "vulnerability", "malicious", "compromise",
	}
	defaultUrgencyTokens = []string{
		"urgent", "immediate", "asap", "emergency", "critical", "now",
	}
)

// Vocabulary holds the lower-cased token lists the extractor matches against.
// The zero value matches nothing.
type Vocabulary struct {
	sensitive []string
	threat    []string
	urgency   []string
}

// DefaultVocabulary returns the built-in token lists.
func DefaultVocabulary() Vocabulary {
	return NewVocabulary(nil, nil, nil)
}

// NewVocabulary builds a vocabulary from optional overrides. A nil or empty
// list keeps the built-in tokens for that class.
func NewVocabulary(sensitive, threat, urgency []string) Vocabulary {
	pick := func(override, def []string) []string {
		if out := normalizeTokens(override); len(out) > 0 {
			return out
		}
		return normalizeTokens(def)
	}
	return Vocabulary{
		sensitive: pick(sensitive, defaultSensitiveTokens),
		threat:    pick(threat, defaultThreatTokens),
		urgency:   pick(urgency, defaultUrgencyTokens),
	}
}

// SensitiveTokens returns a copy of the sensitive-field tokens.
func (v Vocabulary) SensitiveTokens() []string { return append([]string(nil), v.sensitive...) }

// ThreatTokens returns a copy of the threat tokens.
func (v Vocabulary) ThreatTokens() []string { return append([]string(nil), v.threat...) }

// UrgencyTokens returns a copy of the urgency tokens.
func (v Vocabulary) UrgencyTokens() []string { return append([]string(nil), v.urgency...) }

// normalizeTokens trims, lower-cases and de-duplicates, keeping first-seen order.
func normalizeTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		lt := strings.ToLower(strings.TrimSpace(t))
		if lt == "" {
			continue
		}
		if _, ok := seen[lt]; ok {
			continue
		}
		seen[lt] = struct{}{}
		out = append(out, lt)
	}
	return out
}
