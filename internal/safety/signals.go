package safety

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Signal categories.
const (
	CategorySensitiveField = "sensitive_field"
	CategoryThreat         = "threat"
	CategoryUrgency        = "urgency"
)

// Signal sources.
const (
	SourceAPISpec          = "api_spec"
	SourceConstructedInput = "constructed_input"
	SourceUserIntent       = "user_intent"
)

// Input is one inbound API-automation request.
type Input struct {
	APISpec          string           `json:"api_spec"`
	UserIntent       string           `json:"user_intent"`
	ExamplePayloads  []map[string]any `json:"example_payloads"`
	ConstructedInput map[string]any   `json:"constructed_input"`

	// ConstructedKeys holds the top-level keys of ConstructedInput in the
	// order they appeared in the request body. It is filled by UnmarshalJSON.
	ConstructedKeys []string `json:"-"`
}

// UnmarshalJSON decodes in and records the document order of the
// constructed input's keys.
func (in *Input) UnmarshalJSON(data []byte) error {
	type plain Input
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw struct {
		ConstructedInput json.RawMessage `json:"constructed_input"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	keys, err := objectKeys(raw.ConstructedInput)
	if err != nil {
		return fmt.Errorf("constructed_input: %w", err)
	}
	*in = Input(p)
	in.ConstructedKeys = keys
	return nil
}

// ConstructedKeyOrder returns the keys of ConstructedInput in document order.
// Keys with no recorded position follow in sorted order.
func (in Input) ConstructedKeyOrder() []string {
	if len(in.ConstructedInput) == 0 {
		return nil
	}
	keys := make([]string, 0, len(in.ConstructedInput))
	placed := make(map[string]struct{}, len(in.ConstructedInput))
	for _, k := range in.ConstructedKeys {
		if _, ok := in.ConstructedInput[k]; !ok {
			continue
		}
		if _, dup := placed[k]; dup {
			continue
		}
		placed[k] = struct{}{}
		keys = append(keys, k)
	}
	var rest []string
	for k := range in.ConstructedInput {
		if _, ok := placed[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// objectKeys lists the top-level keys of a JSON object, first occurrence
// wins. Anything other than an object yields no keys.
func objectKeys(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var (
		keys []string
		seen = make(map[string]struct{})
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

// DetectionSignal records a single token match and where it was found.
type DetectionSignal struct {
	Category string `json:"category"`
	Source   string `json:"source"`
	Evidence string `json:"evidence"`
}

// SignalSet is the combined output of the three detectors.
type SignalSet struct {
	SensitiveFields []string `json:"sensitive_fields"`
	Threats         []string `json:"threats"`
	Urgency         bool     `json:"urgency"`

	// Signals lists every match in detection order.
	Signals []DetectionSignal `json:"signals"`
}

// Extractor scans request text for sensitive-field, threat and urgency tokens.
// It holds no mutable state and is safe for concurrent use.
type Extractor struct {
	vocab Vocabulary
}

// NewExtractor returns an extractor bound to vocab.
func NewExtractor(vocab Vocabulary) *Extractor {
	return &Extractor{vocab: vocab}
}

// Vocabulary returns the extractor's token lists.
func (e *Extractor) Vocabulary() Vocabulary { return e.vocab }

// Extract runs all three detectors over in.
func (e *Extractor) Extract(in Input) SignalSet {
	var set SignalSet

	sensitive, sensitiveSignals := e.detectSensitive(in.APISpec, in.ConstructedKeyOrder())
	set.SensitiveFields = sensitive
	set.Signals = append(set.Signals, sensitiveSignals...)

	set.Threats = e.DetectThreats(in.UserIntent, in.APISpec)
	for _, t := range set.Threats {
		set.Signals = append(set.Signals, DetectionSignal{Category: CategoryThreat, Source: threatSource(t, in.UserIntent, in.APISpec), Evidence: t})
	}

	if tok, ok := e.firstUrgency(in.UserIntent); ok {
		set.Urgency = true
		set.Signals = append(set.Signals, DetectionSignal{Category: CategoryUrgency, Source: SourceUserIntent, Evidence: tok})
	}
	return set
}

// DetectSensitiveFields returns the sensitive tokens found in the API spec
// text or in any key of the constructed input. Spec matches come first, then
// key matches; a token found in both appears once. A map carries no key
// order, so keys are visited sorted; Extract uses document order instead.
func (e *Extractor) DetectSensitiveFields(apiSpec string, constructedInput map[string]any) []string {
	found, _ := e.detectSensitive(apiSpec, Input{ConstructedInput: constructedInput}.ConstructedKeyOrder())
	return found
}

func (e *Extractor) detectSensitive(apiSpec string, keys []string) ([]string, []DetectionSignal) {
	var (
		found   []string
		signals []DetectionSignal
		seen    = make(map[string]struct{}, len(e.vocab.sensitive))
	)
	add := func(tok, source string) {
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		found = append(found, tok)
		signals = append(signals, DetectionSignal{Category: CategorySensitiveField, Source: source, Evidence: tok})
	}

	spec := strings.ToLower(apiSpec)
	for _, tok := range e.vocab.sensitive {
		if strings.Contains(spec, tok) {
			add(tok, SourceAPISpec)
		}
	}

	for _, k := range keys {
		lk := strings.ToLower(k)
		for _, tok := range e.vocab.sensitive {
			if strings.Contains(lk, tok) {
				add(tok, SourceConstructedInput)
			}
		}
	}
	return found, signals
}

// DetectThreats returns the threat tokens, in vocabulary order, found in the
// user intent and API spec joined by a single space.
func (e *Extractor) DetectThreats(userIntent, apiSpec string) []string {
	combined := strings.ToLower(userIntent + " " + apiSpec)
	var found []string
	for _, tok := range e.vocab.threat {
		if strings.Contains(combined, tok) {
			found = append(found, tok)
		}
	}
	return found
}

// DetectUrgency reports whether the user intent carries any urgency token.
func (e *Extractor) DetectUrgency(userIntent string) bool {
	_, ok := e.firstUrgency(userIntent)
	return ok
}

func (e *Extractor) firstUrgency(userIntent string) (string, bool) {
	intent := strings.ToLower(userIntent)
	for _, tok := range e.vocab.urgency {
		if strings.Contains(intent, tok) {
			return tok, true
		}
	}
	return "", false
}

// threatSource attributes a threat token to the spec only when the spec alone
// contains it. Override tokens containing a space may straddle the join;
// those count as intent.
func threatSource(tok, userIntent, apiSpec string) string {
	if !strings.Contains(strings.ToLower(userIntent), tok) && strings.Contains(strings.ToLower(apiSpec), tok) {
		return SourceAPISpec
	}
	return SourceUserIntent
}
