package safety

import "strings"

// ConservativeExplanation is the explanation carried by the fail-closed verdict.
const ConservativeExplanation = "internal error — conservative block applied"

const noConcernsExplanation = "No safety concerns detected"

// Verdict is the outcome of safety analysis for one request.
type Verdict struct {
	Urgency          bool   `json:"urgency"`
	Threat           bool   `json:"threat"`
	SensitiveRequest bool   `json:"sensitive_request"`
	Explanation      string `json:"explanation"`
}

// Compose aggregates a signal set into a verdict. The explanation clauses
// appear in a fixed order and audit consumers display them verbatim.
func Compose(set SignalSet) Verdict {
	var clauses []string
	if len(set.SensitiveFields) > 0 {
		clauses = append(clauses, "Sensitive fields detected: "+strings.Join(set.SensitiveFields, ", "))
	}
	if len(set.Threats) > 0 {
		clauses = append(clauses, "Threat signals: "+strings.Join(set.Threats, ", "))
	}
	if set.Urgency {
		clauses = append(clauses, "Urgency detected in request")
	}
	if len(clauses) == 0 {
		clauses = append(clauses, noConcernsExplanation)
	}

	return Verdict{
		Urgency:          set.Urgency,
		Threat:           len(set.Threats) > 0,
		SensitiveRequest: len(set.SensitiveFields) > 0,
		Explanation:      strings.Join(clauses, ". "),
	}
}

// ConservativeVerdict returns the fixed verdict substituted on internal failure.
func ConservativeVerdict() Verdict {
	return Verdict{
		Urgency:          true,
		Threat:           false,
		SensitiveRequest: true,
		Explanation:      ConservativeExplanation,
	}
}

// Clean reports whether no signal fired.
func (v Verdict) Clean() bool {
	return !v.Urgency && !v.Threat && !v.SensitiveRequest
}
