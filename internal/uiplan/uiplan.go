// Package uiplan derives the UI capability contract a front-end must obey
// from a safety verdict.
package uiplan

import (
	"slices"

	"github.com/straja-ai/apiguard/internal/safety"
)

// Component names a UI component the front-end may render.
type Component string

const (
	EndpointList    Component = "EndpointList"
	RequestBuilder  Component = "RequestBuilder"
	ResponseViewer  Component = "ResponseViewer"
	SafetyInspector Component = "SafetyInspector"
)

// Restrictions are the interaction flags attached to a contract.
type Restrictions struct {
	ExecuteRequests     bool     `json:"execute_requests"`
	EditPayloads        bool     `json:"edit_payloads"`
	ShowSensitiveFields bool     `json:"show_sensitive_fields"`
	EditableFields      []string `json:"editable_fields"`
}

// Contract is the UI capability contract. Blocked is only set on the
// fail-closed contract.
type Contract struct {
	Components   []Component  `json:"components"`
	Restrictions Restrictions `json:"restrictions"`
	Blocked      bool         `json:"blocked,omitempty"`
}

// Has reports whether c lists comp.
func (c Contract) Has(comp Component) bool {
	return slices.Contains(c.Components, comp)
}

// Baseline returns the permissive contract used when no signal fired.
func Baseline() Contract {
	return Contract{
		Components: []Component{EndpointList, RequestBuilder, ResponseViewer},
		Restrictions: Restrictions{
			ExecuteRequests:     true,
			EditPayloads:        true,
			ShowSensitiveFields: true,
			EditableFields:      []string{},
		},
	}
}

// Conservative returns the fixed contract substituted on internal failure.
func Conservative() Contract {
	return Contract{
		Components:   []Component{SafetyInspector},
		Restrictions: lockedDown(),
		Blocked:      true,
	}
}

// Derive maps a verdict to its contract. Precedence is threat, then
// sensitive, then urgency; a threat short-circuits everything else.
func Derive(v safety.Verdict) Contract {
	if v.Threat {
		return Contract{
			Components:   []Component{EndpointList, SafetyInspector},
			Restrictions: lockedDown(),
		}
	}

	c := Baseline()
	if v.SensitiveRequest {
		c.Restrictions.ExecuteRequests = false
		c.Restrictions.ShowSensitiveFields = false
		c.add(SafetyInspector)
	}
	if v.Urgency {
		c.add(SafetyInspector)
	}
	return c
}

func (c *Contract) add(comp Component) {
	if !c.Has(comp) {
		c.Components = append(c.Components, comp)
	}
}

func lockedDown() Restrictions {
	return Restrictions{EditableFields: []string{}}
}
