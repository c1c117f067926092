package routing

import "squadbot/pkg/envelope"

// Path says how a decision reached (or will reach) its handler.
type Path string

const (
	PathDirect      Path = "direct"
	PathNeedsIntent Path = "needs_intent"
)

// Decision is the outcome of classification or intent resolution.
//
// A decision with a non-empty Rejection carries no handler and must not be
// dispatched.
type Decision struct {
	Path       Path           `json:"path"`
	HandlerID  string         `json:"handler_id,omitempty"`
	RuleID     string         `json:"matched_rule_id,omitempty"`
	Command    string         `json:"command,omitempty"`
	Args       string         `json:"args,omitempty"`
	Intent     string         `json:"intent,omitempty"`
	Entities   map[string]any `json:"entities,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Rejection  envelope.Code  `json:"rejection,omitempty"`
}

// Rejected reports whether the decision ends the request without dispatch.
func (d Decision) Rejected() bool {
	return d.Rejection != ""
}

// Dispatchable reports whether the decision names a handler to invoke.
func (d Decision) Dispatchable() bool {
	return !d.Rejected() && d.HandlerID != ""
}

// Err returns the categorized error for a rejected decision, or nil.
func (d Decision) Err() error {
	if !d.Rejected() {
		return nil
	}

	detail := "rejected"
	switch {
	case d.RuleID != "":
		detail = "rule " + d.RuleID
	case d.Intent != "":
		detail = "intent " + d.Intent
	}

	return envelope.NewError(d.Rejection, detail)
}

// Reject builds a rejected intent-path decision.
func Reject(code envelope.Code) Decision {
	return Decision{Path: PathNeedsIntent, Rejection: code}
}
