// internal/rules/rule.go
package rules

import (
	"context"

	"github.com/fawad-mazhar/cmdhub/internal/models"
)

// Severity ranks how serious an alert is
type Severity string

const (
	SeverityLow         Severity = "LOW"
	SeverityMedium      Severity = "MEDIUM"
	SeverityHigh        Severity = "HIGH"
	SeverityCritical    Severity = "CRITICAL"
	SeverityExistential Severity = "EXISTENTIAL"
)

// Priority maps a severity onto the event priority scale
func (s Severity) Priority() models.Priority {
	switch s {
	case SeverityLow:
		return models.PriorityLow
	case SeverityMedium:
		return models.PriorityMedium
	case SeverityHigh:
		return models.PriorityHigh
	default:
		return models.PriorityCritical
	}
}

// EscalationMode decides whether an escalation handler replaces or follows the base actions
type EscalationMode int

const (
	// EscalateInAddition runs the base actions and then the escalation handler
	EscalateInAddition EscalationMode = iota
	// EscalateInstead runs only the escalation handler
	EscalateInstead
)

func (m EscalationMode) String() string {
	if m == EscalateInstead {
		return "instead"
	}
	return "in-addition"
}

// Action is one named step executed when a rule fires. Actions must be idempotent:
// the same condition commonly holds on consecutive updates.
type Action struct {
	Name string
	Run  func(ctx context.Context, status models.SystemStatus) error
}

// Condition must be a pure function of the status it receives
type Condition func(status models.SystemStatus) bool

// Rule is an alert definition. Rules are immutable once registered.
type Rule struct {
	ID        string
	Name      string
	Severity  Severity
	Condition Condition
	Actions   []Action

	UseDecisionSupport bool
	UseBoundedPool     bool
	AutoResolve        bool

	// EscalationPath lists escalation handler names. Escalation starts once the rule
	// has fired more than EscalateAfter consecutive times for the same system; an
	// EscalateAfter of 0 or 1 disables escalation.
	EscalationPath []string
	EscalateAfter  int
	EscalationMode EscalationMode

	// OnResolve runs when an AutoResolve rule's condition clears after firing
	OnResolve func(ctx context.Context, status models.SystemStatus)
}

func (r *Rule) escalates() bool {
	return len(r.EscalationPath) > 0 && r.EscalateAfter > 1
}

// escalationStep returns the handler to run on the given consecutive firing, if any
func (r *Rule) escalationStep(consecutive int) (string, bool) {
	if !r.escalates() || consecutive <= r.EscalateAfter {
		return "", false
	}
	idx := min(consecutive-r.EscalateAfter-1, len(r.EscalationPath)-1)
	return r.EscalationPath[idx], true
}
