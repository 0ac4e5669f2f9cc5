// internal/models/event.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Priority ranks events, modules and commands
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Event types emitted by the hub
const (
	EventSystemMonitored = "system-monitored"
	EventAlertTriggered  = "alert-triggered"
	EventAlertResolved   = "alert-resolved"
	EventAlertEscalated  = "alert-escalated"
	EventModuleInvoked   = "module-invoked"
	EventSlowInvocation  = "slow-invocation"
	EventTaskCompleted   = "task-completed"
	EventTaskFailed      = "task-failed"
	EventCommandExecuted = "command-executed"
	EventSideEffect      = "side-effect-processed"
)

// Event sources
const (
	SourceHub         = "hub"
	SourceExternalBus = "external-bus"
)

// CommandEvent is a single entry of the hub's event log
type CommandEvent struct {
	ID            string    `json:"id"`
	Seq           uint64    `json:"seq"`
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       any       `json:"payload,omitempty"`
	Source        string    `json:"source"`
	Priority      Priority  `json:"priority"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// NewCommandEvent creates an event originating from the hub
func NewCommandEvent(eventType string, priority Priority, payload any) CommandEvent {
	return CommandEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
		Source:    SourceHub,
		Priority:  priority,
	}
}

// SideEffect is a message awaiting asynchronous follow-up
type SideEffect struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Target     string         `json:"target,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
}

// Side effect kinds
const (
	SideEffectScheduleMaintenance = "schedule-maintenance"
	SideEffectApplyOptimization   = "apply-optimization"
	SideEffectNotify              = "notify"
)

// NewSideEffect creates a side effect message
func NewSideEffect(kind, target string, params map[string]any) SideEffect {
	return SideEffect{
		ID:         uuid.New().String(),
		Kind:       kind,
		Target:     target,
		Params:     params,
		EnqueuedAt: time.Now(),
	}
}
