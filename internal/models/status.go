// internal/models/status.go
package models

import (
	"maps"
	"slices"
	"time"
)

// Status represents the operational state of a monitored system
type Status string

const (
	StatusOperational Status = "OPERATIONAL"
	StatusDegraded    Status = "DEGRADED"
	StatusCritical    Status = "CRITICAL"
	StatusOffline     Status = "OFFLINE"
)

// Statuses lists every status in severity order
var Statuses = []Status{StatusOperational, StatusDegraded, StatusCritical, StatusOffline}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// PredictedFailure is the output of the predictive scoring module
type PredictedFailure struct {
	Probability        float64       `json:"probability"`
	TimeToFailure      time.Duration `json:"timeToFailure"`
	RecommendedActions []string      `json:"recommendedActions,omitempty"`
}

// SystemStatus is the current snapshot of a monitored system
type SystemStatus struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Status           Status             `json:"status"`
	LastUpdated      time.Time          `json:"lastUpdated"`
	Metrics          map[string]float64 `json:"metrics,omitempty"`
	PredictedFailure *PredictedFailure  `json:"predictedFailure,omitempty"`
}

// Clone returns a deep copy so callers never share maps or slices with the registry
func (s SystemStatus) Clone() SystemStatus {
	out := s
	if s.Metrics != nil {
		out.Metrics = maps.Clone(s.Metrics)
	}
	if s.PredictedFailure != nil {
		pf := *s.PredictedFailure
		pf.RecommendedActions = slices.Clone(s.PredictedFailure.RecommendedActions)
		out.PredictedFailure = &pf
	}
	return out
}

// FailureProbability returns the predicted failure probability, or 0 when no prediction exists
func (s SystemStatus) FailureProbability() float64 {
	if s.PredictedFailure == nil {
		return 0
	}
	return s.PredictedFailure.Probability
}
