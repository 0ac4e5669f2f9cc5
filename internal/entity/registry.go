// internal/entity/registry.go
package entity

import (
	"context"
	"fmt"
	"iter"
	"math"
	"sync"
	"time"

	"github.com/fawad-mazhar/cmdhub/internal/metrics"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

// EntityNotFoundError is returned when no snapshot exists for an id
type EntityNotFoundError struct {
	ID string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("entity %s not found", e.ID)
}

// InvalidStatusError is returned for snapshots that cannot be stored
type InvalidStatusError struct {
	ID     string
	Reason string
}

func (e *InvalidStatusError) Error() string {
	if e.ID == "" {
		return "invalid system status: " + e.Reason
	}
	return fmt.Sprintf("system %s: %s", e.ID, e.Reason)
}

// Evaluator is notified synchronously with every new status
type Evaluator interface {
	Evaluate(ctx context.Context, status models.SystemStatus) []string
}

// EventSink receives the events emitted by the registry
type EventSink interface {
	LogEvent(ctx context.Context, event models.CommandEvent) models.CommandEvent
}

// Registry maps monitored system ids to their current status snapshot
type Registry struct {
	mu        sync.RWMutex
	entities  map[string]models.SystemStatus
	evaluator Evaluator
	sink      EventSink
	metrics   *metrics.Metrics
}

func NewRegistry(evaluator Evaluator, sink EventSink, m *metrics.Metrics) *Registry {
	return &Registry{
		entities:  make(map[string]models.SystemStatus),
		evaluator: evaluator,
		sink:      sink,
		metrics:   m,
	}
}

// Upsert replaces or inserts the snapshot for status.ID and returns the previous one.
// Before returning it emits a system-monitored event and runs rule evaluation against
// the new status on the caller's goroutine; the registry lock is not held meanwhile.
func (r *Registry) Upsert(ctx context.Context, status models.SystemStatus) (models.SystemStatus, bool, error) {
	if status.Status == "" {
		status.Status = models.StatusOperational
	}
	if err := validate(status); err != nil {
		return models.SystemStatus{}, false, err
	}
	if status.LastUpdated.IsZero() {
		status.LastUpdated = time.Now()
	}
	status = status.Clone()

	r.mu.Lock()
	prev, existed := r.entities[status.ID]
	r.entities[status.ID] = status
	count := len(r.entities)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.EntityCount.Set(float64(count))
	}

	if r.sink != nil {
		event := models.NewCommandEvent(models.EventSystemMonitored, priorityFor(status.Status), status.Clone())
		event.CorrelationID = status.ID
		r.sink.LogEvent(ctx, event)
	}

	if r.evaluator != nil {
		r.evaluator.Evaluate(ctx, status.Clone())
	}

	return prev, existed, nil
}

// Get returns a copy of the snapshot for id
func (r *Registry) Get(id string) (models.SystemStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.entities[id]
	if !ok {
		return models.SystemStatus{}, &EntityNotFoundError{ID: id}
	}
	return status.Clone(), nil
}

// List returns a lazy sequence over a snapshot of all entries. Every range over the
// sequence takes a fresh snapshot, so it can be restarted.
func (r *Registry) List() iter.Seq[models.SystemStatus] {
	return func(yield func(models.SystemStatus) bool) {
		for _, status := range r.snapshot() {
			if !yield(status) {
				return
			}
		}
	}
}

func (r *Registry) snapshot() []models.SystemStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.SystemStatus, 0, len(r.entities))
	for _, status := range r.entities {
		out = append(out, status.Clone())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Restore loads snapshots without emitting events or evaluating rules
func (r *Registry) Restore(statuses []models.SystemStatus) {
	r.mu.Lock()
	for _, status := range statuses {
		if status.Status == "" {
			status.Status = models.StatusOperational
		}
		if validate(status) != nil {
			continue
		}
		r.entities[status.ID] = status.Clone()
	}
	count := len(r.entities)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.EntityCount.Set(float64(count))
	}
}

func validate(status models.SystemStatus) error {
	switch {
	case status.ID == "":
		return &InvalidStatusError{Reason: "missing id"}
	case !status.Status.Valid():
		return &InvalidStatusError{ID: status.ID, Reason: fmt.Sprintf("unknown status %q", status.Status)}
	}
	if pf := status.PredictedFailure; pf != nil {
		if p := pf.Probability; math.IsNaN(p) || p < 0 || p > 1 {
			return &InvalidStatusError{ID: status.ID, Reason: fmt.Sprintf("failure probability %v outside [0,1]", p)}
		}
	}
	return nil
}

func priorityFor(s models.Status) models.Priority {
	switch s {
	case models.StatusCritical, models.StatusOffline:
		return models.PriorityHigh
	case models.StatusDegraded:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}
