// internal/module/registry.go
package module

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fawad-mazhar/cmdhub/internal/metrics"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

// Handler is the function behind a module. Its result is opaque to the registry.
type Handler func(ctx context.Context, args ...any) (any, error)

// EventSink receives invocation events
type EventSink interface {
	LogEvent(ctx context.Context, event models.CommandEvent) models.CommandEvent
}

type entry struct {
	descriptor models.ModuleDescriptor
	handler    Handler
}

// InvocationPayload is attached to module-invoked and slow-invocation events
type InvocationPayload struct {
	ModuleID  string        `json:"moduleId"`
	Elapsed   time.Duration `json:"elapsed"`
	Threshold time.Duration `json:"threshold,omitempty"`
	Result    any           `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Registry manages the pluggable processing modules of the hub
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*entry
	order   []string

	sink    EventSink
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewRegistry(sink EventSink, logger logrus.FieldLogger, m *metrics.Metrics) *Registry {
	return &Registry{
		modules: make(map[string]*entry),
		sink:    sink,
		logger:  logger.WithField("component", "modules"),
		metrics: m,
	}
}

// Register adds a module. Dependencies must already be registered. A failed call
// leaves the registry unchanged.
func (r *Registry) Register(descriptor models.ModuleDescriptor, handler Handler) error {
	if descriptor.ID == "" {
		return fmt.Errorf("module descriptor without id")
	}
	if handler == nil {
		return fmt.Errorf("module %s: handler is required", descriptor.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[descriptor.ID]; exists {
		return &DuplicateModuleError{ID: descriptor.ID}
	}

	var missing []string
	for _, dep := range descriptor.Dependencies {
		if _, ok := r.modules[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &MissingDependencyError{ID: descriptor.ID, Missing: missing}
	}

	d := descriptor
	d.Dependencies = slices.Clone(descriptor.Dependencies)
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.Priority == "" {
		d.Priority = models.PriorityMedium
	}

	r.modules[d.ID] = &entry{descriptor: d, handler: handler}
	r.order = append(r.order, d.ID)

	r.logger.WithFields(logrus.Fields{
		"module":   d.ID,
		"category": d.Category,
	}).Info("Module registered")
	return nil
}

// Invoke calls the module's handler and forwards its result. Invocations slower than
// the module's performance threshold emit an advisory slow-invocation event.
func (r *Registry) Invoke(ctx context.Context, id string, args ...any) (any, error) {
	r.mu.RLock()
	e, ok := r.modules[id]
	var d models.ModuleDescriptor
	var handler Handler
	if ok {
		d, handler = e.descriptor, e.handler
	}
	r.mu.RUnlock()

	if !ok {
		return nil, &ModuleNotFoundError{ID: id}
	}
	if !d.Enabled {
		return nil, &InvocationError{ModuleID: id, Err: ErrModuleDisabled}
	}

	start := time.Now()
	result, err := call(ctx, handler, args)
	elapsed := time.Since(start)

	payload := InvocationPayload{ModuleID: id, Elapsed: elapsed, Result: result}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		payload.Error = err.Error()
		err = &InvocationError{ModuleID: id, Elapsed: elapsed, Err: err}
	}

	if r.metrics != nil {
		r.metrics.ModuleInvocations.WithLabelValues(id, outcome).Inc()
		r.metrics.ModuleDuration.WithLabelValues(id).Observe(elapsed.Seconds())
	}

	if d.PerformanceThreshold > 0 && elapsed > d.PerformanceThreshold {
		r.logger.WithFields(logrus.Fields{
			"module":    id,
			"elapsed":   elapsed,
			"threshold": d.PerformanceThreshold,
		}).Warn("Slow module invocation")

		if r.sink != nil {
			slow := models.NewCommandEvent(models.EventSlowInvocation, models.PriorityMedium, InvocationPayload{
				ModuleID:  id,
				Elapsed:   elapsed,
				Threshold: d.PerformanceThreshold,
			})
			r.sink.LogEvent(ctx, slow)
		}
	}

	if r.sink != nil {
		r.sink.LogEvent(ctx, models.NewCommandEvent(models.EventModuleInvoked, d.Priority, payload))
	}

	return result, err
}

func call(ctx context.Context, handler Handler, args []any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return handler(ctx, args...)
}

// Get returns the descriptor of a registered module
func (r *Registry) Get(id string) (models.ModuleDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.modules[id]
	if !ok {
		return models.ModuleDescriptor{}, &ModuleNotFoundError{ID: id}
	}
	return e.descriptor, nil
}

// SetEnabled toggles whether a module accepts invocations
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.modules[id]
	if !ok {
		return &ModuleNotFoundError{ID: id}
	}
	e.descriptor.Enabled = enabled
	return nil
}

// List returns the descriptors in registration order
func (r *Registry) List() []models.ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ModuleDescriptor, 0, len(r.order))
	for _, id := range r.order {
		d := r.modules[id].descriptor
		d.Dependencies = slices.Clone(d.Dependencies)
		out = append(out, d)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}
