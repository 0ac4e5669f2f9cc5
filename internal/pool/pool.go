// internal/pool/pool.go
package pool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/fawad-mazhar/cmdhub/internal/metrics"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

// Task is a unit of work run on an execution resource. Timeouts are the caller's
// responsibility, through ctx.
type Task func(ctx context.Context) (any, error)

// EventSink receives task completion events
type EventSink interface {
	LogEvent(ctx context.Context, event models.CommandEvent) models.CommandEvent
}

type resource struct {
	id       string
	name     string
	capacity int
	current  []string
}

// Execution tracks an accepted task
type Execution struct {
	ID         string
	ResourceID string

	done   chan struct{}
	result any
	err    error
}

// Done is closed once the task has finished and released its slot
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the task finishes or ctx is done. Giving up on the wait does not
// cancel the task.
func (e *Execution) Wait(ctx context.Context) (any, error) {
	select {
	case <-e.done:
		return e.result, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TaskPayload is attached to task completion events
type TaskPayload struct {
	TaskID     string        `json:"taskId"`
	ResourceID string        `json:"resourceId"`
	Elapsed    time.Duration `json:"elapsed"`
	Error      string        `json:"error,omitempty"`
}

// Pool is a fixed set of named resources, each running at most Capacity tasks.
// Submissions beyond capacity are rejected, never queued.
type Pool struct {
	mu        sync.Mutex
	resources map[string]*resource
	order     []string
	limiter   *rate.Limiter
	wg        sync.WaitGroup

	sink    EventSink
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// Option configures a Pool
type Option func(*Pool)

// WithRateLimit caps accepted submissions to rps per second with the given burst
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Pool) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithEventSink records task completions in the event pipeline
func WithEventSink(sink EventSink) Option {
	return func(p *Pool) {
		p.sink = sink
	}
}

// WithMetrics records pool gauges and rejection counters
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

func New(logger logrus.FieldLogger, opts ...Option) *Pool {
	p := &Pool{
		resources: make(map[string]*resource),
		logger:    logger.WithField("component", "pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddResource declares a resource. Resources are tried in declaration order by SubmitAny.
func (p *Pool) AddResource(id, name string, capacity int) error {
	if id == "" {
		return fmt.Errorf("resource without id")
	}
	if capacity <= 0 {
		return fmt.Errorf("resource %s: capacity must be positive", id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.resources[id]; exists {
		return fmt.Errorf("resource %s already registered", id)
	}
	if name == "" {
		name = id
	}
	p.resources[id] = &resource{id: id, name: name, capacity: capacity}
	p.order = append(p.order, id)
	return nil
}

// Submit runs task on the named resource, failing immediately with a
// *ResourceBusyError when the resource is at capacity
func (p *Pool) Submit(ctx context.Context, resourceID string, task Task) (*Execution, error) {
	p.mu.Lock()
	r, ok := p.resources[resourceID]
	if !ok {
		p.mu.Unlock()
		return nil, &ResourceNotFoundError{ResourceID: resourceID}
	}
	exec, err := p.acquire(r)
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	p.start(ctx, exec, task)
	return exec, nil
}

// SubmitAny runs task on the first resource, in declaration order, with free capacity
func (p *Pool) SubmitAny(ctx context.Context, task Task) (*Execution, error) {
	p.mu.Lock()
	var target *resource
	for _, id := range p.order {
		if r := p.resources[id]; len(r.current) < r.capacity {
			target = r
			break
		}
	}
	if target == nil {
		p.mu.Unlock()
		p.rejected("any", "busy")
		return nil, &ResourceBusyError{}
	}
	exec, err := p.acquire(target)
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	p.start(ctx, exec, task)
	return exec, nil
}

// acquire records a new task on r. Callers hold p.mu.
func (p *Pool) acquire(r *resource) (*Execution, error) {
	if len(r.current) >= r.capacity {
		p.rejected(r.id, "busy")
		return nil, &ResourceBusyError{ResourceID: r.id, Capacity: r.capacity}
	}
	if p.limiter != nil && !p.limiter.Allow() {
		p.rejected(r.id, "rate_limited")
		return nil, fmt.Errorf("submit to %s: %w", r.id, ErrRateLimited)
	}

	exec := &Execution{
		ID:         uuid.New().String(),
		ResourceID: r.id,
		done:       make(chan struct{}),
	}
	r.current = append(r.current, exec.ID)
	p.wg.Add(1)

	if p.metrics != nil {
		p.metrics.PoolInFlight.WithLabelValues(r.id).Set(float64(len(r.current)))
	}
	return exec, nil
}

func (p *Pool) start(ctx context.Context, exec *Execution, task Task) {
	go func() {
		start := time.Now()
		defer p.release(ctx, exec, start)
		defer func() {
			if rec := recover(); rec != nil {
				exec.err = fmt.Errorf("task %s panicked: %v", exec.ID, rec)
			}
		}()

		exec.result, exec.err = task(ctx)
	}()
}

func (p *Pool) release(ctx context.Context, exec *Execution, start time.Time) {
	p.mu.Lock()
	if r, ok := p.resources[exec.ResourceID]; ok {
		if i := slices.Index(r.current, exec.ID); i >= 0 {
			r.current = slices.Delete(r.current, i, i+1)
		}
		if p.metrics != nil {
			p.metrics.PoolInFlight.WithLabelValues(r.id).Set(float64(len(r.current)))
		}
	}
	p.mu.Unlock()

	close(exec.done)
	p.wg.Done()

	elapsed := time.Since(start)
	payload := TaskPayload{TaskID: exec.ID, ResourceID: exec.ResourceID, Elapsed: elapsed}
	eventType := models.EventTaskCompleted
	if exec.err != nil {
		eventType = models.EventTaskFailed
		payload.Error = exec.err.Error()
		p.logger.WithError(exec.err).WithFields(logrus.Fields{
			"task":     exec.ID,
			"resource": exec.ResourceID,
		}).Warn("Task failed")
	}

	if p.sink != nil {
		p.sink.LogEvent(context.WithoutCancel(ctx), models.NewCommandEvent(eventType, models.PriorityLow, payload))
	}
}

func (p *Pool) rejected(resourceID, reason string) {
	if p.metrics != nil {
		p.metrics.PoolRejected.WithLabelValues(resourceID, reason).Inc()
	}
}

// Resources returns a snapshot of every resource in declaration order
func (p *Pool) Resources() []models.ExecutionResource {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.ExecutionResource, 0, len(p.order))
	for _, id := range p.order {
		r := p.resources[id]
		out = append(out, models.ExecutionResource{
			ID:           r.id,
			Name:         r.name,
			Capacity:     r.capacity,
			CurrentTasks: slices.Clone(r.current),
		})
	}
	return out
}

// Utilization summarises in-flight load per resource and overall
func (p *Pool) Utilization() models.Utilization {
	u := models.Utilization{Resources: make(map[string]models.ResourceUsage)}
	for _, r := range p.Resources() {
		inFlight := len(r.CurrentTasks)
		u.Resources[r.ID] = models.ResourceUsage{
			InFlight: inFlight,
			Capacity: r.Capacity,
			Ratio:    float64(inFlight) / float64(r.Capacity),
		}
		u.InFlight += inFlight
		u.Capacity += r.Capacity
	}
	if u.Capacity > 0 {
		u.Overall = float64(u.InFlight) / float64(u.Capacity)
	}
	return u
}

// Wait blocks until every in-flight task has completed or ctx is done
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight tasks: %w", ctx.Err())
	}
}
