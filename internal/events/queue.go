// internal/events/queue.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fawad-mazhar/cmdhub/internal/metrics"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

// ErrQueueFull is returned by Enqueue when the side-effect queue is at capacity
var ErrQueueFull = errors.New("side-effect queue full")

// SideEffectHandler performs the follow-up for one side-effect message
type SideEffectHandler func(ctx context.Context, msg models.SideEffect) error

// Queue is a bounded in-memory queue of side effects, drained in fixed-size batches
// on a fixed cadence so slow follow-ups never block producers.
type Queue struct {
	mu       sync.Mutex
	pending  []models.SideEffect
	capacity int

	handlersMu sync.RWMutex
	handlers   map[string]SideEffectHandler

	batchSize int
	interval  time.Duration
	logger    logrus.FieldLogger
	metrics   *metrics.Metrics
}

func NewQueue(capacity, batchSize int, interval time.Duration, logger logrus.FieldLogger, m *metrics.Metrics) *Queue {
	return &Queue{
		pending:   make([]models.SideEffect, 0, capacity),
		capacity:  capacity,
		handlers:  make(map[string]SideEffectHandler),
		batchSize: batchSize,
		interval:  interval,
		logger:    logger.WithField("component", "side-effects"),
		metrics:   m,
	}
}

// Handle registers the handler for a side-effect kind
func (q *Queue) Handle(kind string, handler SideEffectHandler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[kind] = handler
}

// Enqueue adds msg to the queue, failing with ErrQueueFull rather than blocking
func (q *Queue) Enqueue(msg models.SideEffect) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) >= q.capacity {
		return fmt.Errorf("enqueue %s: %w", msg.Kind, ErrQueueFull)
	}
	q.pending = append(q.pending, msg)

	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.pending)))
	}
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// take removes up to batchSize messages from the head of the queue
func (q *Queue) take() []models.SideEffect {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(q.batchSize, len(q.pending))
	if n == 0 {
		return nil
	}

	batch := make([]models.SideEffect, n)
	copy(batch, q.pending[:n])
	q.pending = append(q.pending[:0], q.pending[n:]...)

	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.pending)))
	}
	return batch
}

// DrainOnce processes a single batch and returns how many messages it took
func (q *Queue) DrainOnce(ctx context.Context) int {
	batch := q.take()
	for _, msg := range batch {
		q.process(ctx, msg)
	}
	return len(batch)
}

func (q *Queue) process(ctx context.Context, msg models.SideEffect) {
	q.handlersMu.RLock()
	handler, ok := q.handlers[msg.Kind]
	q.handlersMu.RUnlock()

	outcome := "ok"
	defer func() {
		if q.metrics != nil {
			q.metrics.SideEffects.WithLabelValues(msg.Kind, outcome).Inc()
		}
	}()

	if !ok {
		outcome = "unhandled"
		q.logger.WithField("kind", msg.Kind).Warn("No handler for side effect")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			q.logger.WithField("kind", msg.Kind).Errorf("Side effect handler panicked: %v", r)
		}
	}()

	if err := handler(ctx, msg); err != nil {
		outcome = "error"
		q.logger.WithError(err).WithFields(logrus.Fields{
			"kind":   msg.Kind,
			"id":     msg.ID,
			"target": msg.Target,
		}).Warn("Side effect failed")
	}
}

// Run drains one batch per tick until ctx is done
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			q.DrainOnce(ctx)
		}
	}
}
