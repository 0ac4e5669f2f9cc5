// internal/telemetry/channel.go
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fawad-mazhar/cmdhub/internal/metrics"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

const DefaultInterval = time.Second

// ErrSubscriberClosed is returned by subscribers that can no longer accept frames
var ErrSubscriberClosed = errors.New("telemetry subscriber closed")

// Subscriber is one live telemetry consumer, typically a WebSocket connection
type Subscriber interface {
	ID() string
	Send(ctx context.Context, frame []byte) error
	// Done is closed when the consumer disconnects
	Done() <-chan struct{}
}

// AnalyticsSource provides the aggregate pushed on every tick
type AnalyticsSource interface {
	Snapshot() models.Analytics
}

// Frame is the envelope of every pushed message
type Frame struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel pushes analytics to connected subscribers on a fixed interval
type Channel struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber

	source   AnalyticsSource
	interval time.Duration
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
}

func NewChannel(source AnalyticsSource, interval time.Duration, logger logrus.FieldLogger, m *metrics.Metrics) *Channel {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Channel{
		subscribers: make(map[string]Subscriber),
		source:      source,
		interval:    interval,
		logger:      logger.WithField("component", "telemetry"),
		metrics:     m,
	}
}

// Connect registers sub and pushes the current analytics to it every interval.
// It blocks until the subscriber disconnects, a send fails, or ctx is done.
func (c *Channel) Connect(ctx context.Context, sub Subscriber) error {
	if err := c.add(sub); err != nil {
		return err
	}
	defer c.remove(sub.ID())

	log := c.logger.WithField("subscriber", sub.ID())
	log.Info("Telemetry subscriber connected")
	defer log.Info("Telemetry subscriber disconnected")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.push(ctx, sub); err != nil {
			if !errors.Is(err, ErrSubscriberClosed) {
				log.WithError(err).Warn("Telemetry push failed")
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Channel) push(ctx context.Context, sub Subscriber) error {
	select {
	case <-sub.Done():
		return ErrSubscriberClosed
	default:
	}

	frame, err := encode("analytics", c.source.Snapshot())
	if err != nil {
		return err
	}
	return sub.Send(ctx, frame)
}

// Broadcast sends payload to every connected subscriber. Failed sends are logged;
// the failing subscriber's own loop notices the disconnect.
func (c *Channel) Broadcast(ctx context.Context, frameType string, payload any) int {
	frame, err := encode(frameType, payload)
	if err != nil {
		c.logger.WithError(err).Error("Failed to encode broadcast")
		return 0
	}

	c.mu.RLock()
	subs := make([]Subscriber, 0, len(c.subscribers))
	for _, s := range c.subscribers {
		subs = append(subs, s)
	}
	c.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if err := s.Send(ctx, frame); err != nil {
			c.logger.WithError(err).WithField("subscriber", s.ID()).Debug("Broadcast send failed")
			continue
		}
		delivered++
	}
	return delivered
}

// Count returns the number of connected subscribers
func (c *Channel) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}

func (c *Channel) add(sub Subscriber) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.subscribers[sub.ID()]; exists {
		return fmt.Errorf("subscriber %s already connected", sub.ID())
	}
	c.subscribers[sub.ID()] = sub
	c.observe()
	return nil
}

func (c *Channel) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, id)
	c.observe()
}

// observe updates the subscriber gauge. Callers hold c.mu.
func (c *Channel) observe() {
	if c.metrics != nil {
		c.metrics.TelemetryClients.Set(float64(len(c.subscribers)))
	}
}

func encode(frameType string, data any) ([]byte, error) {
	frame, err := json.Marshal(Frame{Type: frameType, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", frameType, err)
	}
	return frame, nil
}
