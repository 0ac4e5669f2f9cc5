// internal/events/pipeline.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fawad-mazhar/cmdhub/internal/bus"
	"github.com/fawad-mazhar/cmdhub/internal/metrics"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

// RouteHandler processes an inbound bus event for a specific channel
type RouteHandler func(ctx context.Context, event models.CommandEvent) error

type subscriber struct {
	types []string
	ch    chan models.CommandEvent
}

// Pipeline serializes local and inbound events through the bounded log, fans them out
// to in-process subscribers and publishes local events to the external bus.
type Pipeline struct {
	log      *Log
	bus      bus.Bus
	outbound string
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	routes map[string]RouteHandler
}

func NewPipeline(log *Log, b bus.Bus, outbound string, logger logrus.FieldLogger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		log:      log,
		bus:      b,
		outbound: outbound,
		logger:   logger.WithField("component", "events"),
		metrics:  m,
		subs:     make(map[*subscriber]struct{}),
		routes:   make(map[string]RouteHandler),
	}
}

// Log returns the underlying event log
func (p *Pipeline) Log() *Log {
	return p.log
}

// LogEvent appends a locally generated event and publishes it on the outbound channel.
// Publishing is best-effort: a bus failure is logged and the local append stands.
func (p *Pipeline) LogEvent(ctx context.Context, event models.CommandEvent) models.CommandEvent {
	if event.Source == "" {
		event.Source = models.SourceHub
	}
	stored := p.record(event)

	if p.bus == nil {
		return stored
	}

	data, err := json.Marshal(stored)
	if err != nil {
		p.logger.WithError(err).WithField("type", stored.Type).Warn("Failed to marshal event for publish")
		return stored
	}
	if err := p.bus.Publish(ctx, p.outbound, data); err != nil {
		if p.metrics != nil {
			p.metrics.BusPublishFailures.Inc()
		}
		p.logger.WithError(err).WithField("type", stored.Type).Warn("Failed to publish event")
	}

	return stored
}

func (p *Pipeline) record(event models.CommandEvent) models.CommandEvent {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Priority == "" {
		event.Priority = models.PriorityLow
	}

	stored := p.log.Append(event)

	if p.metrics != nil {
		p.metrics.EventsLogged.WithLabelValues(stored.Type, stored.Source).Inc()
		p.metrics.EventLogSize.Set(float64(p.log.Size()))
	}

	p.mu.RLock()
	for sub := range p.subs {
		if len(sub.types) > 0 && !slices.Contains(sub.types, stored.Type) {
			continue
		}
		select {
		case sub.ch <- stored:
		default:
		}
	}
	p.mu.RUnlock()

	return stored
}

// Subscribe delivers future events of the given types (all types when none are given)
// to the returned channel. Delivery never blocks the pipeline: a full buffer drops the
// event for that subscriber. The returned function unsubscribes and closes the channel.
func (p *Pipeline) Subscribe(buffer int, types ...string) (<-chan models.CommandEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{types: slices.Clone(types), ch: make(chan models.CommandEvent, buffer)}

	p.mu.Lock()
	p.subs[sub] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, sub)
			p.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Route registers the handler invoked for inbound events on channel
func (p *Pipeline) Route(channel string, handler RouteHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[channel] = handler
}

// RunBridge subscribes to the inbound channels and feeds every message into the log,
// dispatching it through the route table. It returns when ctx is done.
func (p *Pipeline) RunBridge(ctx context.Context, channels []string) error {
	if p.bus == nil || len(channels) == 0 {
		<-ctx.Done()
		return nil
	}

	msgs, err := p.bus.Subscribe(ctx, channels...)
	if err != nil {
		return fmt.Errorf("failed to subscribe to inbound channels: %w", err)
	}
	p.logger.WithField("channels", channels).Info("Inbound bridge started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			p.HandleInbound(ctx, msg)
		}
	}
}

// HandleInbound wraps a bus message into an event, appends it and dispatches it.
// Undecodable messages are logged and discarded.
func (p *Pipeline) HandleInbound(ctx context.Context, msg bus.Message) {
	event, err := DecodeInbound(msg)
	if err != nil {
		if p.metrics != nil {
			p.metrics.InboundDropped.Inc()
		}
		p.logger.WithError(err).WithField("channel", msg.Channel).Warn("Discarding inbound message")
		return
	}

	stored := p.record(event)

	p.mu.RLock()
	handler, ok := p.routes[msg.Channel]
	p.mu.RUnlock()

	if !ok {
		p.logger.WithFields(logrus.Fields{
			"channel": msg.Channel,
			"type":    stored.Type,
		}).Debug("Inbound event logged")
		return
	}

	if err := handler(ctx, stored); err != nil {
		p.logger.WithError(err).WithField("channel", msg.Channel).Warn("Inbound route failed")
	}
}

type inboundEnvelope struct {
	Type          string          `json:"type"`
	Priority      models.Priority `json:"priority"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
}

// DecodeInbound turns a bus message into an event. A JSON object carrying "type" and
// "payload" is treated as an envelope; any other JSON value becomes the payload of an
// event typed after the channel.
func DecodeInbound(msg bus.Message) (models.CommandEvent, error) {
	if !json.Valid(msg.Payload) {
		return models.CommandEvent{}, fmt.Errorf("payload on %s is not valid JSON", msg.Channel)
	}

	event := models.CommandEvent{
		ID:        uuid.New().String(),
		Type:      msg.Channel,
		Timestamp: time.Now(),
		Source:    models.SourceExternalBus,
		Priority:  models.PriorityMedium,
		Payload:   json.RawMessage(slices.Clone(msg.Payload)),
	}

	var env inboundEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err == nil && env.Type != "" && len(env.Payload) > 0 {
		event.Type = env.Type
		event.Payload = env.Payload
		event.CorrelationID = env.CorrelationID
		if env.Priority != "" {
			event.Priority = env.Priority
		}
	}

	return event, nil
}
