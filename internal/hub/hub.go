// internal/hub/hub.go
package hub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fawad-mazhar/cmdhub/internal/analytics"
	"github.com/fawad-mazhar/cmdhub/internal/bus"
	"github.com/fawad-mazhar/cmdhub/internal/config"
	"github.com/fawad-mazhar/cmdhub/internal/entity"
	"github.com/fawad-mazhar/cmdhub/internal/events"
	"github.com/fawad-mazhar/cmdhub/internal/metrics"
	"github.com/fawad-mazhar/cmdhub/internal/models"
	"github.com/fawad-mazhar/cmdhub/internal/module"
	"github.com/fawad-mazhar/cmdhub/internal/pool"
	"github.com/fawad-mazhar/cmdhub/internal/rules"
	"github.com/fawad-mazhar/cmdhub/internal/telemetry"
)

// SnapshotStore persists entity snapshots for warm starts
type SnapshotStore interface {
	SaveStatuses(statuses []models.SystemStatus) error
	LoadStatuses() ([]models.SystemStatus, error)
}

// EventArchive receives batches of logged events and serves them back newest first
type EventArchive interface {
	StoreEvents(ctx context.Context, events []models.CommandEvent) error
	RecentEvents(ctx context.Context, limit int) ([]models.CommandEvent, error)
}

// ErrNoArchive is returned by archive queries when no EventArchive is configured
var ErrNoArchive = errors.New("event archive not configured")

// Deps are the external collaborators of the hub. Bus defaults to an in-memory bus;
// Snapshots and Archive are optional.
type Deps struct {
	Bus       bus.Bus
	Snapshots SnapshotStore
	Archive   EventArchive
	Logger    logrus.FieldLogger
	Metrics   *metrics.Metrics
}

// Hub composes the registries, rule engine, pool and event pipeline
type Hub struct {
	cfg     *config.Config
	logger  logrus.FieldLogger
	metrics *metrics.Metrics

	bus       bus.Bus
	log       *events.Log
	pipeline  *events.Pipeline
	queue     *events.Queue
	rules     *rules.Engine
	entities  *entity.Registry
	modules   *module.Registry
	pool      *pool.Pool
	analytics *analytics.Aggregator
	telemetry *telemetry.Channel

	snapshots SnapshotStore
	archive   EventArchive

	// follow-ups already issued for an active alert streak
	followMu  sync.Mutex
	followups map[followupKey]struct{}

	mu           sync.Mutex
	cancel       context.CancelFunc
	group        *errgroup.Group
	archivedSeq  uint64
	isShutdown   bool
	shutdownOnce sync.Once
}

func New(cfg *config.Config, deps Deps) (*Hub, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	b := deps.Bus
	if b == nil {
		b = bus.NewMemory()
	}

	h := &Hub{
		cfg:       cfg,
		logger:    logger.WithField("component", "hub"),
		metrics:   deps.Metrics,
		bus:       b,
		snapshots: deps.Snapshots,
		archive:   deps.Archive,
		followups: make(map[followupKey]struct{}),
	}

	h.log = events.NewLog(cfg.Hub.EventLogCapacity)
	h.pipeline = events.NewPipeline(h.log, b, cfg.Hub.OutboundChannel, logger, deps.Metrics)
	h.queue = events.NewQueue(cfg.Hub.QueueCapacity, cfg.Hub.BatchSize, cfg.Hub.DrainInterval, logger, deps.Metrics)

	h.pool = pool.New(logger,
		pool.WithRateLimit(cfg.Pool.RateLimit, cfg.Pool.Burst),
		pool.WithEventSink(h.pipeline),
		pool.WithMetrics(deps.Metrics),
	)
	for _, r := range cfg.Pool.Resources {
		if err := h.pool.AddResource(r.ID, r.Name, r.Capacity); err != nil {
			return nil, fmt.Errorf("failed to add execution resource: %w", err)
		}
	}

	h.rules = rules.NewEngine(h.pipeline, logger, deps.Metrics)
	h.entities = entity.NewRegistry(h.rules, h.pipeline, deps.Metrics)
	h.modules = module.NewRegistry(h.pipeline, logger, deps.Metrics)

	if err := module.RegisterBuiltins(h.modules, module.BuiltinDeps{
		Statuses:  h.entities,
		Queue:     h.queue,
		Publisher: b,
		Pool:      h.pool,
	}); err != nil {
		return nil, err
	}

	h.rules.SetAdvisor(advisor{modules: h.modules})
	h.rules.SetOffloader(offloader{pool: h.pool})

	h.analytics = analytics.NewAggregator(h.entities, cfg.Hub.AnalyticsMetric, cfg.Hub.AnalyticsInterval, logger, deps.Metrics)
	h.telemetry = telemetry.NewChannel(h.analytics, cfg.Hub.TelemetryInterval, logger, deps.Metrics)

	if err := h.registerDefaults(); err != nil {
		return nil, err
	}

	if h.snapshots != nil {
		statuses, err := h.snapshots.LoadStatuses()
		if err != nil {
			h.logger.WithError(err).Warn("Failed to load entity snapshots, starting cold")
		} else {
			h.entities.Restore(statuses)
			h.logger.WithField("systems", len(statuses)).Info("Restored entity snapshots")
		}
	}
	h.analytics.Recompute()

	return h, nil
}

// Start launches the periodic loops. They run until ctx is cancelled or Shutdown is called.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.group != nil {
		return fmt.Errorf("hub already started")
	}
	if h.isShutdown {
		return fmt.Errorf("hub is shut down")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return h.analytics.Run(gctx) })
	g.Go(func() error { return h.queue.Run(gctx) })
	g.Go(func() error { return h.pipeline.RunBridge(gctx, h.cfg.Hub.InboundChannels) })
	if h.snapshots != nil {
		g.Go(func() error { return h.every(gctx, h.cfg.LevelDB.SnapshotInterval, h.persistSnapshots) })
	}
	if h.archive != nil {
		g.Go(func() error { return h.every(gctx, h.cfg.Postgres.ArchiveInterval, h.archiveEvents) })
	}

	h.cancel = cancel
	h.group = g

	h.logger.WithFields(logrus.Fields{
		"resources": len(h.cfg.Pool.Resources),
		"modules":   h.modules.Len(),
		"rules":     len(h.rules.Rules()),
	}).Info("Hub started")
	return nil
}

// every runs fn on each tick of interval until ctx is done
func (h *Hub) every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (h *Hub) persistSnapshots(context.Context) {
	statuses := slices.Collect(h.entities.List())
	if err := h.snapshots.SaveStatuses(statuses); err != nil {
		h.logger.WithError(err).Warn("Failed to persist entity snapshots")
	}
}

// archiveEvents stores every event logged since the last successful archive. Events
// evicted from the ring before they were archived are lost.
func (h *Hub) archiveEvents(ctx context.Context) {
	h.mu.Lock()
	since := h.archivedSeq
	h.mu.Unlock()

	if h.log.LastSeq() <= since {
		return
	}
	batch := h.log.Since(since)
	if len(batch) == 0 {
		return
	}
	if err := h.archive.StoreEvents(ctx, batch); err != nil {
		h.logger.WithError(err).WithField("events", len(batch)).Warn("Failed to archive events")
		return
	}

	h.mu.Lock()
	h.archivedSeq = batch[len(batch)-1].Seq
	h.mu.Unlock()
}

// ArchivedEvents returns up to limit archived events, oldest first
func (h *Hub) ArchivedEvents(ctx context.Context, limit int) ([]models.CommandEvent, error) {
	if h.archive == nil {
		return nil, ErrNoArchive
	}
	events, err := h.archive.RecentEvents(ctx, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(events)
	return events, nil
}

// Shutdown stops the loops and waits up to timeout for in-flight pool tasks, then
// flushes snapshots and the archive one last time
func (h *Hub) Shutdown(timeout time.Duration) error {
	var err error
	h.shutdownOnce.Do(func() {
		h.mu.Lock()
		h.isShutdown = true
		cancel, g := h.cancel, h.group
		h.mu.Unlock()

		ctx, done := context.WithTimeout(context.Background(), timeout)
		defer done()

		if cancel != nil {
			cancel()
			if gerr := g.Wait(); gerr != nil {
				h.logger.WithError(gerr).Warn("Hub loop exited with error")
			}
		}

		if perr := h.pool.Wait(ctx); perr != nil {
			err = fmt.Errorf("shutdown timed out after %v: %w", timeout, perr)
		}

		if h.snapshots != nil {
			h.persistSnapshots(ctx)
		}
		if h.archive != nil {
			h.archiveEvents(ctx)
		}

		h.logger.Info("Hub shut down")
	})
	return err
}

// IsShutdown reports whether Shutdown has been called
func (h *Hub) IsShutdown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isShutdown
}

// UpsertSystem records a status update and evaluates rules against it
func (h *Hub) UpsertSystem(ctx context.Context, status models.SystemStatus) (models.SystemStatus, error) {
	if _, _, err := h.entities.Upsert(ctx, status); err != nil {
		return models.SystemStatus{}, err
	}
	return h.entities.Get(status.ID)
}

func (h *Hub) Entities() *entity.Registry { return h.entities }
func (h *Hub) Modules() *module.Registry { return h.modules }
func (h *Hub) Rules() *rules.Engine { return h.rules }
func (h *Hub) Pool() *pool.Pool { return h.pool }
func (h *Hub) Events() *events.Pipeline { return h.pipeline }
func (h *Hub) Queue() *events.Queue { return h.queue }
func (h *Hub) Analytics() *analytics.Aggregator { return h.analytics }
func (h *Hub) Telemetry() *telemetry.Channel { return h.telemetry }

// advisor consults the decision-support module for UseDecisionSupport rules
type advisor struct {
	modules *module.Registry
}

func (a advisor) Advise(ctx context.Context, status models.SystemStatus) (any, error) {
	return a.modules.Invoke(ctx, module.DecisionSupport, status)
}

// offloader submits a pattern analysis of the fired rule to the pool without waiting
type offloader struct {
	pool *pool.Pool
}

func (o offloader) Offload(ctx context.Context, rule *rules.Rule, status models.SystemStatus) error {
	params := map[string]any{
		"ruleId":   rule.ID,
		"systemId": status.ID,
		"status":   string(status.Status),
	}
	_, err := o.pool.SubmitAny(context.WithoutCancel(ctx), pool.SimulatedWorkload(pool.WorkloadPatternAnalysis, params, module.DefaultWorkloadDuration))
	return err
}
