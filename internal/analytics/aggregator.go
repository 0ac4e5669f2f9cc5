// internal/analytics/aggregator.go
package analytics

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fawad-mazhar/cmdhub/internal/metrics"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

const (
	DefaultInterval = time.Second
	DefaultMetric   = "load"

	// atRiskThreshold is the failure probability above which a system counts as at risk
	atRiskThreshold = 0.5
)

// Source yields the current entity snapshots
type Source interface {
	List() iter.Seq[models.SystemStatus]
}

// Aggregator periodically recomputes rollup analytics from the entity registry
type Aggregator struct {
	source   Source
	metric   string
	interval time.Duration
	current  atomic.Pointer[models.Analytics]

	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewAggregator(source Source, metric string, interval time.Duration, logger logrus.FieldLogger, m *metrics.Metrics) *Aggregator {
	if metric == "" {
		metric = DefaultMetric
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	a := &Aggregator{
		source:   source,
		metric:   metric,
		interval: interval,
		logger:   logger.WithField("component", "analytics"),
		metrics:  m,
	}
	a.current.Store(&models.Analytics{
		StatusCounts: make(map[models.Status]int),
		MetricName:   metric,
	})
	return a
}

// Recompute builds a fresh aggregate and publishes it atomically
func (a *Aggregator) Recompute() models.Analytics {
	out := models.Analytics{
		StatusCounts: make(map[models.Status]int, len(models.Statuses)),
		MetricName:   a.metric,
	}

	var sum float64
	var samples int
	for status := range a.source.List() {
		out.EntityCount++
		out.StatusCounts[status.Status]++
		if v, ok := status.Metrics[a.metric]; ok {
			sum += v
			samples++
		}
		if status.FailureProbability() > atRiskThreshold {
			out.AtRiskCount++
		}
	}
	if samples > 0 {
		out.AverageMetric = sum / float64(samples)
	}
	out.ComputedAt = time.Now()

	a.current.Store(&out)

	if a.metrics != nil {
		a.metrics.AnalyticsAtRisk.Set(float64(out.AtRiskCount))
		a.metrics.AnalyticsAvgMetric.Set(out.AverageMetric)
	}
	return clone(out)
}

// Snapshot returns the latest aggregate
func (a *Aggregator) Snapshot() models.Analytics {
	return clone(*a.current.Load())
}

// Run recomputes on every tick until ctx is cancelled
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.WithField("interval", a.interval).Info("Analytics aggregator started")
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Analytics aggregator stopped")
			return nil
		case <-ticker.C:
			a.Recompute()
		}
	}
}

func clone(in models.Analytics) models.Analytics {
	out := in
	out.StatusCounts = make(map[models.Status]int, len(in.StatusCounts))
	for k, v := range in.StatusCounts {
		out.StatusCounts[k] = v
	}
	return out
}
