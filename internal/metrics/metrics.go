// internal/metrics/metrics.go
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cmdhub"

// Metrics holds the Prometheus collectors shared by hub components.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsLogged       *prometheus.CounterVec
	EventLogSize       prometheus.Gauge
	BusPublishFailures prometheus.Counter
	InboundDropped     prometheus.Counter
	EntityCount        prometheus.Gauge
	RulesFired         *prometheus.CounterVec
	ActionFailures     *prometheus.CounterVec
	ModuleInvocations  *prometheus.CounterVec
	ModuleDuration     *prometheus.HistogramVec
	PoolInFlight       *prometheus.GaugeVec
	PoolRejected       *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	SideEffects        *prometheus.CounterVec
	TelemetryClients   prometheus.Gauge
	AnalyticsAtRisk    prometheus.Gauge
	AnalyticsAvgMetric prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		EventsLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_logged_total",
			Help: "Events appended to the event log",
		}, []string{"type", "source"}),
		EventLogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "event_log_size",
			Help: "Current number of entries in the bounded event log",
		}),
		BusPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bus_publish_failures_total",
			Help: "Failed publishes to the external bus",
		}),
		InboundDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bus_inbound_dropped_total",
			Help: "Inbound bus messages discarded because they could not be decoded",
		}),
		EntityCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "entities",
			Help: "Monitored systems in the entity registry",
		}),
		RulesFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rules_fired_total",
			Help: "Alert rule firings",
		}, []string{"rule", "severity"}),
		ActionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rule_action_failures_total",
			Help: "Rule actions that returned an error or panicked",
		}, []string{"rule", "action"}),
		ModuleInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "module_invocations_total",
			Help: "Module invocations by outcome",
		}, []string{"module", "outcome"}),
		ModuleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "module_invocation_seconds",
			Help:    "Module invocation wall-clock duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"module"}),
		PoolInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_in_flight",
			Help: "Tasks currently running per execution resource",
		}, []string{"resource"}),
		PoolRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_rejected_total",
			Help: "Submissions rejected by the execution pool",
		}, []string{"resource", "reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "side_effect_queue_depth",
			Help: "Pending side-effect messages",
		}),
		SideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "side_effects_total",
			Help: "Processed side-effect messages by kind and outcome",
		}, []string{"kind", "outcome"}),
		TelemetryClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "telemetry_subscribers",
			Help: "Connected live telemetry subscribers",
		}),
		AnalyticsAtRisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "analytics_at_risk_entities",
			Help: "Entities whose predicted failure probability exceeds 0.5",
		}),
		AnalyticsAvgMetric: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "analytics_average_metric",
			Help: "Average of the configured analytics metric across entities",
		}),
	}

	collectors := []prometheus.Collector{
		m.EventsLogged, m.EventLogSize, m.BusPublishFailures, m.InboundDropped,
		m.EntityCount, m.RulesFired, m.ActionFailures, m.ModuleInvocations,
		m.ModuleDuration, m.PoolInFlight, m.PoolRejected, m.QueueDepth,
		m.SideEffects, m.TelemetryClients, m.AnalyticsAtRisk, m.AnalyticsAvgMetric,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}
