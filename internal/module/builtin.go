// internal/module/builtin.go
package module

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fawad-mazhar/cmdhub/internal/models"
	"github.com/fawad-mazhar/cmdhub/internal/pool"
)

// Built-in module ids
const (
	Monitoring      = "monitoring"
	Control         = "control"
	DecisionSupport = "decision-support"
	Predictive      = "predictive"
	Communication   = "communication"
	Compute         = "compute"
)

// DefaultWorkloadDuration is how long a compute workload holds its pool slot
const DefaultWorkloadDuration = 100 * time.Millisecond

// StatusReader looks up entity snapshots
type StatusReader interface {
	Get(id string) (models.SystemStatus, error)
}

// SideEffectQueue accepts follow-up work for the drain loop
type SideEffectQueue interface {
	Enqueue(msg models.SideEffect) error
}

// Publisher sends raw payloads to the external bus
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// TaskRunner runs tasks on the bounded execution pool
type TaskRunner interface {
	SubmitAny(ctx context.Context, task pool.Task) (*pool.Execution, error)
}

// BuiltinDeps are the collaborators of the built-in modules
type BuiltinDeps struct {
	Statuses         StatusReader
	Queue            SideEffectQueue
	Publisher        Publisher
	Pool             TaskRunner
	WorkloadDuration time.Duration
}

// Recommendation is the opaque output of the decision-support module
type Recommendation struct {
	SystemID   string   `json:"systemId"`
	Urgency    string   `json:"urgency"`
	Actions    []string `json:"actions"`
	Confidence float64  `json:"confidence"`
}

// RegisterBuiltins registers the six standard modules. The predictive module is
// registered before the modules that depend on it.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	if deps.WorkloadDuration <= 0 {
		deps.WorkloadDuration = DefaultWorkloadDuration
	}

	builtins := []struct {
		descriptor models.ModuleDescriptor
		handler    Handler
	}{
		{
			descriptor: models.ModuleDescriptor{
				ID:                   Monitoring,
				Name:                 "System Monitoring",
				Category:             models.CategoryMonitoring,
				Priority:             models.PriorityHigh,
				PerformanceThreshold: 50 * time.Millisecond,
			},
			handler: monitoringHandler(deps),
		},
		{
			descriptor: models.ModuleDescriptor{
				ID:                   Predictive,
				Name:                 "Predictive Maintenance",
				Category:             models.CategoryPredictive,
				Priority:             models.PriorityMedium,
				PerformanceThreshold: 100 * time.Millisecond,
			},
			handler: predictiveHandler(deps),
		},
		{
			descriptor: models.ModuleDescriptor{
				ID:                   DecisionSupport,
				Name:                 "Decision Support",
				Category:             models.CategoryDecisionSupport,
				Priority:             models.PriorityHigh,
				PerformanceThreshold: 100 * time.Millisecond,
				Dependencies:         []string{Predictive},
			},
			handler: decisionSupportHandler(deps),
		},
		{
			descriptor: models.ModuleDescriptor{
				ID:                   Control,
				Name:                 "Operations Control",
				Category:             models.CategoryControl,
				Priority:             models.PriorityCritical,
				PerformanceThreshold: 50 * time.Millisecond,
			},
			handler: controlHandler(deps),
		},
		{
			descriptor: models.ModuleDescriptor{
				ID:                   Communication,
				Name:                 "Communication",
				Category:             models.CategoryCommunication,
				Priority:             models.PriorityMedium,
				PerformanceThreshold: 200 * time.Millisecond,
			},
			handler: communicationHandler(deps),
		},
		{
			descriptor: models.ModuleDescriptor{
				ID:                   Compute,
				Name:                 "Compute",
				Category:             models.CategoryCompute,
				Priority:             models.PriorityLow,
				PerformanceThreshold: 2 * deps.WorkloadDuration,
				Dependencies:         []string{Predictive},
			},
			handler: computeHandler(deps),
		},
	}

	for _, b := range builtins {
		b.descriptor.Enabled = true
		if err := r.Register(b.descriptor, b.handler); err != nil {
			return fmt.Errorf("registering builtin %s: %w", b.descriptor.ID, err)
		}
	}
	return nil
}

// Score is the opaque failure model behind the predictive module
func Score(status models.SystemStatus) *models.PredictedFailure {
	var p float64
	switch status.Status {
	case models.StatusDegraded:
		p = 0.35
	case models.StatusCritical:
		p = 0.7
	case models.StatusOffline:
		p = 0.95
	default:
		p = 0.05
	}
	if load, ok := status.Metrics["load"]; ok {
		p += 0.25 * clamp(load/100)
	}
	p = clamp(p)

	pf := &models.PredictedFailure{
		Probability:   p,
		TimeToFailure: time.Duration((1 - p) * float64(72*time.Hour)),
	}
	switch {
	case p > 0.8:
		pf.RecommendedActions = []string{"isolate-system", "schedule-maintenance", "notify-command"}
	case p > 0.5:
		pf.RecommendedActions = []string{"schedule-maintenance", "increase-monitoring"}
	case p > 0.3:
		pf.RecommendedActions = []string{"increase-monitoring"}
	}
	return pf
}

// Recommend is the opaque decision model behind the decision-support module
func Recommend(status models.SystemStatus) Recommendation {
	pf := status.PredictedFailure
	if pf == nil {
		pf = Score(status)
	}

	rec := Recommendation{
		SystemID:   status.ID,
		Actions:    pf.RecommendedActions,
		Confidence: 0.6 + 0.4*pf.Probability,
	}
	switch {
	case pf.Probability > 0.8:
		rec.Urgency = "immediate"
	case pf.Probability > 0.5:
		rec.Urgency = "high"
	case pf.Probability > 0.3:
		rec.Urgency = "elevated"
	default:
		rec.Urgency = "routine"
		rec.Actions = []string{"continue-monitoring"}
	}
	return rec
}

func clamp(v float64) float64 {
	return max(0, min(1, v))
}

func monitoringHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, args ...any) (any, error) {
		id, err := systemID(args)
		if err != nil {
			return nil, err
		}
		return deps.Statuses.Get(id)
	}
}

func predictiveHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, args ...any) (any, error) {
		status, err := resolveStatus(deps, args)
		if err != nil {
			return nil, err
		}
		return Score(status), nil
	}
}

func decisionSupportHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, args ...any) (any, error) {
		status, err := resolveStatus(deps, args)
		if err != nil {
			return nil, err
		}
		return Recommend(status), nil
	}
}

// controlHandler queues a side effect: control(kind, target, params) or control(params)
// with "kind" and "target" keys.
func controlHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, args ...any) (any, error) {
		var kind, target string
		var params map[string]any

		if len(args) > 0 {
			if p, ok := args[0].(map[string]any); ok {
				params = p
				kind, _ = p["kind"].(string)
				target, _ = p["target"].(string)
			} else {
				kind, _ = args[0].(string)
				if len(args) > 1 {
					target, _ = args[1].(string)
				}
				if len(args) > 2 {
					params, _ = args[2].(map[string]any)
				}
			}
		}
		if kind == "" {
			return nil, fmt.Errorf("control: side effect kind is required")
		}

		msg := models.NewSideEffect(kind, target, params)
		if err := deps.Queue.Enqueue(msg); err != nil {
			return nil, fmt.Errorf("control: %w", err)
		}
		return msg.ID, nil
	}
}

// communicationHandler publishes a payload: communication(channel, payload) or
// communication(params) with "channel" and "message" keys.
func communicationHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, args ...any) (any, error) {
		var channel string
		var payload any

		if len(args) > 0 {
			if p, ok := args[0].(map[string]any); ok {
				channel, _ = p["channel"].(string)
				payload = p["message"]
			} else {
				channel, _ = args[0].(string)
				if len(args) > 1 {
					payload = args[1]
				}
			}
		}
		if channel == "" {
			return nil, fmt.Errorf("communication: channel is required")
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("communication: encoding payload: %w", err)
		}
		if err := deps.Publisher.Publish(ctx, channel, data); err != nil {
			return nil, fmt.Errorf("communication: publishing to %s: %w", channel, err)
		}
		return map[string]any{"channel": channel, "bytes": len(data)}, nil
	}
}

// computeHandler runs a simulated workload on the pool and waits for its result:
// compute(params) with a "type" key selecting the workload.
func computeHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, args ...any) (any, error) {
		params := map[string]any{}
		if len(args) > 0 {
			if p, ok := args[0].(map[string]any); ok {
				params = p
			}
		}
		kind, _ := params["type"].(string)

		exec, err := deps.Pool.SubmitAny(ctx, pool.SimulatedWorkload(kind, params, deps.WorkloadDuration))
		if err != nil {
			return nil, err
		}
		return exec.Wait(ctx)
	}
}

func systemID(args []any) (string, error) {
	if len(args) > 0 {
		switch v := args[0].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case map[string]any:
			if id, ok := v["systemId"].(string); ok && id != "" {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("system id argument is required")
}

// resolveStatus accepts either a status value or anything systemID understands
func resolveStatus(deps BuiltinDeps, args []any) (models.SystemStatus, error) {
	if len(args) > 0 {
		if s, ok := args[0].(models.SystemStatus); ok {
			return s, nil
		}
	}
	id, err := systemID(args)
	if err != nil {
		return models.SystemStatus{}, err
	}
	return deps.Statuses.Get(id)
}
