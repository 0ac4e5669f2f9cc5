// internal/hub/defaults.go
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fawad-mazhar/cmdhub/internal/entity"
	"github.com/fawad-mazhar/cmdhub/internal/models"
	"github.com/fawad-mazhar/cmdhub/internal/module"
	"github.com/fawad-mazhar/cmdhub/internal/pool"
	"github.com/fawad-mazhar/cmdhub/internal/rules"
)

// Default rule ids
const (
	RuleCriticalProbability = "critical-if-probability-above-0.8"
	RuleDegradedStatus      = "degraded-status"
	RuleOfflineSystem       = "offline-system"
)

// Escalation handler names
const (
	EscalationPageOncall    = "page-oncall"
	EscalationNotifyCommand = "notify-command"
)

// Inbound channels with default routes
const (
	ChannelSystemStatus       = "system-status"
	ChannelPredictiveAlert    = "predictive-alert"
	ChannelMaintenanceRequest = "maintenance-request"
)

// Outbound channels used by the default handlers
const (
	NotificationChannel = "cmdhub.notifications"
	EscalationChannel   = "cmdhub.escalations"
)

const offlineEscalateAfter = 2

func (h *Hub) registerDefaults() error {
	for _, rule := range h.defaultRules() {
		if err := h.rules.Register(rule); err != nil {
			return fmt.Errorf("failed to register rule %s: %w", rule.ID, err)
		}
	}

	h.rules.RegisterEscalationHandler(EscalationPageOncall, h.pageOncall)
	h.rules.RegisterEscalationHandler(EscalationNotifyCommand, h.notifyCommand)

	h.pipeline.Route(ChannelSystemStatus, h.routeSystemStatus)
	h.pipeline.Route(ChannelPredictiveAlert, h.routePredictiveAlert)
	h.pipeline.Route(ChannelMaintenanceRequest, h.routeMaintenanceRequest)

	h.queue.Handle(models.SideEffectScheduleMaintenance, h.sideEffect(h.scheduleMaintenance))
	h.queue.Handle(models.SideEffectApplyOptimization, h.sideEffect(h.applyOptimization))
	h.queue.Handle(models.SideEffectNotify, h.sideEffect(h.notify))
	return nil
}

func (h *Hub) defaultRules() []rules.Rule {
	return []rules.Rule{
		{
			ID:       RuleCriticalProbability,
			Name:     "Critical failure probability",
			Severity: rules.SeverityCritical,
			Condition: func(s models.SystemStatus) bool {
				return s.FailureProbability() > 0.8
			},
			Actions: []rules.Action{
				h.oncePerStreak(RuleCriticalProbability, "schedule-maintenance", h.enqueueAction(models.SideEffectScheduleMaintenance)),
				h.oncePerStreak(RuleCriticalProbability, "broadcast-alert", h.broadcastAlert(RuleCriticalProbability)),
			},
			UseDecisionSupport: true,
			UseBoundedPool:     true,
			AutoResolve:        true,
			OnResolve:          h.clearFollowups(RuleCriticalProbability),
		},
		{
			ID:       RuleDegradedStatus,
			Name:     "Degraded system",
			Severity: rules.SeverityMedium,
			Condition: func(s models.SystemStatus) bool {
				return s.Status == models.StatusDegraded
			},
			Actions: []rules.Action{
				h.oncePerStreak(RuleDegradedStatus, "apply-optimization", h.enqueueAction(models.SideEffectApplyOptimization)),
			},
			AutoResolve: true,
			OnResolve:   h.clearFollowups(RuleDegradedStatus),
		},
		{
			ID:       RuleOfflineSystem,
			Name:     "System offline",
			Severity: rules.SeverityHigh,
			Condition: func(s models.SystemStatus) bool {
				return s.Status == models.StatusOffline
			},
			Actions: []rules.Action{
				h.oncePerStreak(RuleOfflineSystem, "notify", h.enqueueAction(models.SideEffectNotify)),
				h.oncePerStreak(RuleOfflineSystem, "broadcast-alert", h.broadcastAlert(RuleOfflineSystem)),
			},
			AutoResolve:    true,
			OnResolve:      h.clearFollowups(RuleOfflineSystem),
			EscalationPath: []string{EscalationPageOncall, EscalationNotifyCommand},
			EscalateAfter:  offlineEscalateAfter,
			EscalationMode: rules.EscalateInAddition,
		},
	}
}

type followupKey struct {
	rule   string
	action string
	system string
}

// oncePerStreak makes run a no-op on repeated firings of the same rule for the same
// system until the alert resolves. A failed run is retried on the next firing.
func (h *Hub) oncePerStreak(ruleID, name string, run func(context.Context, models.SystemStatus) error) rules.Action {
	return rules.Action{
		Name: name,
		Run: func(ctx context.Context, s models.SystemStatus) error {
			key := followupKey{rule: ruleID, action: name, system: s.ID}

			h.followMu.Lock()
			if _, done := h.followups[key]; done {
				h.followMu.Unlock()
				return nil
			}
			h.followups[key] = struct{}{}
			h.followMu.Unlock()

			if err := run(ctx, s); err != nil {
				h.followMu.Lock()
				delete(h.followups, key)
				h.followMu.Unlock()
				return err
			}
			return nil
		},
	}
}

func (h *Hub) clearFollowups(ruleID string) func(context.Context, models.SystemStatus) {
	return func(_ context.Context, s models.SystemStatus) {
		h.followMu.Lock()
		defer h.followMu.Unlock()
		for key := range h.followups {
			if key.rule == ruleID && key.system == s.ID {
				delete(h.followups, key)
			}
		}
	}
}

func (h *Hub) enqueueAction(kind string) func(context.Context, models.SystemStatus) error {
	return func(_ context.Context, s models.SystemStatus) error {
		params := map[string]any{"status": string(s.Status)}
		if s.PredictedFailure != nil {
			params["probability"] = s.PredictedFailure.Probability
			params["recommendedActions"] = s.PredictedFailure.RecommendedActions
		}
		return h.queue.Enqueue(models.NewSideEffect(kind, s.ID, params))
	}
}

func (h *Hub) broadcastAlert(ruleID string) func(context.Context, models.SystemStatus) error {
	return func(ctx context.Context, s models.SystemStatus) error {
		h.telemetry.Broadcast(ctx, "alert", map[string]any{
			"ruleId":   ruleID,
			"systemId": s.ID,
			"status":   s.Status,
		})
		return nil
	}
}

func (h *Hub) pageOncall(_ context.Context, rule *rules.Rule, s models.SystemStatus) error {
	return h.queue.Enqueue(models.NewSideEffect(models.SideEffectNotify, s.ID, map[string]any{
		"audience": "oncall",
		"ruleId":   rule.ID,
		"severity": string(rule.Severity),
	}))
}

func (h *Hub) notifyCommand(ctx context.Context, rule *rules.Rule, s models.SystemStatus) error {
	_, err := h.modules.Invoke(ctx, module.Communication, EscalationChannel, map[string]any{
		"audience": "command",
		"ruleId":   rule.ID,
		"systemId": s.ID,
		"status":   s.Status,
	})
	return err
}

// decodePayload unmarshals an event payload, which is raw JSON for inbound events
func decodePayload(event models.CommandEvent, v any) error {
	raw, ok := event.Payload.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(event.Payload); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, v)
}

func (h *Hub) routeSystemStatus(ctx context.Context, event models.CommandEvent) error {
	var status models.SystemStatus
	if err := decodePayload(event, &status); err != nil {
		return fmt.Errorf("decoding system status: %w", err)
	}
	_, _, err := h.entities.Upsert(ctx, status)
	return err
}

type predictiveAlert struct {
	SystemID           string   `json:"systemId"`
	Status             string   `json:"status"`
	Probability        float64  `json:"probability"`
	TimeToFailureHours float64  `json:"timeToFailureHours"`
	RecommendedActions []string `json:"recommendedActions"`
}

func (h *Hub) routePredictiveAlert(ctx context.Context, event models.CommandEvent) error {
	var alert predictiveAlert
	if err := decodePayload(event, &alert); err != nil {
		return fmt.Errorf("decoding predictive alert: %w", err)
	}
	if alert.SystemID == "" {
		return fmt.Errorf("predictive alert without systemId")
	}

	status, err := h.entities.Get(alert.SystemID)
	var notFound *entity.EntityNotFoundError
	switch {
	case errors.As(err, &notFound):
		status = models.SystemStatus{ID: alert.SystemID, Status: models.StatusOperational}
	case err != nil:
		return err
	}
	if alert.Status != "" {
		status.Status = models.Status(alert.Status)
	}
	status.LastUpdated = time.Time{}
	status.PredictedFailure = &models.PredictedFailure{
		Probability:        alert.Probability,
		TimeToFailure:      time.Duration(alert.TimeToFailureHours * float64(time.Hour)),
		RecommendedActions: alert.RecommendedActions,
	}

	_, _, err = h.entities.Upsert(ctx, status)
	return err
}

type maintenanceRequest struct {
	SystemID string         `json:"systemId"`
	Params   map[string]any `json:"params"`
}

func (h *Hub) routeMaintenanceRequest(_ context.Context, event models.CommandEvent) error {
	var req maintenanceRequest
	if err := decodePayload(event, &req); err != nil {
		return fmt.Errorf("decoding maintenance request: %w", err)
	}
	if req.SystemID == "" {
		return fmt.Errorf("maintenance request without systemId")
	}
	return h.queue.Enqueue(models.NewSideEffect(models.SideEffectScheduleMaintenance, req.SystemID, req.Params))
}

// sideEffect records the outcome of every processed side effect in the event log
func (h *Hub) sideEffect(fn func(context.Context, models.SideEffect) error) func(context.Context, models.SideEffect) error {
	return func(ctx context.Context, msg models.SideEffect) error {
		err := fn(ctx, msg)

		payload := map[string]any{
			"id":     msg.ID,
			"kind":   msg.Kind,
			"target": msg.Target,
		}
		priority := models.PriorityLow
		if err != nil {
			payload["error"] = err.Error()
			priority = models.PriorityMedium
		}
		event := models.NewCommandEvent(models.EventSideEffect, priority, payload)
		event.CorrelationID = msg.Target
		h.pipeline.LogEvent(ctx, event)
		return err
	}
}

func (h *Hub) scheduleMaintenance(_ context.Context, msg models.SideEffect) error {
	h.logger.WithFields(logrus.Fields{
		"system": msg.Target,
		"params": msg.Params,
	}).Info("Maintenance scheduled")
	return nil
}

func (h *Hub) applyOptimization(ctx context.Context, msg models.SideEffect) error {
	params := map[string]any{"systemId": msg.Target}
	for k, v := range msg.Params {
		params[k] = v
	}
	_, err := h.pool.SubmitAny(context.WithoutCancel(ctx), pool.SimulatedWorkload(pool.WorkloadOptimization, params, module.DefaultWorkloadDuration))
	return err
}

func (h *Hub) notify(ctx context.Context, msg models.SideEffect) error {
	notice := map[string]any{
		"systemId": msg.Target,
		"params":   msg.Params,
	}
	h.telemetry.Broadcast(ctx, "notification", notice)

	data, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	return h.bus.Publish(ctx, NotificationChannel, data)
}
