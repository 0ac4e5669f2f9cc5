// internal/rules/engine.go
package rules

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/fawad-mazhar/cmdhub/internal/metrics"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

// EscalationHandler is invoked by name from a rule's escalation path
type EscalationHandler func(ctx context.Context, rule *Rule, status models.SystemStatus) error

// Advisor produces a decision-support recommendation for a status
type Advisor interface {
	Advise(ctx context.Context, status models.SystemStatus) (any, error)
}

// Offloader hands follow-up analysis of a fired rule to the execution pool
type Offloader interface {
	Offload(ctx context.Context, rule *Rule, status models.SystemStatus) error
}

// EventSink receives alert events
type EventSink interface {
	LogEvent(ctx context.Context, event models.CommandEvent) models.CommandEvent
}

type streakKey struct {
	rule   string
	entity string
}

// AlertPayload is attached to alert events
type AlertPayload struct {
	RuleID         string   `json:"ruleId"`
	RuleName       string   `json:"ruleName"`
	Severity       Severity `json:"severity"`
	SystemID       string   `json:"systemId"`
	Consecutive    int      `json:"consecutive"`
	Escalation     string   `json:"escalation,omitempty"`
	Recommendation any      `json:"recommendation,omitempty"`
}

// Engine evaluates registered rules, in registration order, against status updates
type Engine struct {
	mu       sync.RWMutex
	rules    []*Rule
	byID     map[string]*Rule
	handlers map[string]EscalationHandler

	streakMu sync.Mutex
	streaks  map[streakKey]int

	alerts atomic.Int64

	sink      EventSink
	advisor   Advisor
	offloader Offloader
	logger    logrus.FieldLogger
	metrics   *metrics.Metrics
}

func NewEngine(sink EventSink, logger logrus.FieldLogger, m *metrics.Metrics) *Engine {
	return &Engine{
		byID:     make(map[string]*Rule),
		handlers: make(map[string]EscalationHandler),
		streaks:  make(map[streakKey]int),
		sink:     sink,
		logger:   logger.WithField("component", "rules"),
		metrics:  m,
	}
}

// SetAdvisor wires the decision-support collaborator used by UseDecisionSupport rules
func (e *Engine) SetAdvisor(a Advisor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advisor = a
}

// SetOffloader wires the execution pool collaborator used by UseBoundedPool rules
func (e *Engine) SetOffloader(o Offloader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offloader = o
}

// Register adds a rule. The rule is copied; later changes to the argument have no effect.
func (e *Engine) Register(rule Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule without id")
	}
	if rule.Condition == nil {
		return fmt.Errorf("rule %s: condition is required", rule.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.byID[rule.ID]; exists {
		return fmt.Errorf("rule %s already registered", rule.ID)
	}

	r := rule
	r.Actions = append([]Action(nil), rule.Actions...)
	r.EscalationPath = append([]string(nil), rule.EscalationPath...)
	if r.Name == "" {
		r.Name = r.ID
	}

	e.rules = append(e.rules, &r)
	e.byID[r.ID] = &r
	return nil
}

// RegisterEscalationHandler binds a name used in escalation paths to a handler
func (e *Engine) RegisterEscalationHandler(name string, handler EscalationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = handler
}

// Rules returns the registered rule ids in evaluation order
func (e *Engine) Rules() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, len(e.rules))
	for i, r := range e.rules {
		ids[i] = r.ID
	}
	return ids
}

// AlertCount returns the total number of rule firings
func (e *Engine) AlertCount() int64 {
	return e.alerts.Load()
}

// Evaluate runs every rule whose condition holds for status and returns the ids of
// the rules that fired, in registration order. Action failures never propagate.
func (e *Engine) Evaluate(ctx context.Context, status models.SystemStatus) []string {
	e.mu.RLock()
	rules := append([]*Rule(nil), e.rules...)
	advisor, offloader := e.advisor, e.offloader
	e.mu.RUnlock()

	var fired []string
	for _, rule := range rules {
		holds := e.check(rule, status)
		consecutive, resolved := e.track(rule, status.ID, holds)

		if resolved {
			e.resolve(ctx, rule, status)
		}
		if !holds {
			continue
		}

		fired = append(fired, rule.ID)
		e.fire(ctx, rule, status, consecutive, advisor, offloader)
	}

	return fired
}

func (e *Engine) check(rule *Rule, status models.SystemStatus) (holds bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("rule", rule.ID).Errorf("Rule condition panicked: %v", r)
			holds = false
		}
	}()
	return rule.Condition(status.Clone())
}

// track updates the consecutive-fire counter and reports whether a previously firing
// condition just cleared
func (e *Engine) track(rule *Rule, entityID string, holds bool) (int, bool) {
	key := streakKey{rule: rule.ID, entity: entityID}

	e.streakMu.Lock()
	defer e.streakMu.Unlock()

	if holds {
		e.streaks[key]++
		return e.streaks[key], false
	}

	prev := e.streaks[key]
	delete(e.streaks, key)
	return 0, prev > 0
}

func (e *Engine) fire(ctx context.Context, rule *Rule, status models.SystemStatus, consecutive int, advisor Advisor, offloader Offloader) {
	e.alerts.Add(1)
	if e.metrics != nil {
		e.metrics.RulesFired.WithLabelValues(rule.ID, string(rule.Severity)).Inc()
	}

	log := e.logger.WithFields(logrus.Fields{
		"rule":        rule.ID,
		"system":      status.ID,
		"consecutive": consecutive,
	})

	handlerName, escalating := rule.escalationStep(consecutive)

	if !escalating || rule.EscalationMode == EscalateInAddition {
		for _, action := range rule.Actions {
			e.runAction(ctx, rule, action, status)
		}
	}

	payload := AlertPayload{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Severity:    rule.Severity,
		SystemID:    status.ID,
		Consecutive: consecutive,
	}

	if escalating {
		payload.Escalation = handlerName
		e.escalate(ctx, rule, handlerName, status)
	}

	if rule.UseDecisionSupport && advisor != nil {
		rec, err := advisor.Advise(ctx, status.Clone())
		if err != nil {
			log.WithError(err).Warn("Decision support failed")
		} else {
			payload.Recommendation = rec
		}
	}

	if rule.UseBoundedPool && offloader != nil {
		if err := offloader.Offload(ctx, rule, status.Clone()); err != nil {
			log.WithError(err).Warn("Failed to offload rule analysis")
		}
	}

	log.Info("Alert triggered")

	if e.sink != nil {
		event := models.NewCommandEvent(models.EventAlertTriggered, rule.Severity.Priority(), payload)
		event.CorrelationID = status.ID
		e.sink.LogEvent(ctx, event)
	}
}

func (e *Engine) runAction(ctx context.Context, rule *Rule, action Action, status models.SystemStatus) {
	defer func() {
		if r := recover(); r != nil {
			e.actionFailed(rule, action, fmt.Errorf("panic: %v", r))
		}
	}()

	if action.Run == nil {
		return
	}
	if err := action.Run(ctx, status.Clone()); err != nil {
		e.actionFailed(rule, action, err)
	}
}

func (e *Engine) actionFailed(rule *Rule, action Action, err error) {
	if e.metrics != nil {
		e.metrics.ActionFailures.WithLabelValues(rule.ID, action.Name).Inc()
	}
	e.logger.WithError(err).WithFields(logrus.Fields{
		"rule":   rule.ID,
		"action": action.Name,
	}).Error("Rule action failed")
}

func (e *Engine) escalate(ctx context.Context, rule *Rule, name string, status models.SystemStatus) {
	e.mu.RLock()
	handler, ok := e.handlers[name]
	e.mu.RUnlock()

	log := e.logger.WithFields(logrus.Fields{"rule": rule.ID, "handler": name, "system": status.ID})
	if !ok {
		log.Warn("Escalation handler not registered")
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Escalation handler panicked: %v", r)
			}
		}()
		if err := handler(ctx, rule, status.Clone()); err != nil {
			log.WithError(err).Error("Escalation handler failed")
		}
	}()

	if e.sink != nil {
		event := models.NewCommandEvent(models.EventAlertEscalated, models.PriorityCritical, map[string]string{
			"ruleId":   rule.ID,
			"handler":  name,
			"systemId": status.ID,
		})
		event.CorrelationID = status.ID
		e.sink.LogEvent(ctx, event)
	}
}

func (e *Engine) resolve(ctx context.Context, rule *Rule, status models.SystemStatus) {
	if !rule.AutoResolve {
		return
	}

	if rule.OnResolve != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.WithField("rule", rule.ID).Errorf("Resolve hook panicked: %v", r)
				}
			}()
			rule.OnResolve(ctx, status.Clone())
		}()
	}

	if e.sink != nil {
		event := models.NewCommandEvent(models.EventAlertResolved, models.PriorityLow, map[string]string{
			"ruleId":   rule.ID,
			"systemId": status.ID,
		})
		event.CorrelationID = status.ID
		e.sink.LogEvent(ctx, event)
	}
}
