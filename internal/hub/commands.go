// internal/hub/commands.go
package hub

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fawad-mazhar/cmdhub/internal/models"
	"github.com/fawad-mazhar/cmdhub/internal/module"
)

// CommandOptions controls how ExecuteCommand runs a module
type CommandOptions struct {
	UseBoundedPool     bool            `json:"useBoundedPool"`
	UseDecisionSupport bool            `json:"useDecisionSupport"`
	Priority           models.Priority `json:"priority"`
}

// CommandResult is returned by ExecuteCommand and attached to command-executed events
type CommandResult struct {
	Command        string        `json:"command"`
	ResourceID     string        `json:"resourceId,omitempty"`
	Result         any           `json:"result,omitempty"`
	Recommendation any           `json:"recommendation,omitempty"`
	Error          string        `json:"error,omitempty"`
	Elapsed        time.Duration `json:"elapsed"`
}

// ExecuteCommand invokes module name with params, directly or on the execution pool.
// A pool at capacity fails the command with a *pool.ResourceBusyError.
func (h *Hub) ExecuteCommand(ctx context.Context, name string, params map[string]any, opts CommandOptions) (CommandResult, error) {
	if opts.Priority == "" {
		opts.Priority = models.PriorityMedium
	}

	start := time.Now()
	out := CommandResult{Command: name}

	var err error
	if opts.UseBoundedPool {
		exec, serr := h.pool.SubmitAny(ctx, func(ctx context.Context) (any, error) {
			return h.modules.Invoke(ctx, name, params)
		})
		if serr != nil {
			err = serr
		} else {
			out.ResourceID = exec.ResourceID
			out.Result, err = exec.Wait(ctx)
		}
	} else {
		out.Result, err = h.modules.Invoke(ctx, name, params)
	}

	if opts.UseDecisionSupport && err == nil {
		rec, derr := h.modules.Invoke(ctx, module.DecisionSupport, params)
		if derr != nil {
			h.logger.WithError(derr).WithField("command", name).Warn("Decision support unavailable")
		} else {
			out.Recommendation = rec
		}
	}

	out.Elapsed = time.Since(start)
	if err != nil {
		out.Error = err.Error()
	}

	h.logger.WithFields(logrus.Fields{
		"command": name,
		"pool":    opts.UseBoundedPool,
		"elapsed": out.Elapsed,
	}).Debug("Command executed")

	h.pipeline.LogEvent(ctx, models.NewCommandEvent(models.EventCommandExecuted, opts.Priority, out))
	return out, err
}

// GenerateReport returns a read-only diagnostic snapshot of the hub
func (h *Hub) GenerateReport() models.Report {
	return models.Report{
		EntityCount:         h.entities.Len(),
		AlertCount:          h.rules.AlertCount(),
		EventLogSize:        h.log.Size(),
		QueueDepth:          h.queue.Len(),
		TelemetryClients:    h.telemetry.Count(),
		ResourceUtilization: h.pool.Utilization(),
		Modules:             h.modules.List(),
		Analytics:           h.analytics.Snapshot(),
		GeneratedAt:         time.Now(),
	}
}
