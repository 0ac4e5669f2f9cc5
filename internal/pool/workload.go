// internal/pool/workload.go
package pool

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Workload kinds understood by SimulatedWorkload
const (
	WorkloadOptimization    = "optimization"
	WorkloadPatternAnalysis = "pattern_analysis"
	WorkloadPrediction      = "prediction"
)

// ErrInjectedFailure is returned by a simulated workload asked to fail
var ErrInjectedFailure = errors.New("simulated workload failure")

// SimulatedWorkload returns a task that holds its slot for duration and then produces
// an opaque result for kind. Setting params["fail"] to true makes it fail instead.
func SimulatedWorkload(kind string, params map[string]any, duration time.Duration) Task {
	return func(ctx context.Context) (any, error) {
		timer := time.NewTimer(duration)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		if fail, _ := params["fail"].(bool); fail {
			return nil, ErrInjectedFailure
		}

		return map[string]any{
			"type":           kind,
			"processingTime": duration.Seconds(),
			"result":         workloadResult(kind, params),
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		}, nil
	}
}

func workloadResult(kind string, params map[string]any) map[string]any {
	switch kind {
	case WorkloadOptimization:
		n := 1
		if vars, ok := params["variables"].([]any); ok && len(vars) > 0 {
			n = len(vars)
		}
		solution := make([]float64, n)
		for i := range solution {
			solution[i] = rand.Float64()
		}
		return map[string]any{
			"optimalSolution":   solution,
			"optimizationScore": 0.8 + rand.Float64()*0.2,
		}
	case WorkloadPatternAnalysis:
		return map[string]any{
			"patternsFound":     5 + rand.IntN(15),
			"patternConfidence": 0.7 + rand.Float64()*0.25,
		}
	case WorkloadPrediction:
		return map[string]any{
			"prediction":         rand.Float64(),
			"confidenceInterval": []float64{0.1 + rand.Float64()*0.2, 0.7 + rand.Float64()*0.2},
		}
	default:
		return map[string]any{"status": "completed", "data": params}
	}
}
