package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawad-mazhar/cmdhub/internal/logger"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

// blockingTask returns a task that runs until release is closed and then returns err
func blockingTask(release <-chan struct{}, err error) Task {
	return func(ctx context.Context) (any, error) {
		<-release
		return "done", err
	}
}

func newPool(t *testing.T, opts ...Option) *Pool {
	t.Helper()
	p := New(logger.Discard(), opts...)
	require.NoError(t, p.AddResource("compute-a", "Compute A", 2))
	return p
}

func inFlight(p *Pool, id string) int {
	for _, r := range p.Resources() {
		if r.ID == id {
			return len(r.CurrentTasks)
		}
	}
	return -1
}

func TestPool_CapacityScenario(t *testing.T) {
	p := newPool(t)
	ctx := context.Background()

	first := make(chan struct{})
	second := make(chan struct{})

	e1, err := p.Submit(ctx, "compute-a", blockingTask(first, nil))
	require.NoError(t, err)
	_, err = p.Submit(ctx, "compute-a", blockingTask(second, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, inFlight(p, "compute-a"))

	_, err = p.Submit(ctx, "compute-a", blockingTask(make(chan struct{}), nil))
	var busy *ResourceBusyError
	require.True(t, errors.As(err, &busy))
	assert.Equal(t, "compute-a", busy.ResourceID)
	assert.Equal(t, 2, inFlight(p, "compute-a"))

	close(first)
	result, err := e1.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, 1, inFlight(p, "compute-a"))

	third := make(chan struct{})
	_, err = p.Submit(ctx, "compute-a", blockingTask(third, nil))
	require.NoError(t, err)

	close(second)
	close(third)
	require.NoError(t, p.Wait(ctx))
	assert.Equal(t, 0, inFlight(p, "compute-a"))
}

func TestPool_FailingTaskReleasesSlot(t *testing.T) {
	p := newPool(t)
	ctx := context.Background()

	release := make(chan struct{})
	close(release)

	exec, err := p.Submit(ctx, "compute-a", blockingTask(release, errors.New("task failed")))
	require.NoError(t, err)
	_, err = exec.Wait(ctx)
	assert.EqualError(t, err, "task failed")
	assert.Equal(t, 0, inFlight(p, "compute-a"))

	exec, err = p.Submit(ctx, "compute-a", func(context.Context) (any, error) { panic("crash") })
	require.NoError(t, err)
	_, err = exec.Wait(ctx)
	assert.ErrorContains(t, err, "panicked")
	assert.Equal(t, 0, inFlight(p, "compute-a"))
}

func TestPool_CapacityInvariantUnderConcurrency(t *testing.T) {
	p := newPool(t)
	ctx := context.Background()
	release := make(chan struct{})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		busy     int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Submit(ctx, "compute-a", blockingTask(release, nil))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else {
				busy++
			}
			assert.LessOrEqual(t, inFlight(p, "compute-a"), 2)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, accepted)
	assert.Equal(t, 48, busy)

	close(release)
	require.NoError(t, p.Wait(ctx))
}

func TestPool_SubmitAnyUsesDeclarationOrder(t *testing.T) {
	p := New(logger.Discard())
	require.NoError(t, p.AddResource("compute-1", "", 1))
	require.NoError(t, p.AddResource("compute-2", "", 1))
	ctx := context.Background()
	release := make(chan struct{})

	e1, err := p.SubmitAny(ctx, blockingTask(release, nil))
	require.NoError(t, err)
	e2, err := p.SubmitAny(ctx, blockingTask(release, nil))
	require.NoError(t, err)

	assert.Equal(t, "compute-1", e1.ResourceID)
	assert.Equal(t, "compute-2", e2.ResourceID)

	_, err = p.SubmitAny(ctx, blockingTask(release, nil))
	var busy *ResourceBusyError
	assert.True(t, errors.As(err, &busy))

	u := p.Utilization()
	assert.Equal(t, 2, u.InFlight)
	assert.Equal(t, 1.0, u.Overall)

	close(release)
	require.NoError(t, p.Wait(ctx))
}

func TestPool_UnknownResourceAndValidation(t *testing.T) {
	p := newPool(t)

	_, err := p.Submit(context.Background(), "nope", blockingTask(nil, nil))
	var notFound *ResourceNotFoundError
	assert.True(t, errors.As(err, &notFound))

	assert.Error(t, p.AddResource("compute-a", "", 1))
	assert.Error(t, p.AddResource("zero", "", 0))
	assert.Error(t, p.AddResource("", "", 1))
}

func TestPool_RateLimit(t *testing.T) {
	p := newPool(t, WithRateLimit(0.001, 1))
	ctx := context.Background()
	release := make(chan struct{})
	defer close(release)

	_, err := p.Submit(ctx, "compute-a", blockingTask(release, nil))
	require.NoError(t, err)

	_, err = p.Submit(ctx, "compute-a", blockingTask(release, nil))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, inFlight(p, "compute-a"))
}

type sink struct {
	mu     sync.Mutex
	events []models.CommandEvent
}

func (s *sink) LogEvent(_ context.Context, e models.CommandEvent) models.CommandEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return e
}

func (s *sink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func TestPool_EmitsCompletionEvents(t *testing.T) {
	s := &sink{}
	p := newPool(t, WithEventSink(s))
	ctx := context.Background()

	ok, err := p.Submit(ctx, "compute-a", SimulatedWorkload(WorkloadPrediction, nil, time.Millisecond))
	require.NoError(t, err)
	bad, err := p.Submit(ctx, "compute-a", SimulatedWorkload(WorkloadPrediction, map[string]any{"fail": true}, time.Millisecond))
	require.NoError(t, err)

	result, err := ok.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, WorkloadPrediction, result.(map[string]any)["type"])

	_, err = bad.Wait(ctx)
	assert.ErrorIs(t, err, ErrInjectedFailure)

	require.NoError(t, p.Wait(ctx))
	require.Eventually(t, func() bool { return len(s.types()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{models.EventTaskCompleted, models.EventTaskFailed}, s.types())
}

func TestExecution_WaitHonoursContext(t *testing.T) {
	p := newPool(t)
	release := make(chan struct{})
	defer close(release)

	exec, err := p.Submit(context.Background(), "compute-a", blockingTask(release, nil))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = exec.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, inFlight(p, "compute-a"))
}

func TestSimulatedWorkload_Kinds(t *testing.T) {
	ctx := context.Background()
	for _, kind := range []string{WorkloadOptimization, WorkloadPatternAnalysis, WorkloadPrediction, "echo"} {
		out, err := SimulatedWorkload(kind, map[string]any{"variables": []any{1, 2, 3}}, 0)(ctx)
		require.NoError(t, err, kind)
		assert.Contains(t, out.(map[string]any), "result", kind)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := SimulatedWorkload(WorkloadPrediction, nil, time.Hour)(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}
