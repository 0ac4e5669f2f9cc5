package entity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawad-mazhar/cmdhub/internal/models"
)

type recorder struct {
	mu        sync.Mutex
	evaluated []models.SystemStatus
	events    []models.CommandEvent
}

func (r *recorder) Evaluate(_ context.Context, s models.SystemStatus) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluated = append(r.evaluated, s)
	return nil
}

func (r *recorder) LogEvent(_ context.Context, e models.CommandEvent) models.CommandEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return e
}

func TestRegistry_UpsertReturnsPreviousAndTriggersEvaluation(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec, rec, nil)
	ctx := context.Background()

	_, existed, err := r.Upsert(ctx, models.SystemStatus{ID: "sys-1", Metrics: map[string]float64{"load": 1}})
	require.NoError(t, err)
	assert.False(t, existed)

	prev, existed, err := r.Upsert(ctx, models.SystemStatus{ID: "sys-1", Status: models.StatusDegraded})
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, models.StatusOperational, prev.Status)
	assert.Equal(t, 1.0, prev.Metrics["load"])

	require.Len(t, rec.evaluated, 2)
	assert.Equal(t, models.StatusDegraded, rec.evaluated[1].Status)

	require.Len(t, rec.events, 2)
	assert.Equal(t, models.EventSystemMonitored, rec.events[0].Type)
	assert.Equal(t, "sys-1", rec.events[0].CorrelationID)
	assert.Equal(t, models.PriorityMedium, rec.events[1].Priority)
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	_, _, err := r.Upsert(context.Background(), models.SystemStatus{ID: "a", Metrics: map[string]float64{"load": 1}})
	require.NoError(t, err)

	got, err := r.Get("a")
	require.NoError(t, err)
	got.Metrics["load"] = 99

	again, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Metrics["load"])

	_, err = r.Get("missing")
	var notFound *EntityNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "missing", notFound.ID)
}

func TestRegistry_RejectsInvalidStatus(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	_, _, err := r.Upsert(context.Background(), models.SystemStatus{})
	assert.Error(t, err)

	_, _, err = r.Upsert(context.Background(), models.SystemStatus{ID: "a", Status: "MELTING"})
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RejectsProbabilityOutsideUnitRange(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec, rec, nil)

	for _, p := range []float64{1.7, -0.4, math.NaN(), math.Inf(1)} {
		_, _, err := r.Upsert(context.Background(), models.SystemStatus{
			ID:               "sys",
			PredictedFailure: &models.PredictedFailure{Probability: p},
		})
		var invalid *InvalidStatusError
		require.ErrorAs(t, err, &invalid, "probability %v", p)
		assert.Equal(t, "sys", invalid.ID)
	}
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, rec.evaluated)
	assert.Empty(t, rec.events)

	for _, p := range []float64{0, 0.5, 1} {
		_, _, err := r.Upsert(context.Background(), models.SystemStatus{
			ID:               "sys",
			PredictedFailure: &models.PredictedFailure{Probability: p},
		})
		require.NoError(t, err, "probability %v", p)
	}

	r.Restore([]models.SystemStatus{{ID: "bad", PredictedFailure: &models.PredictedFailure{Probability: 3}}})
	_, err := r.Get("bad")
	assert.Error(t, err)
}

func TestRegistry_ListIsRestartable(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	for i := 0; i < 3; i++ {
		_, _, err := r.Upsert(context.Background(), models.SystemStatus{ID: fmt.Sprintf("sys-%d", i)})
		require.NoError(t, err)
	}

	seq := r.List()
	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	assert.Equal(t, 3, count())
	assert.Equal(t, 3, count())

	for range seq {
		break
	}
}

func TestRegistry_RestoreDoesNotEmit(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec, rec, nil)
	r.Restore([]models.SystemStatus{{ID: "a"}, {ID: "b"}, {}})

	assert.Equal(t, 2, r.Len())
	assert.Empty(t, rec.events)
	assert.Empty(t, rec.evaluated)
}

func TestRegistry_ConcurrentUpserts(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec, rec, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = r.Upsert(context.Background(), models.SystemStatus{ID: fmt.Sprintf("sys-%d", i%10)})
			_, _ = r.Get(fmt.Sprintf("sys-%d", i%10))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, r.Len())
	assert.Len(t, rec.events, 50)
}
