package module

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawad-mazhar/cmdhub/internal/logger"
	"github.com/fawad-mazhar/cmdhub/internal/models"
	"github.com/fawad-mazhar/cmdhub/internal/pool"
)

type statuses map[string]models.SystemStatus

func (s statuses) Get(id string) (models.SystemStatus, error) {
	st, ok := s[id]
	if !ok {
		return models.SystemStatus{}, errors.New("not found")
	}
	return st, nil
}

type queue struct {
	mu   sync.Mutex
	msgs []models.SideEffect
}

func (q *queue) Enqueue(msg models.SideEffect) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return nil
}

type publisher struct {
	channel string
	payload []byte
}

func (p *publisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.channel, p.payload = channel, payload
	return nil
}

func newBuiltins(t *testing.T) (*Registry, *queue, *publisher) {
	t.Helper()

	p := pool.New(logger.Discard())
	require.NoError(t, p.AddResource("compute-1", "", 1))

	q := &queue{}
	pub := &publisher{}
	r, _ := newRegistry()
	require.NoError(t, RegisterBuiltins(r, BuiltinDeps{
		Statuses: statuses{
			"sensor-1": {ID: "sensor-1", Status: models.StatusCritical, Metrics: map[string]float64{"load": 90}},
		},
		Queue:            q,
		Publisher:        pub,
		Pool:             p,
		WorkloadDuration: time.Millisecond,
	}))
	return r, q, pub
}

func TestRegisterBuiltins(t *testing.T) {
	r, _, _ := newBuiltins(t)

	var ids []string
	for _, d := range r.List() {
		assert.True(t, d.Enabled, d.ID)
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{Monitoring, Control, DecisionSupport, Predictive, Communication, Compute}, ids)

	d, err := r.Get(Compute)
	require.NoError(t, err)
	assert.Equal(t, []string{Predictive}, d.Dependencies)

	var dup *DuplicateModuleError
	assert.True(t, errors.As(RegisterBuiltins(r, BuiltinDeps{}), &dup))
}

func TestBuiltins_MonitoringAndPredictive(t *testing.T) {
	r, _, _ := newBuiltins(t)
	ctx := context.Background()

	got, err := r.Invoke(ctx, Monitoring, "sensor-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCritical, got.(models.SystemStatus).Status)

	_, err = r.Invoke(ctx, Monitoring)
	assert.Error(t, err)

	got, err = r.Invoke(ctx, Predictive, map[string]any{"systemId": "sensor-1"})
	require.NoError(t, err)
	pf := got.(*models.PredictedFailure)
	assert.InDelta(t, 0.925, pf.Probability, 1e-9)
	assert.Contains(t, pf.RecommendedActions, "isolate-system")

	got, err = r.Invoke(ctx, DecisionSupport, models.SystemStatus{ID: "calm", Status: models.StatusOperational})
	require.NoError(t, err)
	rec := got.(Recommendation)
	assert.Equal(t, "routine", rec.Urgency)
	assert.Equal(t, "calm", rec.SystemID)
}

func TestBuiltins_ControlAndCommunication(t *testing.T) {
	r, q, pub := newBuiltins(t)
	ctx := context.Background()

	id, err := r.Invoke(ctx, Control, models.SideEffectScheduleMaintenance, "sensor-1", map[string]any{"window": "night"})
	require.NoError(t, err)
	require.Len(t, q.msgs, 1)
	assert.Equal(t, id, q.msgs[0].ID)
	assert.Equal(t, "sensor-1", q.msgs[0].Target)

	_, err = r.Invoke(ctx, Control, map[string]any{"target": "x"})
	assert.Error(t, err)

	_, err = r.Invoke(ctx, Communication, map[string]any{"channel": "ops", "message": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "ops", pub.channel)
	var msg string
	require.NoError(t, json.Unmarshal(pub.payload, &msg))
	assert.Equal(t, "hello", msg)
}

func TestBuiltins_ComputeRunsOnPool(t *testing.T) {
	r, _, _ := newBuiltins(t)

	got, err := r.Invoke(context.Background(), Compute, map[string]any{"type": pool.WorkloadOptimization})
	require.NoError(t, err)
	assert.Equal(t, pool.WorkloadOptimization, got.(map[string]any)["type"])
}

func TestScore_Bounds(t *testing.T) {
	for _, s := range models.Statuses {
		pf := Score(models.SystemStatus{Status: s, Metrics: map[string]float64{"load": 500}})
		assert.GreaterOrEqual(t, pf.Probability, 0.0)
		assert.LessOrEqual(t, pf.Probability, 1.0)
		assert.GreaterOrEqual(t, pf.TimeToFailure, time.Duration(0))
	}
	assert.Less(t, Score(models.SystemStatus{Status: models.StatusOperational}).Probability, 0.1)
}
