package module

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

type eventRecorder struct {
	mu     sync.Mutex
	events []models.CommandEvent
}

func (r *eventRecorder) LogEvent(_ context.Context, e models.CommandEvent) models.CommandEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return e
}

func (r *eventRecorder) ofType(t string) []models.CommandEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CommandEvent
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func echo(_ context.Context, args ...any) (any, error) {
	return args, nil
}

func descriptor(id string, deps ...string) models.ModuleDescriptor {
	return models.ModuleDescriptor{
		ID:           id,
		Category:     models.CategoryControl,
		Enabled:      true,
		Dependencies: deps,
	}
}

func newRegistry() (*Registry, *eventRecorder) {
	rec := &eventRecorder{}
	return NewRegistry(rec, logger.Discard(), nil), rec
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r, _ := newRegistry()
	require.NoError(t, r.Register(descriptor("alpha"), echo))

	err := r.Register(descriptor("alpha"), echo)
	var dup *DuplicateModuleError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "alpha", dup.ID)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_MissingDependencyIsAtomic(t *testing.T) {
	r, _ := newRegistry()

	err := r.Register(descriptor("M", "X"), echo)
	var missing *MissingDependencyError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"X"}, missing.Missing)
	assert.Equal(t, 0, r.Len())

	_, err = r.Get("M")
	var notFound *ModuleNotFoundError
	assert.True(t, errors.As(err, &notFound))

	require.NoError(t, r.Register(descriptor("X"), echo))
	require.NoError(t, r.Register(descriptor("M", "X"), echo))
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_RegisterDefaultsAndValidation(t *testing.T) {
	r, _ := newRegistry()

	assert.Error(t, r.Register(models.ModuleDescriptor{}, echo))
	assert.Error(t, r.Register(descriptor("nil-handler"), nil))

	require.NoError(t, r.Register(descriptor("plain"), echo))
	d, err := r.Get("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", d.Name)
	assert.Equal(t, models.PriorityMedium, d.Priority)
}

func TestRegistry_InvokeForwardsResultAndEmits(t *testing.T) {
	r, rec := newRegistry()
	require.NoError(t, r.Register(descriptor("echo"), echo))

	result, err := r.Invoke(context.Background(), "echo", "a", 1)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", 1}, result)

	invoked := rec.ofType(models.EventModuleInvoked)
	require.Len(t, invoked, 1)
	payload := invoked[0].Payload.(InvocationPayload)
	assert.Equal(t, "echo", payload.ModuleID)
	assert.Equal(t, []any{"a", 1}, payload.Result)
}

func TestRegistry_InvokeErrors(t *testing.T) {
	r, rec := newRegistry()
	boom := errors.New("boom")

	require.NoError(t, r.Register(descriptor("failing"), func(context.Context, ...any) (any, error) {
		return nil, boom
	}))
	require.NoError(t, r.Register(descriptor("panicking"), func(context.Context, ...any) (any, error) {
		panic("bad handler")
	}))

	_, err := r.Invoke(context.Background(), "missing")
	var notFound *ModuleNotFoundError
	assert.True(t, errors.As(err, &notFound))

	_, err = r.Invoke(context.Background(), "failing")
	var invErr *InvocationError
	require.True(t, errors.As(err, &invErr))
	assert.Equal(t, "failing", invErr.ModuleID)
	assert.ErrorIs(t, err, boom)

	_, err = r.Invoke(context.Background(), "panicking")
	require.True(t, errors.As(err, &invErr))
	assert.Contains(t, err.Error(), "panicked")

	assert.Len(t, rec.ofType(models.EventModuleInvoked), 2)
}

func TestRegistry_DisabledModule(t *testing.T) {
	r, _ := newRegistry()
	require.NoError(t, r.Register(descriptor("switchable"), echo))
	require.NoError(t, r.SetEnabled("switchable", false))

	_, err := r.Invoke(context.Background(), "switchable")
	var invErr *InvocationError
	require.True(t, errors.As(err, &invErr))
	assert.ErrorIs(t, err, ErrModuleDisabled)

	require.NoError(t, r.SetEnabled("switchable", true))
	_, err = r.Invoke(context.Background(), "switchable")
	assert.NoError(t, err)

	var notFound *ModuleNotFoundError
	assert.True(t, errors.As(r.SetEnabled("unknown", true), &notFound))
}

func TestRegistry_SlowInvocationIsAdvisory(t *testing.T) {
	r, rec := newRegistry()
	d := descriptor("slow")
	d.PerformanceThreshold = time.Millisecond
	require.NoError(t, r.Register(d, func(context.Context, ...any) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "late", nil
	}))

	result, err := r.Invoke(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, "late", result)

	slow := rec.ofType(models.EventSlowInvocation)
	require.Len(t, slow, 1)
	payload := slow[0].Payload.(InvocationPayload)
	assert.Equal(t, time.Millisecond, payload.Threshold)
	assert.Greater(t, payload.Elapsed, payload.Threshold)
}

func TestRegistry_ListKeepsRegistrationOrder(t *testing.T) {
	r, _ := newRegistry()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(descriptor(id), echo))
	}

	var ids []string
	for _, d := range r.List() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}
