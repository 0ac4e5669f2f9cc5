package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawad-mazhar/cmdhub/internal/logger"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

func TestQueue_RejectsWhenFull(t *testing.T) {
	q := NewQueue(2, 10, time.Hour, logger.Discard(), nil)

	require.NoError(t, q.Enqueue(models.NewSideEffect(models.SideEffectNotify, "a", nil)))
	require.NoError(t, q.Enqueue(models.NewSideEffect(models.SideEffectNotify, "b", nil)))

	err := q.Enqueue(models.NewSideEffect(models.SideEffectNotify, "c", nil))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_DrainsInBatchesInOrder(t *testing.T) {
	q := NewQueue(100, 10, time.Hour, logger.Discard(), nil)

	var seen []string
	q.Handle(models.SideEffectScheduleMaintenance, func(_ context.Context, msg models.SideEffect) error {
		seen = append(seen, msg.Target)
		return nil
	})
	for i := 0; i < 25; i++ {
		require.NoError(t, q.Enqueue(models.NewSideEffect(models.SideEffectScheduleMaintenance, fmt.Sprint(i), nil)))
	}

	assert.Equal(t, 10, q.DrainOnce(context.Background()))
	assert.Equal(t, 10, q.DrainOnce(context.Background()))
	assert.Equal(t, 5, q.DrainOnce(context.Background()))
	assert.Equal(t, 0, q.DrainOnce(context.Background()))

	require.Len(t, seen, 25)
	assert.Equal(t, "0", seen[0])
	assert.Equal(t, "24", seen[24])
}

func TestQueue_HandlerFailuresDoNotStopBatch(t *testing.T) {
	q := NewQueue(10, 10, time.Hour, logger.Discard(), nil)

	var ok atomic.Int32
	q.Handle("boom", func(context.Context, models.SideEffect) error { return errors.New("failed") })
	q.Handle("panic", func(context.Context, models.SideEffect) error { panic("bad handler") })
	q.Handle("ok", func(context.Context, models.SideEffect) error { ok.Add(1); return nil })

	for _, kind := range []string{"boom", "panic", "unknown", "ok"} {
		require.NoError(t, q.Enqueue(models.NewSideEffect(kind, "", nil)))
	}

	assert.Equal(t, 4, q.DrainOnce(context.Background()))
	assert.Equal(t, int32(1), ok.Load())
}

func TestQueue_RunDrainsOnCadenceAndStops(t *testing.T) {
	q := NewQueue(10, 10, 5*time.Millisecond, logger.Discard(), nil)

	var handled atomic.Int32
	q.Handle(models.SideEffectApplyOptimization, func(context.Context, models.SideEffect) error {
		handled.Add(1)
		return nil
	})
	require.NoError(t, q.Enqueue(models.NewSideEffect(models.SideEffectApplyOptimization, "x", nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return handled.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
