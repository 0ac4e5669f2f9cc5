package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_DeliversOnlySubscribedChannels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemory()
	msgs, err := b.Subscribe(ctx, "alerts")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "other", []byte("skip")))
	require.NoError(t, b.Publish(ctx, "alerts", []byte("hello")))

	select {
	case msg := <-msgs:
		assert.Equal(t, "alerts", msg.Channel)
		assert.Equal(t, []byte("hello"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMemory_CancelClosesSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewMemory()
	msgs, err := b.Subscribe(ctx, "alerts")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestMemory_PublishAfterClose(t *testing.T) {
	b := NewMemory()
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), "x", nil), ErrClosed)
}
