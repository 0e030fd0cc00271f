// ABOUTME: Tests for the in-process MemoryBroker implementation.
// ABOUTME: Covers delivery, subscription isolation, unsubscribe, and close behavior.

package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveWithin(t *testing.T, sub Subscription, d time.Duration) []byte {
	t.Helper()
	select {
	case payload, ok := <-sub.Messages():
		require.True(t, ok, "message stream closed unexpectedly")
		return payload
	case <-time.After(d):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestMemoryBroker_PublishDelivers(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "chan-a")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "chan-a", []byte("hello")))
	assert.Equal(t, []byte("hello"), receiveWithin(t, sub, time.Second))
}

func TestMemoryBroker_NoSubscriberDropsSilently(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	// Publishing into the void is not an error.
	assert.NoError(t, b.Publish(context.Background(), "nobody-home", []byte("lost")))
}

func TestMemoryBroker_ChannelIsolation(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	subA, err := b.Subscribe(ctx, "chan-a")
	require.NoError(t, err)
	defer subA.Close()

	subB, err := b.Subscribe(ctx, "chan-b")
	require.NoError(t, err)
	defer subB.Close()

	require.NoError(t, b.Publish(ctx, "chan-a", []byte("for-a")))
	require.NoError(t, b.Publish(ctx, "chan-b", []byte("for-b")))

	assert.Equal(t, []byte("for-a"), receiveWithin(t, subA, time.Second))
	assert.Equal(t, []byte("for-b"), receiveWithin(t, subB, time.Second))

	// Neither stream has anything from the other channel.
	select {
	case extra := <-subA.Messages():
		t.Fatalf("unexpected extra message on chan-a: %q", extra)
	case extra := <-subB.Messages():
		t.Fatalf("unexpected extra message on chan-b: %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBroker_FanOut(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	sub1, err := b.Subscribe(ctx, "shared")
	require.NoError(t, err)
	defer sub1.Close()

	sub2, err := b.Subscribe(ctx, "shared")
	require.NoError(t, err)
	defer sub2.Close()

	require.NoError(t, b.Publish(ctx, "shared", []byte("broadcast")))

	assert.Equal(t, []byte("broadcast"), receiveWithin(t, sub1, time.Second))
	assert.Equal(t, []byte("broadcast"), receiveWithin(t, sub2, time.Second))
}

func TestMemoryBroker_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "chan-a")
	require.NoError(t, err)

	require.Equal(t, 1, b.SubscriberCount("chan-a"))
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, b.SubscriberCount("chan-a"))

	// Stream is closed after unsubscribe.
	_, ok := <-sub.Messages()
	assert.False(t, ok)

	// Publish after unsubscribe goes nowhere.
	assert.NoError(t, b.Publish(ctx, "chan-a", []byte("late")))
}

func TestMemoryBroker_CloseIsIdempotent(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "chan-a")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, ok := <-sub.Messages()
	assert.False(t, ok, "subscription stream should be closed")

	assert.ErrorIs(t, b.Publish(ctx, "chan-a", []byte("x")), ErrBrokerClosed)
	_, err = b.Subscribe(ctx, "chan-a")
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestMemoryBroker_DoubleSubscriptionClose(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "chan-a")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())
}

func TestMemoryBroker_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			channel := string(rune('a' + n%4))
			sub, err := b.Subscribe(ctx, channel)
			if err != nil {
				t.Error(err)
				return
			}
			defer sub.Close()
			for j := 0; j < 50; j++ {
				if err := b.Publish(ctx, channel, []byte("tick")); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
