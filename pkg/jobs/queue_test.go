package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDeliversMessages(t *testing.T) {
	var mu sync.Mutex
	var received []string
	done := make(chan struct{})

	q := NewQueue("test", func(_ context.Context, msg Message) error {
		mu.Lock()
		received = append(received, msg.JobID)
		if len(received) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 2})

	q.Start(context.Background())
	defer q.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Publish(context.Background(), Message{JobID: id}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, received, 3)
}

func TestQueueRetriesFailedMessages(t *testing.T) {
	var mu sync.Mutex
	attempts := make(map[int]bool)
	done := make(chan struct{})

	q := NewQueue("test", func(_ context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[msg.Attempt] = true
		if msg.Attempt < 2 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: 10 * time.Millisecond})

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Publish(context.Background(), Message{JobID: "job-1"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message not retried to success")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, attempts[0])
	assert.True(t, attempts[1])
	assert.True(t, attempts[2])
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	q := NewQueue("test", func(_ context.Context, _ Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("permanent")
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: 5 * time.Millisecond})

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Publish(context.Background(), Message{JobID: "job-1"}))
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// initial delivery plus two retries
	assert.Equal(t, 3, calls)
}

func TestQueuePublishFailsWhenNotStarted(t *testing.T) {
	q := NewQueue("test", func(context.Context, Message) error { return nil }, QueueConfig{})

	err := q.Publish(context.Background(), Message{JobID: "job-1"})
	assert.Error(t, err)
	assert.False(t, q.Running())
}

func TestQueueStopIsIdempotent(t *testing.T) {
	q := NewQueue("test", func(context.Context, Message) error { return nil }, QueueConfig{})
	q.Start(context.Background())
	assert.True(t, q.Running())

	q.Stop()
	q.Stop()
	assert.False(t, q.Running())
}
