package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int]()
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 3, q.Len())

	ctx := context.Background()
	for want := 1; want <= 3; want++ {
		got, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue[string]()
	got := make(chan string, 1)
	go func() {
		item, err := q.Pop(context.Background())
		if err == nil {
			got <- item
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Push("conn"))
	select {
	case item := <-got:
		assert.Equal(t, "conn", item)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake after Push")
	}
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q := NewQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not return after cancel")
	}
}

func TestQueue_CloseReturnsPendingAndWakesWaiters(t *testing.T) {
	q := NewQueue[int]()
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Pop(context.Background())
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, q.Close())
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, ErrQueueClosed)
	}

	assert.ErrorIs(t, q.Push(1), ErrQueueClosed)
	assert.Nil(t, q.Close())
}

func TestQueue_ClosePending(t *testing.T) {
	q := NewQueue[int]()
	require.NoError(t, q.Push(7))
	require.NoError(t, q.Push(8))
	assert.Equal(t, []int{7, 8}, q.Close())

	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_ConcurrentConsumersSeeEachItemOnce(t *testing.T) {
	q := NewQueue[int]()
	const items = 1000
	const consumers = 8

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := q.Pop(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[item]++
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < items; i++ {
		require.NoError(t, q.Push(i))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == items
	}, 5*time.Second, 10*time.Millisecond)
	q.Close()
	wg.Wait()

	for i := 0; i < items; i++ {
		assert.Equal(t, 1, seen[i], "item %d", i)
	}
}

func TestProperty_QueuePreservesOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		q := NewQueue[int]()
		items := rapid.SliceOf(rapid.Int()).Draw(rt, "items")
		for _, it := range items {
			if err := q.Push(it); err != nil {
				rt.Fatalf("push: %v", err)
			}
		}
		for i, want := range items {
			got, err := q.Pop(context.Background())
			if err != nil {
				rt.Fatalf("pop %d: %v", i, err)
			}
			if got != want {
				rt.Fatalf("pop %d = %d, want %d", i, got, want)
			}
		}
		if q.Len() != 0 {
			rt.Fatalf("queue not empty: %d", q.Len())
		}
	})
}
