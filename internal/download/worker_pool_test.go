package download

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melodex/melodex-core/internal/store"
)

func trackJob(id string) *Job {
	return &Job{ID: id, Item: &store.QueueItem{ID: id, Type: store.TypeTrack}}
}

func TestWorkerPoolProcessesJobs(t *testing.T) {
	var processed int32
	pool := NewWorkerPool(3, func(_ context.Context, _ *Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, nil)

	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(trackJob(fmt.Sprintf("job-%d", i))))
	}

	results := 0
	for results < 10 {
		select {
		case r := <-pool.Results():
			require.NoError(t, r.Err)
			results++
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}
	assert.Equal(t, int32(10), atomic.LoadInt32(&processed))

	pool.Stop()
}

func TestWorkerPoolRespectsConcurrencyLimit(t *testing.T) {
	var current, peak int32
	var mu sync.Mutex

	pool := NewWorkerPool(2, func(_ context.Context, _ *Job) error {
		n := atomic.AddInt32(&current, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return nil
	}, nil)

	require.NoError(t, pool.Start(context.Background()))
	for i := 0; i < 8; i++ {
		require.NoError(t, pool.Submit(trackJob(fmt.Sprintf("job-%d", i))))
	}

	for done := 0; done < 8; {
		select {
		case <-pool.Results():
			done++
		case <-time.After(5 * time.Second):
			t.Fatal("timed out")
		}
	}
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int32(2))
}

func TestWorkerPoolCancelsActiveJob(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan error, 1)

	pool := NewWorkerPool(1, func(ctx context.Context, _ *Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, nil)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(trackJob("long")))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	assert.True(t, pool.IsActive("long"))
	require.True(t, pool.Cancel("long"))

	go func() {
		r := <-pool.Results()
		finished <- r.Err
	}()
	select {
	case err := <-finished:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled job never finished")
	}

	pool.Stop()
}

func TestWorkerPoolCancelUnknownJob(t *testing.T) {
	pool := NewWorkerPool(1, func(context.Context, *Job) error { return nil }, nil)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	assert.False(t, pool.Cancel("nope"))
	assert.False(t, pool.IsActive("nope"))
}

func TestWorkerPoolRejectsDoubleStart(t *testing.T) {
	pool := NewWorkerPool(1, func(context.Context, *Job) error { return nil }, nil)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.Error(t, pool.Start(context.Background()))
}

func TestWorkerPoolRequiresHandler(t *testing.T) {
	pool := NewWorkerPool(1, nil, nil)
	require.Error(t, pool.Start(context.Background()))
}

func TestWorkerPoolSubmitBeforeStart(t *testing.T) {
	pool := NewWorkerPool(1, func(context.Context, *Job) error { return nil }, nil)
	require.Error(t, pool.Submit(trackJob("early")))
}

func TestWorkerPoolCancelAllDrainsQueue(t *testing.T) {
	release := make(chan struct{})
	pool := NewWorkerPool(1, func(ctx context.Context, _ *Job) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, nil)

	require.NoError(t, pool.Start(context.Background()))
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(trackJob(fmt.Sprintf("job-%d", i))))
	}

	require.Eventually(t, func() bool { return pool.ActiveCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	pool.CancelAll()
	close(release)

	require.Eventually(t, func() bool { return pool.QueuedCount() == 0 },
		2*time.Second, 10*time.Millisecond)

	pool.Stop()
}
