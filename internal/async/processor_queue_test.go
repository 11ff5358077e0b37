package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueueProcessesEveryJob(t *testing.T) {
	var mu sync.Mutex
	seen := map[uuid.UUID]bool{}
	q := NewProcessorQueue(func(_ context.Context, job Job) error {
		mu.Lock()
		seen[job.ItemID] = true
		mu.Unlock()
		return nil
	}, quietLogger(), WithWorkers(3), WithQueueSize(2))

	ids := make([]uuid.UUID, 20)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, q.Enqueue(context.Background(), Job{ItemID: ids[i]}))
	}
	q.Shutdown(context.Background())

	require.Len(t, seen, len(ids))
	for _, id := range ids {
		require.True(t, seen[id])
	}
}

func TestQueueAppliesTimeoutAndSurvivesPanics(t *testing.T) {
	var deadlines, handled atomic.Int32
	q := NewProcessorQueue(func(ctx context.Context, job Job) error {
		handled.Add(1)
		if _, ok := ctx.Deadline(); ok {
			deadlines.Add(1)
		}
		if job.ItemID == uuid.Nil {
			panic("boom")
		}
		return errors.New("handler error is logged, not fatal")
	}, quietLogger(), WithWorkers(1), WithProcessTimeout(time.Second))

	require.NoError(t, q.Enqueue(context.Background(), Job{ItemID: uuid.Nil}))
	require.NoError(t, q.Enqueue(context.Background(), Job{ItemID: uuid.New()}))
	q.Shutdown(context.Background())

	require.Equal(t, int32(2), handled.Load())
	require.Equal(t, int32(2), deadlines.Load())
}

func TestEnqueueAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(func(context.Context, Job) error { return nil }, quietLogger())
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), Job{ItemID: uuid.New()})
	require.ErrorIs(t, err, common.ErrServiceUnavailable)
}

func TestEnqueueRespectsContextWhenFull(t *testing.T) {
	release := make(chan struct{})
	q := NewProcessorQueue(func(context.Context, Job) error {
		<-release
		return nil
	}, quietLogger(), WithWorkers(1), WithQueueSize(1))

	require.NoError(t, q.Enqueue(context.Background(), Job{ItemID: uuid.New()}))
	// Wait until the worker holds the first job so the buffer slot is free.
	require.Eventually(t, func() bool { return len(q.ch) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{ItemID: uuid.New()}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Enqueue(ctx, Job{ItemID: uuid.New()}), context.DeadlineExceeded)

	close(release)
	q.Shutdown(context.Background())
}

func TestShutdownReleasesBlockedEnqueue(t *testing.T) {
	release := make(chan struct{})
	q := NewProcessorQueue(func(context.Context, Job) error {
		<-release
		return nil
	}, quietLogger(), WithWorkers(1), WithQueueSize(1))

	require.NoError(t, q.Enqueue(context.Background(), Job{ItemID: uuid.New()}))
	require.Eventually(t, func() bool { return len(q.ch) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{ItemID: uuid.New()}))

	blocked := make(chan error, 1)
	go func() { blocked <- q.Enqueue(context.Background(), Job{ItemID: uuid.New()}) }()
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		q.Shutdown(context.Background())
	}()

	select {
	case err := <-blocked:
		require.ErrorIs(t, err, common.ErrServiceUnavailable)
	case <-time.After(time.Second):
		t.Fatal("enqueue still blocked after shutdown began")
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not finish")
	}
}
