package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewRegistry(logrus.NewEntry(logger))
}

func TestAcquire(t *testing.T) {
	t.Run("new job fields correct", func(t *testing.T) {
		r := newTestRegistry()
		job, ok := r.Acquire("audit-1", KindStart)
		require.True(t, ok)

		assert.NotEmpty(t, job.ID)
		assert.Equal(t, "audit-1", job.AuditID)
		assert.Equal(t, KindStart, job.Kind)
		assert.Equal(t, StatusRunning, job.Status)
		assert.False(t, job.StartedAt.IsZero())
		assert.True(t, job.CompletedAt.IsZero())
	})

	t.Run("duplicate running audit returns same job", func(t *testing.T) {
		r := newTestRegistry()
		job1, ok1 := r.Acquire("audit-1", KindStart)
		job2, ok2 := r.Acquire("audit-1", KindContinue)
		assert.True(t, ok1)
		assert.False(t, ok2)
		assert.Equal(t, job1.ID, job2.ID)
	})

	t.Run("new job allowed after release", func(t *testing.T) {
		r := newTestRegistry()
		job1, _ := r.Acquire("audit-1", KindStart)
		r.Release(job1.ID, nil)

		job2, ok := r.Acquire("audit-1", KindContinue)
		assert.True(t, ok)
		assert.NotEqual(t, job1.ID, job2.ID)
	})

	t.Run("different audits independent", func(t *testing.T) {
		r := newTestRegistry()
		_, ok1 := r.Acquire("audit-a", KindStart)
		_, ok2 := r.Acquire("audit-b", KindStart)
		assert.True(t, ok1)
		assert.True(t, ok2)
	})
}

func TestRelease(t *testing.T) {
	r := newTestRegistry()

	ok, _ := r.Acquire("audit-ok", KindStart)
	r.Release(ok.ID, nil)
	got, found := r.Get(ok.ID)
	require.True(t, found)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.False(t, got.CompletedAt.IsZero())
	assert.Error(t, got.Context().Err(), "context is cancelled on release")

	bad, _ := r.Acquire("audit-bad", KindStart)
	r.Release(bad.ID, errors.New("boom"))
	got, _ = r.Get(bad.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)
	assert.False(t, r.IsRunning("audit-bad"))

	// releasing twice keeps the first outcome
	r.Release(bad.ID, nil)
	got, _ = r.Get(bad.ID)
	assert.Equal(t, StatusFailed, got.Status)

	r.Release("missing", nil)
}

func TestGo(t *testing.T) {
	t.Run("runs and releases", func(t *testing.T) {
		r := newTestRegistry()
		var ran atomic.Bool
		job, started := r.Go("audit-1", KindStart, func(ctx context.Context) error {
			ran.Store(true)
			return nil
		})
		require.True(t, started)
		require.NoError(t, r.Wait(context.Background()))

		assert.True(t, ran.Load())
		got, _ := r.Get(job.ID)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.False(t, r.IsRunning("audit-1"))
	})

	t.Run("second start is refused while first runs", func(t *testing.T) {
		r := newTestRegistry()
		release := make(chan struct{})
		var calls atomic.Int32
		fn := func(ctx context.Context) error {
			calls.Add(1)
			<-release
			return nil
		}

		_, first := r.Go("audit-1", KindStart, fn)
		_, second := r.Go("audit-1", KindContinue, fn)
		close(release)
		require.NoError(t, r.Wait(context.Background()))

		assert.True(t, first)
		assert.False(t, second)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("panic recorded as failure", func(t *testing.T) {
		r := newTestRegistry()
		job, _ := r.Go("audit-1", KindStart, func(ctx context.Context) error {
			panic("kaboom")
		})
		require.NoError(t, r.Wait(context.Background()))

		got, _ := r.Get(job.ID)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Contains(t, got.ErrorMessage, "kaboom")
	})
}

func TestConcurrentAcquire(t *testing.T) {
	r := newTestRegistry()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Acquire("audit-1", KindContinue); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestCancelAll(t *testing.T) {
	r := newTestRegistry()
	job, _ := r.Go("audit-1", KindStart, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	r.CancelAll()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))

	got, _ := r.Get(job.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Len(t, r.List(), 1)
}

func TestStart_RunsUnderAcquiredJob(t *testing.T) {
	r := newTestRegistry()
	job, ok := r.Acquire("audit-1", KindRecrawl)
	require.True(t, ok)

	_, again := r.Go("audit-1", KindContinue, func(context.Context) error { return nil })
	assert.False(t, again, "acquired job blocks others before Start")

	r.Start(job, func(ctx context.Context) error { return errors.New("discovery down") })
	require.NoError(t, r.Wait(context.Background()))

	got, _ := r.Get(job.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "discovery down", got.ErrorMessage)
	assert.False(t, r.IsRunning("audit-1"))
}

func TestFinishedJobsAreEvicted(t *testing.T) {
	r := newTestRegistry()
	r.keep = 3

	var ids []string
	for i := 0; i < 5; i++ {
		job, ok := r.Acquire("audit-1", KindContinue)
		require.True(t, ok)
		r.Release(job.ID, nil)
		ids = append(ids, job.ID)
	}
	running, _ := r.Acquire("audit-2", KindStart)

	assert.Len(t, r.List(), 4, "three finished plus the running job")
	_, found := r.Get(ids[0])
	assert.False(t, found)
	_, found = r.Get(ids[4])
	assert.True(t, found)
	_, found = r.Get(running.ID)
	assert.True(t, found, "running jobs are never evicted")
}
