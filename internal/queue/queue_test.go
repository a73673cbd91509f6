package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
		Retention:      time.Hour,
	}
}

func createJob(t *testing.T, store jobs.Store, id string, priority int) *jobs.Job {
	t.Helper()
	job := &jobs.Job{ID: id, Status: jobs.StatusQueued, Priority: priority, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func dequeue(t *testing.T, q *Queue) *Lease {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return lease
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestPriorityOrder(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	q := New(store, testConfig(), zap.NewNop())
	defer q.Close()

	for _, tc := range []struct {
		id       string
		priority int
	}{{"low", 1}, {"high-1", 5}, {"high-2", 5}, {"mid", 3}} {
		require.NoError(t, q.Enqueue(ctx, createJob(t, store, tc.id, tc.priority), tc.priority))
	}
	assert.Equal(t, 4, q.ActiveCount())

	var order []string
	for i := 0; i < 4; i++ {
		lease := dequeue(t, q)
		order = append(order, lease.Job.ID)
		assert.Equal(t, jobs.StatusProcessing, lease.Job.Status)
		assert.Equal(t, 1, lease.Attempt())
	}
	assert.Equal(t, []string{"high-1", "high-2", "mid", "low"}, order)
	assert.Equal(t, 4, q.ActiveCount(), "leased entries are still active")
}

func TestEnqueueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	q := New(store, testConfig(), zap.NewNop())
	defer q.Close()

	job := createJob(t, store, "a", 0)
	require.NoError(t, q.Enqueue(ctx, job, 0))
	require.NoError(t, q.Enqueue(ctx, job, 0))
	assert.Equal(t, 1, q.ActiveCount())
	assert.Error(t, q.Enqueue(ctx, &jobs.Job{}, 0))
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	q := New(store, testConfig(), zap.NewNop())
	defer q.Close()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Enqueue(ctx, createJob(t, store, "late", 0), 0)
	}()
	assert.Equal(t, "late", dequeue(t, q).Job.ID)
}

func TestExactlyOneWorkerPerJob(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	q := New(store, testConfig(), zap.NewNop())
	defer q.Close()

	const n = 50
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("job-%02d", i)
		require.NoError(t, q.Enqueue(ctx, createJob(t, store, id, 0), 0))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
				lease, err := q.Dequeue(short)
				cancel()
				if err != nil {
					return
				}
				mu.Lock()
				seen[lease.Job.ID]++
				mu.Unlock()
				lease.Done(ctx, nil)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, id)
	}
	assert.Equal(t, 0, q.ActiveCount())
}

func TestDequeueSkipsCanceledAndDeleted(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	q := New(store, testConfig(), zap.NewNop())
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, createJob(t, store, "canceled", 9), 9))
	require.NoError(t, q.Enqueue(ctx, createJob(t, store, "deleted", 8), 8))
	require.NoError(t, q.Enqueue(ctx, createJob(t, store, "live", 1), 1))

	_, err := store.Update(ctx, "canceled", func(j *jobs.Job) error { return j.Cancel() })
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "deleted"))

	assert.Equal(t, "live", dequeue(t, q).Job.ID)
	assert.Equal(t, 1, q.ActiveCount())
}

func TestReportProgressAndResult(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	q := New(store, testConfig(), zap.NewNop())
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, createJob(t, store, "a", 0), 0))
	lease := dequeue(t, q)

	job, err := q.ReportProgress(ctx, "a", 0, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, job.TotalChunks)

	job, err = q.ReportProgress(ctx, "a", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, 75, job.Progress)

	job, err = q.ReportProgress(ctx, "a", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, job.ProcessedChunks, "progress never regresses")

	_, err = q.ReportProgress(ctx, "a", 4, 4)
	require.NoError(t, err)
	job, err = q.ReportResult(ctx, "a", Result{OutputRef: "out/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)

	lease.Done(ctx, nil)
	assert.Equal(t, 0, q.ActiveCount())
}

func TestReportAfterCancel(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	q := New(store, testConfig(), zap.NewNop())
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, createJob(t, store, "a", 0), 0))
	lease := dequeue(t, q)
	_, err := q.ReportProgress(ctx, "a", 1, 3)
	require.NoError(t, err)

	_, err = store.Update(ctx, "a", func(j *jobs.Job) error { return j.Cancel() })
	require.NoError(t, err)

	_, err = q.ReportProgress(ctx, "a", 2, 3)
	assert.ErrorIs(t, err, jobs.ErrCanceled)
	_, err = q.ReportResult(ctx, "a", Result{OutputRef: "out"})
	assert.ErrorIs(t, err, jobs.ErrCanceled)

	lease.Done(ctx, jobs.ErrCanceled)
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCanceled, got.Status)
	assert.Equal(t, 1, got.ProcessedChunks)
	assert.Equal(t, 0, q.ActiveCount())
}

func TestDoneClassifiedFailure(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	q := New(store, testConfig(), zap.NewNop())
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, createJob(t, store, "a", 0), 0))
	lease := dequeue(t, q)
	lease.Done(ctx, fmt.Errorf("chunk 1: %w", providers.NewError("deepl", providers.KindAuth, "invalid auth key")))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, jobs.ReasonProviderAuthFailed, got.FailureReason)
	assert.Equal(t, "deepl: invalid auth key", got.FailureMessage)
	assert.Empty(t, got.OutputRef)
	assert.Equal(t, 0, q.ActiveCount())
}

func TestDoneUnclassifiedRedelivers(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	q := New(store, testConfig(), zap.NewNop())
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, createJob(t, store, "a", 0), 0))

	for attempt := 1; attempt <= 3; attempt++ {
		lease := dequeue(t, q)
		assert.Equal(t, attempt, lease.Attempt())
		lease.Done(ctx, errors.New("worker crashed"))
		lease.Done(ctx, errors.New("second call is ignored"))
	}

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, jobs.ReasonInternalError, got.FailureReason)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, 0, q.ActiveCount())
}

func TestDoneShutdownReleases(t *testing.T) {
	store := jobs.NewMemoryStore()
	q := New(store, testConfig(), zap.NewNop())
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), createJob(t, store, "a", 0), 0))
	lease := dequeue(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lease.Done(ctx, context.Canceled)

	again := dequeue(t, q)
	assert.Equal(t, "a", again.Job.ID)
}

func TestOpenRecoversUnfinished(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	createJob(t, store, "queued", 0)
	createJob(t, store, "processing", 0)
	createJob(t, store, "done", 0)

	_, err := store.Update(ctx, "processing", func(j *jobs.Job) error { return j.Start() })
	require.NoError(t, err)
	_, err = store.Update(ctx, "done", func(j *jobs.Job) error { return j.Cancel() })
	require.NoError(t, err)

	q := New(store, testConfig(), zap.NewNop())
	require.NoError(t, q.Open(ctx))
	defer q.Close()

	assert.Equal(t, 2, q.ActiveCount())

	ids := map[string]bool{dequeue(t, q).Job.ID: true, dequeue(t, q).Job.ID: true}
	assert.True(t, ids["queued"])
	assert.True(t, ids["processing"])

	got, err := store.Get(ctx, "processing")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
}

func TestPoll(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	q := New(store, testConfig(), zap.NewNop())
	defer q.Close()

	createJob(t, store, "external", 2)
	n, err := q.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = q.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "external", dequeue(t, q).Job.ID)
}

func TestBackgroundPoller(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	cfg := testConfig()
	cfg.PollInterval = 5 * time.Millisecond
	q := New(store, cfg, zap.NewNop())
	require.NoError(t, q.Open(ctx))
	defer q.Close()

	createJob(t, store, "external", 0)
	waitFor(t, func() bool { return q.ActiveCount() == 1 })
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	cfg := testConfig()
	cfg.Retention = time.Millisecond
	q := New(store, cfg, zap.NewNop())
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, createJob(t, store, "a", 0), 0))
	require.NoError(t, q.Enqueue(ctx, createJob(t, store, "b", 0), 0))
	dequeue(t, q).Done(ctx, nil)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, q.Prune())
	assert.Equal(t, 0, q.Prune())
	assert.Equal(t, 1, q.ActiveCount())

	_, err := store.Get(ctx, "a")
	assert.NoError(t, err, "pruning never removes records")
}

func TestClose(t *testing.T) {
	store := jobs.NewMemoryStore()
	q := New(store, testConfig(), zap.NewNop())
	require.NoError(t, q.Open(context.Background()))

	var got atomic.Value
	done := make(chan struct{})
	go func() {
		_, err := q.Dequeue(context.Background())
		got.Store(err)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	<-done

	assert.ErrorIs(t, got.Load().(error), ErrClosed)
	assert.ErrorIs(t, q.Enqueue(context.Background(), &jobs.Job{ID: "x"}, 0), ErrClosed)
}
