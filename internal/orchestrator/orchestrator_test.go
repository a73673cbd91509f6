package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/codec"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/queue"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/storage"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type funcProvider struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int, text string) (string, error)
}

func (p *funcProvider) ID() string { return "fake" }
func (p *funcProvider) DisplayName() string { return "Fake" }
func (p *funcProvider) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	return p.fn(ctx, int(p.calls.Add(1)), text)
}
func (p *funcProvider) MapLanguageCode(code string) string { return code }
func (p *funcProvider) IsAvailable(ctx context.Context) bool { return true }

func upper(ctx context.Context, call int, text string) (string, error) {
	return strings.ToUpper(text), nil
}

type fixture struct {
	store    *jobs.MemoryStore
	queue    *queue.Queue
	files    *storage.LocalStore
	provider *funcProvider
	orch     *Orchestrator
}

func newFixture(t *testing.T, chunkSize int, fn func(ctx context.Context, call int, text string) (string, error)) *fixture {
	t.Helper()

	store := jobs.NewMemoryStore()
	q := queue.New(store, queue.Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	}, zap.NewNop())
	t.Cleanup(func() { _ = q.Close() })

	files, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	provider := &funcProvider{fn: fn}
	registry := providers.NewRegistry()
	require.NoError(t, registry.Register(provider))

	config := Config{ChunkSize: chunkSize, ProviderTimeout: time.Second, Policy: q.Policy()}
	return &fixture{
		store:    store,
		queue:    q,
		files:    files,
		provider: provider,
		orch:     New(codec.DefaultRegistry(), files, registry, q, config, zap.NewNop()),
	}
}

// submit 写入源文件、创建记录并认领
func (f *fixture) submit(t *testing.T, text, format, provider string) *queue.Lease {
	t.Helper()
	ctx := context.Background()

	id := uuid.NewString()
	ref := "sources/" + id + ".txt"
	path, err := f.files.Path(ref)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	job := &jobs.Job{
		ID:             id,
		OwnerID:        "owner",
		SourceLanguage: "en",
		TargetLanguage: "de",
		Provider:       provider,
		SourceRef:      ref,
		Format:         format,
		Status:         jobs.StatusQueued,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, f.store.Create(ctx, job))
	require.NoError(t, f.queue.Enqueue(ctx, job, 0))

	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	lease, err := f.queue.Dequeue(dctx)
	require.NoError(t, err)
	return lease
}

func (f *fixture) record(t *testing.T, id string) *jobs.Job {
	t.Helper()
	job, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (f *fixture) outputs(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.files.Root(), "outputs"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func TestRunUppercaseEndToEnd(t *testing.T) {
	f := newFixture(t, 1000, upper)
	text := strings.Repeat("A quick brown fox jumps. ", 100)
	require.Len(t, text, 2500)

	lease := f.submit(t, text, "text", "fake")
	outRef, err := f.orch.Run(context.Background(), lease.Job)
	require.NoError(t, err)
	lease.Done(context.Background(), nil)

	job := f.record(t, lease.Job.ID)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 3, job.TotalChunks)
	assert.Equal(t, 3, job.ProcessedChunks)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, outRef, job.OutputRef)
	assert.Equal(t, "outputs/"+job.ID+".txt", outRef)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, int32(3), f.provider.calls.Load())

	path, err := f.files.Path(outRef)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.ToUpper(text), string(data))
	assert.Equal(t, 0, f.queue.ActiveCount())
}

func TestRunEmptyTextCompletes(t *testing.T) {
	f := newFixture(t, 1000, upper)

	lease := f.submit(t, "", "text", "fake")
	_, err := f.orch.Run(context.Background(), lease.Job)
	require.NoError(t, err)

	job := f.record(t, lease.Job.ID)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 0, job.TotalChunks)
	assert.Equal(t, 100, job.Progress)
	assert.Zero(t, f.provider.calls.Load())
}

func TestRunCancelAfterChunks(t *testing.T) {
	var f *fixture
	var jobID string
	f = newFixture(t, 10, func(ctx context.Context, call int, text string) (string, error) {
		if call == 3 {
			_, err := f.store.Update(ctx, jobID, func(j *jobs.Job) error { return j.Cancel() })
			require.NoError(t, err)
		}
		return strings.ToUpper(text), nil
	})

	lease := f.submit(t, "Aaa aaa. Bbb bbb. Ccc ccc. Ddd ddd.", "text", "fake")
	jobID = lease.Job.ID

	_, err := f.orch.Run(context.Background(), lease.Job)
	require.ErrorIs(t, err, jobs.ErrCanceled)
	lease.Done(context.Background(), err)

	job := f.record(t, jobID)
	assert.Equal(t, jobs.StatusCanceled, job.Status)
	assert.Equal(t, 4, job.TotalChunks)
	assert.Equal(t, 2, job.ProcessedChunks)
	assert.Equal(t, 50, job.Progress)
	assert.Empty(t, job.OutputRef)
	assert.Empty(t, f.outputs(t))
	assert.Equal(t, int32(3), f.provider.calls.Load(), "no chunk is translated after the cancel is observed")
}

func TestRunPermanentFailureLeavesNoOutput(t *testing.T) {
	f := newFixture(t, 10, func(ctx context.Context, call int, text string) (string, error) {
		if call == 2 {
			return "", providers.NewError("fake", providers.KindAuth, "invalid api key")
		}
		return text, nil
	})

	lease := f.submit(t, "Aaa aaa. Bbb bbb. Ccc ccc.", "text", "fake")
	_, err := f.orch.Run(context.Background(), lease.Job)
	require.Error(t, err)

	reason, ok := jobs.ReasonFor(err)
	require.True(t, ok)
	assert.Equal(t, jobs.ReasonProviderAuthFailed, reason)
	assert.Equal(t, int32(2), f.provider.calls.Load(), "permanent errors are not retried")

	lease.Done(context.Background(), err)
	job := f.record(t, lease.Job.ID)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, jobs.ReasonProviderAuthFailed, job.FailureReason)
	assert.Equal(t, "fake: invalid api key", job.FailureMessage)
	assert.Equal(t, 1, job.ProcessedChunks)
	assert.Empty(t, job.OutputRef)
	assert.Empty(t, f.outputs(t))
}

func TestRunTimeoutsThenSuccess(t *testing.T) {
	f := newFixture(t, 1000, func(ctx context.Context, call int, text string) (string, error) {
		if call <= 2 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return strings.ToUpper(text), nil
	})
	f.orch.config.ProviderTimeout = 20 * time.Millisecond

	lease := f.submit(t, "Hello there.", "text", "fake")
	_, err := f.orch.Run(context.Background(), lease.Job)
	require.NoError(t, err)

	job := f.record(t, lease.Job.ID)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, int32(3), f.provider.calls.Load())
}

func TestRunRetriesExhausted(t *testing.T) {
	f := newFixture(t, 1000, func(ctx context.Context, call int, text string) (string, error) {
		return "", providers.NewError("fake", providers.KindRateLimit, "slow down")
	})

	lease := f.submit(t, "Hello there.", "text", "fake")
	_, err := f.orch.Run(context.Background(), lease.Job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 3 attempts")
	assert.Equal(t, int32(3), f.provider.calls.Load())

	lease.Done(context.Background(), err)
	job := f.record(t, lease.Job.ID)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, jobs.ReasonProviderRateLimited, job.FailureReason)
}

func TestRunTimeoutIsUnavailable(t *testing.T) {
	f := newFixture(t, 1000, func(ctx context.Context, call int, text string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	f.orch.config.ProviderTimeout = 5 * time.Millisecond

	lease := f.submit(t, "Hello there.", "text", "fake")
	_, err := f.orch.Run(context.Background(), lease.Job)

	reason, ok := jobs.ReasonFor(err)
	require.True(t, ok)
	assert.Equal(t, jobs.ReasonProviderUnavailable, reason)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunUnsupportedFormat(t *testing.T) {
	f := newFixture(t, 1000, upper)

	lease := f.submit(t, "Hello", "rtf", "fake")
	_, err := f.orch.Run(context.Background(), lease.Job)

	reason, ok := jobs.ReasonFor(err)
	require.True(t, ok)
	assert.Equal(t, jobs.ReasonUnsupportedFormat, reason)
	assert.Zero(t, f.provider.calls.Load())
}

func TestRunUnknownProvider(t *testing.T) {
	f := newFixture(t, 1000, upper)

	lease := f.submit(t, "Hello", "text", "missing")
	_, err := f.orch.Run(context.Background(), lease.Job)

	reason, ok := jobs.ReasonFor(err)
	require.True(t, ok)
	assert.Equal(t, jobs.ReasonProviderBadRequest, reason)
	assert.ErrorIs(t, err, providers.ErrUnknownProvider)
}

func TestRunContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, 10, func(_ context.Context, call int, text string) (string, error) {
		if call == 1 {
			cancel()
		}
		return text, nil
	})

	lease := f.submit(t, "Aaa aaa. Bbb bbb. Ccc ccc.", "text", "fake")
	_, err := f.orch.Run(ctx, lease.Job)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), f.provider.calls.Load())
	assert.Empty(t, f.outputs(t))
}

// cancelingReporter 模拟在重建之后、完成之前被取消
type cancelingReporter struct {
	Reporter
}

func (r cancelingReporter) ReportResult(ctx context.Context, id string, result queue.Result) (*jobs.Job, error) {
	return nil, jobs.ErrCanceled
}

func TestRunCanceledBeforeCompletionDiscardsOutput(t *testing.T) {
	f := newFixture(t, 1000, upper)
	f.orch.reporter = cancelingReporter{Reporter: f.queue}

	lease := f.submit(t, "Hello there.", "text", "fake")
	_, err := f.orch.Run(context.Background(), lease.Job)
	require.ErrorIs(t, err, jobs.ErrCanceled)
	assert.Empty(t, f.outputs(t))
}

func TestProcessWithPool(t *testing.T) {
	f := newFixture(t, 1000, upper)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id := uuid.NewString()
		ref := "sources/" + id + ".txt"
		path, err := f.files.Path(ref)
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("hello pool"), 0o644))

		job := &jobs.Job{ID: id, Provider: "fake", SourceRef: ref, Format: "text", TargetLanguage: "fr", Status: jobs.StatusQueued}
		require.NoError(t, f.store.Create(ctx, job))
		require.NoError(t, f.queue.Enqueue(ctx, job, 0))
		ids = append(ids, id)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- queue.NewPool(f.queue, f.orch.Process, 2, zap.NewNop()).Run(runCtx) }()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if f.record(t, id).Status != jobs.StatusCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
