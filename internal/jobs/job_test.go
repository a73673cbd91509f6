package jobs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(id string) *Job {
	return &Job{ID: id, Status: StatusQueued, CreatedAt: nowFunc()}
}

func TestTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusQueued:     {StatusProcessing, StatusCanceled, StatusFailed},
		StatusProcessing: {StatusCompleted, StatusFailed, StatusCanceled},
	}
	all := []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCanceled}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalIsFinal(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusFailed, StatusCanceled} {
		j := newJob("j")
		j.Status = st
		err := j.Transition(StatusProcessing)
		assert.ErrorIs(t, err, ErrTerminal, st)
		assert.ErrorIs(t, j.Cancel(), ErrTerminal, st)
		assert.Equal(t, st, j.Status)
	}
}

func TestInvalidTransition(t *testing.T) {
	j := newJob("j")
	assert.ErrorIs(t, j.Transition(StatusCompleted), ErrInvalidTransition)
	assert.ErrorIs(t, j.RecordProgress(1), ErrInvalidTransition)
}

func TestProgressLifecycle(t *testing.T) {
	j := newJob("j")
	require.NoError(t, j.Start())
	assert.Equal(t, 1, j.Attempts)
	assert.Equal(t, 0, j.Progress)

	require.NoError(t, j.SetTotal(3))
	assert.Equal(t, 0, j.Progress)

	require.NoError(t, j.RecordProgress(1))
	assert.Equal(t, 33, j.Progress)
	require.NoError(t, j.RecordProgress(2))
	assert.Equal(t, 67, j.Progress)

	// 重复或回退的提交被忽略
	require.NoError(t, j.RecordProgress(1))
	assert.Equal(t, 2, j.ProcessedChunks)
	assert.Equal(t, 67, j.Progress)

	assert.ErrorIs(t, j.RecordProgress(4), ErrProgressOutOfRange)
	assert.ErrorIs(t, j.Complete("out/j.txt"), ErrProgressOutOfRange)

	require.NoError(t, j.RecordProgress(3))
	require.NoError(t, j.Complete("out/j.txt"))
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
	assert.NotNil(t, j.CompletedAt)
	require.NoError(t, j.Validate())
}

func TestProgressRounding(t *testing.T) {
	cases := []struct{ processed, total, want int }{
		{1, 8, 13},
		{1, 200, 1},
		{1, 201, 0},
		{5, 10, 50},
		{7, 7, 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, computeProgress(tc.processed, tc.total), "%d/%d", tc.processed, tc.total)
	}
}

func TestCompleteZeroChunks(t *testing.T) {
	j := newJob("j")
	require.NoError(t, j.Start())
	require.NoError(t, j.SetTotal(0))
	require.NoError(t, j.Complete("out"))
	assert.Equal(t, 100, j.Progress)
	require.NoError(t, j.Validate())
}

func TestCompleteRequiresOutput(t *testing.T) {
	j := newJob("j")
	require.NoError(t, j.Start())
	assert.Error(t, j.Complete(""))
}

func TestRedeliveryKeepsProgress(t *testing.T) {
	j := newJob("j")
	require.NoError(t, j.Start())
	require.NoError(t, j.SetTotal(4))
	require.NoError(t, j.RecordProgress(2))

	require.NoError(t, j.Start())
	assert.Equal(t, 2, j.Attempts)
	require.NoError(t, j.SetTotal(4))
	assert.Equal(t, 2, j.ProcessedChunks)
	assert.Equal(t, 50, j.Progress)
}

func TestFailAndCancel(t *testing.T) {
	j := newJob("j")
	require.NoError(t, j.Fail(ReasonUnsupportedFormat, "unsupported format: .xyz"))
	assert.Equal(t, StatusFailed, j.Status)
	assert.Empty(t, j.OutputRef)
	require.NoError(t, j.Validate())

	c := newJob("c")
	require.NoError(t, c.Start())
	require.NoError(t, c.SetTotal(5))
	require.NoError(t, c.RecordProgress(2))
	require.NoError(t, c.Cancel())
	assert.Equal(t, StatusCanceled, c.Status)
	assert.Equal(t, 2, c.ProcessedChunks)
	require.NoError(t, c.Validate())
}

func TestValidateDetectsBrokenRecords(t *testing.T) {
	j := &Job{Status: StatusProcessing, TotalChunks: 2, ProcessedChunks: 1, Progress: 10}
	assert.Error(t, j.Validate())

	j = &Job{Status: StatusProcessing, OutputRef: "x"}
	assert.Error(t, j.Validate())

	j = &Job{Status: StatusCompleted}
	assert.Error(t, j.Validate())
}

func TestClone(t *testing.T) {
	j := newJob("j")
	require.NoError(t, j.Start())
	require.NoError(t, j.SetTotal(0))
	require.NoError(t, j.Complete("out"))

	c := j.Clone()
	*c.CompletedAt = c.CompletedAt.AddDate(1, 0, 0)
	assert.NotEqual(t, *j.CompletedAt, *c.CompletedAt)
	assert.Nil(t, (*Job)(nil).Clone())
}

func TestReasonFor(t *testing.T) {
	cases := map[providers.Kind]FailureReason{
		providers.KindAuth:                ReasonProviderAuthFailed,
		providers.KindQuota:               ReasonProviderQuotaExceeded,
		providers.KindRateLimit:           ReasonProviderRateLimited,
		providers.KindUnavailable:         ReasonProviderUnavailable,
		providers.KindInternal:            ReasonProviderUnavailable,
		providers.KindBadRequest:          ReasonProviderBadRequest,
		providers.KindUnsupportedLanguage: ReasonProviderBadRequest,
		providers.KindNotProvisioned:      ReasonProviderBadRequest,
	}
	for kind, want := range cases {
		err := fmt.Errorf("chunk 2: %w", providers.NewError("deepl", kind, "m"))
		got, ok := ReasonFor(err)
		require.True(t, ok, kind)
		assert.Equal(t, want, got, kind)
	}

	got, ok := ReasonFor(NewPipelineError(ReasonExtractionFailed, errors.New("zip: not a valid zip file")))
	require.True(t, ok)
	assert.Equal(t, ReasonExtractionFailed, got)

	_, ok = ReasonFor(errors.New("boom"))
	assert.False(t, ok)
	_, ok = ReasonFor(nil)
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(providers.NewError("p", providers.KindRateLimit, "slow")))
	assert.True(t, IsRetryable(NewPipelineError(ReasonProviderUnavailable, nil)))
	assert.False(t, IsRetryable(providers.NewError("p", providers.KindAuth, "bad key")))
	assert.False(t, IsRetryable(NewPipelineError(ReasonReconstructionFailed, errors.New("disk full"))))
	assert.False(t, IsRetryable(errors.New("unclassified")))
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "deepl: quota exhausted", FailureMessage(providers.NewError("deepl", providers.KindQuota, "quota exhausted")))
	assert.Equal(t, "zip: not a valid zip file", FailureMessage(NewPipelineError(ReasonExtractionFailed, errors.New("zip: not a valid zip file"))))
	assert.Empty(t, FailureMessage(nil))

	long := make([]rune, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, []rune(FailureMessage(errors.New(string(long)))), 203)
}
