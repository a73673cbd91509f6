package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerdneilsfield/go-translator-pipeline/internal/app"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/config"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newHandler(t *testing.T) *handler {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Store.Driver = "memory"
	cfg.Files.Root = filepath.Join(t.TempDir(), "files")
	cfg.Providers.Enabled = []string{"raw"}
	cfg.Queue.PollInterval = 0
	cfg.StatsPath = ""

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return &handler{app: a, logger: zap.NewNop()}
}

func TestHandleJob(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()

	ref, err := h.app.Service.StoreSource(ctx, "a.txt", strings.NewReader("Hello."))
	require.NoError(t, err)
	id, err := h.app.Service.Submit(ctx, service.Request{TargetLanguage: "de", Provider: "raw", SourceRef: ref})
	require.NoError(t, err)

	resp, err := h.handle(ctx, json.RawMessage(`{"jobId":"`+id+`"}`))
	require.NoError(t, err)
	assert.Equal(t, id, resp.JobID)
	assert.Equal(t, string(jobs.StatusCompleted), resp.Status)
	assert.Equal(t, 100, resp.Progress)
	assert.Equal(t, "outputs/"+id+".txt", resp.OutputRef)
}

func TestHandleRejectedJob(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()

	id, err := h.app.Service.Submit(ctx, service.Request{TargetLanguage: "de", Provider: "raw", SourceRef: "sources/x.pptx"})
	require.NoError(t, err)

	resp, err := h.handle(ctx, json.RawMessage(`{"jobId":"`+id+`"}`))
	require.NoError(t, err)
	assert.Equal(t, string(jobs.StatusFailed), resp.Status)
	assert.Equal(t, jobs.ReasonUnsupportedFormat, resp.FailureReason)
}

func TestHandleWarmupAndInvalid(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()

	resp, err := h.handle(ctx, json.RawMessage(`{"source":"warmup","concurrency":3}`))
	require.NoError(t, err)
	assert.Equal(t, "warm", resp.Status)

	_, err = h.handle(ctx, json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "jobId is required")

	_, err = h.handle(ctx, json.RawMessage(`not json`))
	assert.ErrorContains(t, err, "invalid request")

	_, err = h.handle(ctx, json.RawMessage(`{"jobId":"missing"}`))
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}
