// Package orchestrator 驱动单个翻译任务的提取、分块、翻译与重建
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerdneilsfield/go-translator-pipeline/internal/codec"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/queue"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/storage"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/chunker"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"go.uber.org/zap"
)

// Reporter 进度与结果的持久化，任务被取消时返回 jobs.ErrCanceled
type Reporter interface {
	ReportProgress(ctx context.Context, id string, processed, total int) (*jobs.Job, error)
	ReportResult(ctx context.Context, id string, result queue.Result) (*jobs.Job, error)
}

// Config 编排器配置
type Config struct {
	ChunkSize       int
	ProviderTimeout time.Duration
	Policy          queue.RetryPolicy
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ChunkSize:       chunker.DefaultLimit,
		ProviderTimeout: 60 * time.Second,
		Policy:          queue.DefaultRetryPolicy(),
	}
}

// Orchestrator 翻译编排器
type Orchestrator struct {
	codecs    *codec.Registry
	files     storage.FileStore
	providers *providers.Registry
	reporter  Reporter
	chunker   *chunker.Chunker
	config    Config
	logger    *zap.Logger
}

// New 创建编排器
func New(codecs *codec.Registry, files storage.FileStore, registry *providers.Registry, reporter Reporter, config Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = DefaultConfig().ProviderTimeout
	}
	return &Orchestrator{
		codecs:    codecs,
		files:     files,
		providers: registry,
		reporter:  reporter,
		chunker:   chunker.New(config.ChunkSize),
		config:    config,
		logger:    logger,
	}
}

// Process 适配 queue.RunFunc
func (o *Orchestrator) Process(ctx context.Context, job *jobs.Job) error {
	_, err := o.Run(ctx, job)
	return err
}

// Run 执行任务并返回输出引用
func (o *Orchestrator) Run(ctx context.Context, job *jobs.Job) (string, error) {
	log := o.logger.With(zap.String("job_id", job.ID), zap.String("provider", job.Provider))
	startTime := time.Now()

	provider, err := o.providers.Get(job.Provider)
	if err != nil {
		return "", jobs.NewPipelineError(jobs.ReasonProviderBadRequest, err)
	}

	policy := o.config.Policy
	format := codec.Format(job.Format)

	log.Info("job started",
		zap.String("format", job.Format),
		zap.String("source_language", job.SourceLanguage),
		zap.String("target_language", job.TargetLanguage),
		zap.Int("attempt", job.Attempts))

	// 提取
	var extracted *codec.Extracted
	err = o.step(ctx, log, policy, "extract", func(ctx context.Context) error {
		var err error
		extracted, err = o.codecs.ExtractText(ctx, o.files, job.SourceRef, format)
		return err
	})
	if err != nil {
		return "", err
	}

	// 分块，翻译开始前提交总数
	chunks := o.chunker.Split(extracted.Text)
	if _, err := o.reporter.ReportProgress(ctx, job.ID, 0, len(chunks)); err != nil {
		return "", err
	}
	log.Debug("text chunked", zap.Int("chunks", len(chunks)), zap.Int("limit", o.chunker.Limit()))

	// 逐块翻译
	var out strings.Builder
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var translated string
		err := o.step(ctx, log.With(zap.Int("chunk", i+1)), policy, "translate", func(ctx context.Context) error {
			var err error
			translated, err = o.translate(ctx, provider, chunk, job.SourceLanguage, job.TargetLanguage)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("translate chunk %d/%d: %w", i+1, len(chunks), err)
		}
		out.WriteString(translated)

		if _, err := o.reporter.ReportProgress(ctx, job.ID, i+1, len(chunks)); err != nil {
			return "", err
		}
		log.Debug("chunk translated", zap.Int("chunk", i+1), zap.Int("total", len(chunks)))
	}

	// 重建
	title := job.Title
	if title == "" {
		title = extracted.Title
	}
	meta := codec.Metadata{
		Title:          title,
		Language:       job.TargetLanguage,
		SourceLanguage: job.SourceLanguage,
		Provider:       provider.ID(),
	}
	outRef := storage.OutputRef(job.ID, o.codecs.Extension(format))
	err = o.step(ctx, log, policy, "reconstruct", func(ctx context.Context) error {
		return o.codecs.Reconstruct(ctx, o.files, out.String(), outRef, format, meta)
	})
	if err != nil {
		return "", err
	}

	// 完成，提交前被取消时丢弃输出
	if _, err := o.reporter.ReportResult(ctx, job.ID, queue.Result{OutputRef: outRef}); err != nil {
		if derr := o.files.Delete(context.WithoutCancel(ctx), outRef); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
			log.Warn("failed to delete discarded output", zap.String("output", outRef), zap.Error(derr))
		}
		return "", err
	}

	log.Info("job completed",
		zap.String("output", outRef),
		zap.Int("chunks", len(chunks)),
		zap.Duration("duration", time.Since(startTime)))
	return outRef, nil
}

// step 以重试策略执行一个步骤
func (o *Orchestrator) step(ctx context.Context, log *zap.Logger, policy queue.RetryPolicy, name string, fn func(ctx context.Context) error) error {
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("step failed, retrying",
			zap.String("step", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	return policy.Do(ctx, func(ctx context.Context, _ int) error {
		return fn(ctx)
	})
}

// translate 单次调用带超时，超时归类为 unavailable
func (o *Orchestrator) translate(ctx context.Context, provider providers.Provider, text, sourceLang, targetLang string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.config.ProviderTimeout)
	defer cancel()

	result, err := provider.Translate(callCtx, text, sourceLang, targetLang)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		if perr, ok := providers.AsError(err); ok && perr.Kind == providers.KindUnavailable {
			return "", err
		}
		return "", providers.WrapError(provider.ID(), providers.KindUnavailable,
			fmt.Errorf("request timed out after %s: %w", o.config.ProviderTimeout, err))
	}
	return "", err
}
