// Package app 根据配置组装翻译流水线的各个组件
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerdneilsfield/go-translator-pipeline/internal/codec"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/config"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/orchestrator"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/queue"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/service"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/storage"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/factory"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/stats"
	"go.uber.org/zap"
)

const (
	// EventBufferSize 事件流保留的最大事件数
	EventBufferSize = 1024
	// statsSaveInterval serve 模式下保存提供商统计的间隔
	statsSaveInterval = 30 * time.Second
)

// App 组装好的流水线
type App struct {
	Config       *config.Config
	Store        *jobs.ObservedStore
	Queue        *queue.Queue
	Files        storage.FileStore
	Codecs       *codec.Registry
	Providers    *providers.Registry
	Stats        *stats.StatsManager
	Orchestrator *orchestrator.Orchestrator
	Service      *service.Service

	logger  *zap.Logger
	closers []func() error
}

// New 根据配置创建流水线，失败时已打开的资源会被释放
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Codecs: codec.DefaultRegistry(), logger: logger}
	a.Codecs.Register(codec.NewPDFCodec(codec.WithPDFFont(cfg.PDFFont)))

	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	store, closeStore, err := jobs.OpenStore(ctx, cfg.Store, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	a.closers = append(a.closers, closeStore)
	a.Store = jobs.NewObservedStore(store, jobs.NewEventBus(EventBufferSize))

	files, closeFiles, err := storage.New(ctx, cfg.Files)
	if err != nil {
		return fmt.Errorf("failed to open file store: %w", err)
	}
	a.closers = append(a.closers, closeFiles)
	a.Files = files

	overrides, err := providers.LoadLanguageOverrides(cfg.LanguageOverrides)
	if err != nil {
		return err
	}
	registry, closeProviders, err := factory.Build(ctx, cfg.Providers, overrides, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeProviders)

	a.Stats = stats.NewStatsManager(cfg.StatsPath, a.logger)
	if err := a.Stats.LoadFromDB(); err != nil {
		a.logger.Warn("failed to load provider stats, starting fresh", zap.Error(err))
	}
	a.closers = append(a.closers, a.Stats.SaveToDB)
	if a.Providers, err = stats.Wrap(registry, a.Stats); err != nil {
		return err
	}

	a.Queue = queue.New(a.Store, cfg.Queue, a.logger.Named("queue"))
	a.closers = append(a.closers, a.Queue.Close)

	a.Orchestrator = orchestrator.New(a.Codecs, a.Files, a.Providers, a.Queue, orchestrator.Config{
		ChunkSize:       cfg.ChunkSize,
		ProviderTimeout: cfg.ProviderTimeout,
		Policy:          a.Queue.Policy(),
	}, a.logger.Named("orchestrator"))

	a.Service = service.New(a.Store, a.Queue, a.Files, a.Codecs, a.Providers, a.logger.Named("service"))
	return nil
}

// Serve 恢复未完成的任务并运行工作池，直到 ctx 结束
func (a *App) Serve(ctx context.Context) error {
	if err := a.Queue.Open(ctx); err != nil {
		return err
	}

	a.logger.Info("worker pool started",
		zap.Int("workers", a.Config.Workers),
		zap.Strings("providers", a.Providers.IDs()))

	statsCtx, stopStats := context.WithCancel(context.WithoutCancel(ctx))
	statsDone := make(chan struct{})
	go func() {
		defer close(statsDone)
		a.Stats.AutoSaveRoutine(statsCtx, statsSaveInterval)
	}()

	pool := queue.NewPool(a.Queue, a.Orchestrator.Process, a.Config.Workers, a.logger.Named("pool"))
	err := pool.Run(ctx)

	stopStats()
	<-statsDone
	a.logger.Info("worker pool stopped")
	return err
}

// ProcessJob 在当前进程内处理单个已提交的任务，直到它进入终态
func (a *App) ProcessJob(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := a.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}
	if err := a.Queue.Enqueue(ctx, job, job.Priority); err != nil {
		return nil, err
	}

	for {
		lease, err := a.Queue.Dequeue(ctx)
		if err != nil {
			return nil, err
		}
		lease.Done(ctx, a.Orchestrator.Process(ctx, lease.Job))

		job, err = a.Store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		// 重新投递后条目由退避定时器放回队列
	}
}

// Close 按创建的逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
