package queue

import (
	"context"
	"errors"

	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunFunc 处理单个任务
type RunFunc func(ctx context.Context, job *jobs.Job) error

// Pool 固定数量的工作协程，每个协程处理完一个任务才领取下一个
type Pool struct {
	queue   *Queue
	run     RunFunc
	workers int
	logger  *zap.Logger
}

// NewPool 创建工作池
func NewPool(q *Queue, run RunFunc, workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{queue: q, run: run, workers: workers, logger: logger}
}

// Run 运行直到 ctx 结束或队列关闭
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			return p.work(gctx, worker)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (p *Pool) work(ctx context.Context, worker int) error {
	log := p.logger.With(zap.Int("worker", worker))
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	for {
		lease, err := p.queue.Dequeue(ctx)
		if err != nil {
			return err
		}

		err = p.runSafe(ctx, lease.Job)
		lease.Done(ctx, err)
	}
}

// runSafe 把 panic 转为错误
func (p *Pool) runSafe(ctx context.Context, job *jobs.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.String("job_id", job.ID), zap.Any("panic", r))
			err = &PanicError{Value: r}
		}
	}()
	return p.run(ctx, job)
}
