// Package queue 实现带优先级、租约、重投与清理的任务队列
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
	"go.uber.org/zap"
)

// ErrClosed 队列已关闭
var ErrClosed = errors.New("queue closed")

// Config 队列配置
type Config struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	// Retention 已结束条目在簿记中保留的时长
	Retention time.Duration `mapstructure:"retention"`
	// PollInterval 扫描其他进程提交的任务的间隔，0 表示不扫描
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	policy := DefaultRetryPolicy()
	return Config{
		MaxAttempts:    policy.MaxAttempts,
		InitialBackoff: policy.InitialBackoff,
		MaxBackoff:     policy.MaxBackoff,
		BackoffFactor:  policy.Factor,
		Retention:      time.Hour,
		PollInterval:   2 * time.Second,
	}
}

// Policy 由配置生成重试策略
func (c Config) Policy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		Factor:         c.BackoffFactor,
	}
}

type entryState int

const (
	stateQueued entryState = iota
	stateLeased
	stateDone
)

type entry struct {
	id         string
	priority   int
	seq        uint64
	state      entryState
	inHeap     bool
	finishedAt time.Time
	index      int
}

// entryHeap 优先级高的在前，同优先级先进先出
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, k int) bool {
	if h[i].priority != h[k].priority {
		return h[i].priority > h[k].priority
	}
	return h[i].seq < h[k].seq
}
func (h entryHeap) Swap(i, k int) {
	h[i], h[k] = h[k], h[i]
	h[i].index = i
	h[k].index = k
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Result 任务最终结果
type Result struct {
	OutputRef string
	Reason    jobs.FailureReason
	Message   string
}

// Queue 进程内优先级队列，记录状态保存在 jobs.Store 中
type Queue struct {
	store  jobs.Store
	config Config
	policy RetryPolicy
	logger *zap.Logger

	mu      sync.Mutex
	heap    entryHeap
	entries map[string]*entry
	seq     uint64
	notify  chan struct{}
	closed  bool
	timers  map[string]*time.Timer

	stop chan struct{}
	wg   sync.WaitGroup
}

// New 创建队列
func New(store jobs.Store, config Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}
	return &Queue{
		store:   store,
		config:  config,
		policy:  config.Policy(),
		logger:  logger,
		entries: make(map[string]*entry),
		notify:  make(chan struct{}),
		timers:  make(map[string]*time.Timer),
		stop:    make(chan struct{}),
	}
}

// Policy 返回步骤级重试策略
func (q *Queue) Policy() RetryPolicy {
	return q.policy
}

// Store 返回底层记录存储
func (q *Queue) Store() jobs.Store {
	return q.store
}

// Open 从存储恢复未结束的任务，并启动清理与扫描
func (q *Queue) Open(ctx context.Context) error {
	pending, err := q.store.List(ctx, jobs.Filter{Statuses: []jobs.Status{jobs.StatusQueued, jobs.StatusProcessing}})
	if err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	for _, job := range pending {
		if err := q.push(job.ID, job.Priority); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		q.logger.Info("recovered unfinished jobs", zap.Int("count", len(pending)))
	}

	q.wg.Add(1)
	go q.janitor()
	if q.config.PollInterval > 0 {
		q.wg.Add(1)
		go q.poller()
	}
	return nil
}

// Close 停止后台任务并唤醒所有等待者
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	close(q.notify)
	q.mu.Unlock()

	close(q.stop)
	q.wg.Wait()
	return nil
}

// Enqueue 把已创建的任务放入队列，放入堆后返回
func (q *Queue) Enqueue(ctx context.Context, job *jobs.Job, priority int) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("enqueue: job id cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.push(job.ID, priority)
}

func (q *Queue) push(id string, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if e, ok := q.entries[id]; ok && e.state != stateDone {
		return nil
	}

	q.seq++
	e := &entry{id: id, priority: priority, seq: q.seq, state: stateQueued}
	q.entries[id] = e
	q.pushLocked(e)
	return nil
}

// pushLocked 入堆并唤醒等待者（需要已持有锁）
func (q *Queue) pushLocked(e *entry) {
	e.state = stateQueued
	e.inHeap = true
	heap.Push(&q.heap, e)
	close(q.notify)
	q.notify = make(chan struct{})
}

// Dequeue 阻塞直到认领到一个任务
func (q *Queue) Dequeue(ctx context.Context) (*Lease, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if q.heap.Len() == 0 {
			ch := q.notify
			q.mu.Unlock()

			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		e := heap.Pop(&q.heap).(*entry)
		e.inHeap = false
		e.state = stateLeased
		q.mu.Unlock()

		job, err := q.claim(ctx, e.id)
		if err != nil {
			if ctx.Err() != nil {
				q.release(e)
				return nil, ctx.Err()
			}
			if errors.Is(err, jobs.ErrNotFound) || errors.Is(err, jobs.ErrTerminal) {
				q.finish(e)
				continue
			}
			q.logger.Warn("failed to claim job, retrying later", zap.String("job_id", e.id), zap.Error(err))
			q.redeliver(e, q.policy.Backoff(1))
			continue
		}

		return &Lease{queue: q, entry: e, Job: job}, nil
	}
}

// claim 原子地把记录切换为 processing
func (q *Queue) claim(ctx context.Context, id string) (*jobs.Job, error) {
	return q.store.Update(ctx, id, func(j *jobs.Job) error {
		return j.Start()
	})
}

// release 归还未处理的条目
func (q *Queue) release(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pushLocked(e)
}

// finish 标记条目结束
func (q *Queue) finish(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e.state = stateDone
	e.finishedAt = time.Now()
}

// redeliver 延迟后重新入堆
func (q *Queue) redeliver(e *entry, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	e.state = stateQueued
	q.timers[e.id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, e.id)
		if q.closed || e.state != stateQueued || e.inHeap {
			return
		}
		q.pushLocked(e)
	})
}

// ReportProgress 提交分块进度，任务已取消时返回 jobs.ErrCanceled
func (q *Queue) ReportProgress(ctx context.Context, id string, processed, total int) (*jobs.Job, error) {
	return q.store.Update(ctx, id, func(j *jobs.Job) error {
		if j.Status == jobs.StatusCanceled {
			return jobs.ErrCanceled
		}
		if j.TotalChunks != total {
			if err := j.SetTotal(total); err != nil {
				return err
			}
		}
		return j.RecordProgress(processed)
	})
}

// ReportResult 持久化最终结果，任务已取消时返回 jobs.ErrCanceled
func (q *Queue) ReportResult(ctx context.Context, id string, result Result) (*jobs.Job, error) {
	return q.store.Update(ctx, id, func(j *jobs.Job) error {
		if j.Status == jobs.StatusCanceled {
			return jobs.ErrCanceled
		}
		if result.OutputRef != "" {
			return j.Complete(result.OutputRef)
		}
		return j.Fail(result.Reason, result.Message)
	})
}

// ActiveCount 排队中与已租出的条目数
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.entries {
		if e.state != stateDone {
			n++
		}
	}
	return n
}

// Prune 移除超过保留期的已结束条目，不影响存储中的记录
func (q *Queue) Prune() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-q.config.Retention)
	removed := 0
	for id, e := range q.entries {
		if e.state == stateDone && !e.finishedAt.After(cutoff) {
			delete(q.entries, id)
			removed++
		}
	}
	return removed
}

// Poll 把其他进程提交到存储中的排队任务放入队列
func (q *Queue) Poll(ctx context.Context) (int, error) {
	queued, err := q.store.List(ctx, jobs.Filter{Statuses: []jobs.Status{jobs.StatusQueued}})
	if err != nil {
		return 0, fmt.Errorf("failed to poll jobs: %w", err)
	}

	added := 0
	for _, job := range queued {
		q.mu.Lock()
		_, known := q.entries[job.ID]
		q.mu.Unlock()
		if known {
			continue
		}
		if err := q.push(job.ID, job.Priority); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

func (q *Queue) janitor() {
	defer q.wg.Done()

	interval := q.config.Retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			if n := q.Prune(); n > 0 {
				q.logger.Debug("pruned finished queue entries", zap.Int("count", n))
			}
		}
	}
}

func (q *Queue) poller() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), q.config.PollInterval*4)
			if n, err := q.Poll(ctx); err != nil {
				q.logger.Warn("job poll failed", zap.Error(err))
			} else if n > 0 {
				q.logger.Debug("picked up submitted jobs", zap.Int("count", n))
			}
			cancel()
		}
	}
}

// PanicError 处理任务时发生的 panic
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Lease 一次任务租约，每个租约必须调用一次 Done
type Lease struct {
	queue *Queue
	entry *entry
	once  sync.Once

	// Job 认领时的记录快照
	Job *jobs.Job
}

// Attempt 当前是第几次任务级尝试
func (l *Lease) Attempt() int {
	return l.Job.Attempts
}

// Done 结束租约
func (l *Lease) Done(ctx context.Context, err error) {
	l.once.Do(func() { l.done(ctx, err) })
}

func (l *Lease) done(ctx context.Context, err error) {
	q := l.queue
	log := q.logger.With(zap.String("job_id", l.Job.ID), zap.Int("attempt", l.Job.Attempts))

	switch {
	case err == nil:
		q.finish(l.entry)
		return

	case errors.Is(err, jobs.ErrCanceled):
		log.Info("job canceled")
		q.finish(l.entry)
		return

	case errors.Is(err, jobs.ErrNotFound):
		log.Info("job deleted while processing")
		q.finish(l.entry)
		return

	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// 进程退出，记录保持 processing，下次 Open 时恢复
		log.Info("job interrupted by shutdown")
		q.release(l.entry)
		return
	}

	writeCtx := context.WithoutCancel(ctx)

	if reason, ok := jobs.ReasonFor(err); ok {
		log.Warn("job failed", zap.String("reason", string(reason)), zap.Error(err))
		q.fail(writeCtx, l.entry, Result{Reason: reason, Message: jobs.FailureMessage(err)})
		return
	}

	maxAttempts := max(q.config.MaxAttempts, 1)
	if l.Job.Attempts >= maxAttempts {
		log.Error("job attempts exhausted", zap.Error(err))
		q.fail(writeCtx, l.entry, Result{Reason: jobs.ReasonInternalError, Message: jobs.FailureMessage(err)})
		return
	}

	delay := q.policy.Backoff(l.Job.Attempts)
	log.Warn("job attempt failed, redelivering", zap.Duration("delay", delay), zap.Error(err))
	q.redeliver(l.entry, delay)
}

func (q *Queue) fail(ctx context.Context, e *entry, result Result) {
	if _, err := q.ReportResult(ctx, e.id, result); err != nil &&
		!errors.Is(err, jobs.ErrCanceled) && !errors.Is(err, jobs.ErrTerminal) {
		q.logger.Error("failed to persist job failure", zap.String("job_id", e.id), zap.Error(err))
	}
	q.finish(e)
}
