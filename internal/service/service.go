// Package service 提供任务提交、查询、取消与删除的 Go API
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/codec"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/queue"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/storage"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"go.uber.org/zap"
)

// ErrInvalidRequest 请求缺少必填字段
var ErrInvalidRequest = errors.New("invalid request")

// Request 提交请求
type Request struct {
	OwnerID        string
	SourceLanguage string
	TargetLanguage string
	Provider       string
	SourceRef      string
	// FileName 用于推断格式，为空时使用 SourceRef
	FileName string
	// Format 显式指定格式，优先于扩展名
	Format   string
	Title    string
	Priority int
}

func (r Request) validate() error {
	var missing []string
	if strings.TrimSpace(r.SourceRef) == "" {
		missing = append(missing, "source reference")
	}
	if strings.TrimSpace(r.TargetLanguage) == "" {
		missing = append(missing, "target language")
	}
	if strings.TrimSpace(r.Provider) == "" {
		missing = append(missing, "provider")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// Service 任务服务
type Service struct {
	store     *jobs.ObservedStore
	queue     *queue.Queue
	files     storage.FileStore
	codecs    *codec.Registry
	providers *providers.Registry
	logger    *zap.Logger
}

// New 创建服务，queue 必须建立在同一个 store 之上
func New(store *jobs.ObservedStore, q *queue.Queue, files storage.FileStore, codecs *codec.Registry, registry *providers.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		queue:     q,
		files:     files,
		codecs:    codecs,
		providers: registry,
		logger:    logger,
	}
}

// Providers 已注册的提供商
func (s *Service) Providers() []providers.Provider {
	return s.providers.List()
}

// StoreSource 保存源文件并返回引用
func (s *Service) StoreSource(ctx context.Context, name string, r io.Reader) (string, error) {
	ref := "sources/" + uuid.NewString() + strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))

	w, err := s.files.Create(ctx, ref)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		_ = s.files.Delete(context.WithoutCancel(ctx), ref)
		return "", fmt.Errorf("failed to store source: %w", err)
	}
	if err := w.Close(); err != nil {
		_ = s.files.Delete(context.WithoutCancel(ctx), ref)
		return "", fmt.Errorf("failed to store source: %w", err)
	}
	return ref, nil
}

// Submit 创建任务并立即返回 ID。
// 无法处理的格式或提供商会直接生成失败记录，不进入队列。
func (s *Service) Submit(ctx context.Context, req Request) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	job := &jobs.Job{
		ID:             uuid.NewString(),
		OwnerID:        req.OwnerID,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Provider:       req.Provider,
		SourceRef:      req.SourceRef,
		Format:         req.Format,
		Title:          req.Title,
		Status:         jobs.StatusQueued,
		Priority:       req.Priority,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	log := s.logger.With(zap.String("job_id", job.ID), zap.String("provider", job.Provider))

	format, err := s.resolveFormat(req)
	if err != nil {
		if job.Format == "" {
			job.Format = strings.TrimPrefix(path.Ext(s.nameOf(req)), ".")
		}
		return s.reject(ctx, log, job, jobs.ReasonUnsupportedFormat, err)
	}
	job.Format = string(format)

	if _, err := s.providers.Get(req.Provider); err != nil {
		return s.reject(ctx, log, job, jobs.ReasonProviderBadRequest, err)
	}

	if err := s.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, job, job.Priority); err != nil {
		if _, ferr := s.store.Update(context.WithoutCancel(ctx), job.ID, func(j *jobs.Job) error {
			return j.Fail(jobs.ReasonInternalError, "failed to enqueue job")
		}); ferr != nil {
			log.Error("failed to mark job failed", zap.Error(ferr))
		}
		return job.ID, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Info("job submitted", zap.String("format", job.Format), zap.Int("priority", job.Priority))
	return job.ID, nil
}

// reject 保存一条已失败的记录
func (s *Service) reject(ctx context.Context, log *zap.Logger, job *jobs.Job, reason jobs.FailureReason, cause error) (string, error) {
	if err := job.Fail(reason, jobs.FailureMessage(cause)); err != nil {
		return "", err
	}
	if err := s.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	log.Warn("job rejected", zap.String("reason", string(reason)), zap.Error(cause))
	return job.ID, nil
}

func (s *Service) nameOf(req Request) string {
	if req.FileName != "" {
		return req.FileName
	}
	return req.SourceRef
}

func (s *Service) resolveFormat(req Request) (codec.Format, error) {
	if req.Format != "" {
		c, err := s.codecs.Get(codec.Format(strings.ToLower(req.Format)))
		if err != nil {
			return "", err
		}
		return c.Format(), nil
	}
	return s.codecs.Detect(s.nameOf(req))
}

// Status 查询任务
func (s *Service) Status(ctx context.Context, id string) (*jobs.Job, error) {
	return s.store.Get(ctx, id)
}

// Cancel 取消排队中或处理中的任务，已结束的任务保持不变
func (s *Service) Cancel(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := s.store.Update(ctx, id, func(j *jobs.Job) error {
		if j.Status.IsTerminal() {
			return nil
		}
		return j.Cancel()
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("job cancel requested", zap.String("job_id", id), zap.String("status", string(job.Status)))
	return job, nil
}

// Delete 取消仍在运行的任务，删除记录并释放输出文件
func (s *Service) Delete(ctx context.Context, id string) error {
	job, err := s.Cancel(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if job.OutputRef != "" {
		if err := s.files.Delete(ctx, job.OutputRef); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to delete output: %w", err)
		}
	}
	s.logger.Info("job deleted", zap.String("job_id", id))
	return nil
}

// List 列出任务
func (s *Service) List(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error) {
	return s.store.List(ctx, filter)
}

// Events 返回序号大于 since 的事件
func (s *Service) Events(since uint64) []jobs.Event {
	return s.store.Bus().Since(since)
}

// WaitEvents 阻塞直到有新事件
func (s *Service) WaitEvents(ctx context.Context, since uint64) ([]jobs.Event, error) {
	return s.store.Bus().Wait(ctx, since)
}

// Await 轮询直到任务结束
func (s *Service) Await(ctx context.Context, id string, interval time.Duration) (*jobs.Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// OpenOutput 打开已完成任务的输出
func (s *Service) OpenOutput(ctx context.Context, id string) (io.ReadCloser, *jobs.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != jobs.StatusCompleted {
		return nil, job, fmt.Errorf("job %s is %s, not completed", id, job.Status)
	}
	rc, err := s.files.Open(ctx, job.OutputRef)
	if err != nil {
		return nil, job, err
	}
	return rc, job, nil
}
