// Package jobs 定义翻译任务记录、状态机与记录存储
package jobs

import (
	"fmt"
	"math"
	"time"
)

// Status 任务状态
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// IsTerminal 是否为终态
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// IsActive 是否仍在队列中或正在处理
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusProcessing
}

// transitions 允许的状态迁移
var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCanceled, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCanceled},
}

// CanTransition 判断状态迁移是否合法
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// nowFunc 便于测试替换
var nowFunc = func() time.Time { return time.Now().UTC() }

// Job 翻译任务记录
type Job struct {
	ID              string        `json:"id" firestore:"id"`
	OwnerID         string        `json:"ownerId" firestore:"ownerId"`
	SourceLanguage  string        `json:"sourceLanguage" firestore:"sourceLanguage"`
	TargetLanguage  string        `json:"targetLanguage" firestore:"targetLanguage"`
	Provider        string        `json:"provider" firestore:"provider"`
	SourceRef       string        `json:"sourceRef" firestore:"sourceRef"`
	Format          string        `json:"format" firestore:"format"`
	Title           string        `json:"title,omitempty" firestore:"title"`
	Status          Status        `json:"status" firestore:"status"`
	Progress        int           `json:"progress" firestore:"progress"`
	TotalChunks     int           `json:"totalChunks" firestore:"totalChunks"`
	ProcessedChunks int           `json:"processedChunks" firestore:"processedChunks"`
	OutputRef       string        `json:"outputRef,omitempty" firestore:"outputRef"`
	FailureReason   FailureReason `json:"failureReason,omitempty" firestore:"failureReason"`
	FailureMessage  string        `json:"failureMessage,omitempty" firestore:"failureMessage"`
	Priority        int           `json:"priority" firestore:"priority"`
	Attempts        int           `json:"attempts" firestore:"attempts"`
	CreatedAt       time.Time     `json:"createdAt" firestore:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt" firestore:"updatedAt"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty" firestore:"completedAt"`
}

// Clone 深拷贝
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Transition 迁移到新状态
func (j *Job) Transition(to Status) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrTerminal, j.ID, j.Status)
	}
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = nowFunc()
	return nil
}

// Start 认领任务开始处理，重新投递时任务已处于 processing
func (j *Job) Start() error {
	if j.Status != StatusProcessing {
		if err := j.Transition(StatusProcessing); err != nil {
			return err
		}
	}
	j.Attempts++
	j.UpdatedAt = nowFunc()
	return nil
}

// SetTotal 记录分块总数
func (j *Job) SetTotal(total int) error {
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: cannot set total while %s", ErrInvalidTransition, j.Status)
	}
	if total < 0 {
		return fmt.Errorf("%w: total %d", ErrProgressOutOfRange, total)
	}
	if j.TotalChunks != total {
		// 分块结果是确定的，只有首次处理时才会走到这里
		j.TotalChunks = total
		j.ProcessedChunks = min(j.ProcessedChunks, total)
	}
	j.Progress = computeProgress(j.ProcessedChunks, j.TotalChunks)
	j.UpdatedAt = nowFunc()
	return nil
}

// RecordProgress 提交已处理分块数，低于已提交值时忽略
func (j *Job) RecordProgress(processed int) error {
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: cannot record progress while %s", ErrInvalidTransition, j.Status)
	}
	if processed < 0 || processed > j.TotalChunks {
		return fmt.Errorf("%w: %d of %d", ErrProgressOutOfRange, processed, j.TotalChunks)
	}
	if processed <= j.ProcessedChunks {
		return nil
	}
	j.ProcessedChunks = processed
	j.Progress = computeProgress(processed, j.TotalChunks)
	j.UpdatedAt = nowFunc()
	return nil
}

// Complete 标记完成
func (j *Job) Complete(outputRef string) error {
	if outputRef == "" {
		return fmt.Errorf("complete job %s: output reference cannot be empty", j.ID)
	}
	if j.Status == StatusProcessing && j.ProcessedChunks < j.TotalChunks {
		return fmt.Errorf("%w: complete with %d of %d chunks", ErrProgressOutOfRange, j.ProcessedChunks, j.TotalChunks)
	}
	if err := j.Transition(StatusCompleted); err != nil {
		return err
	}
	now := j.UpdatedAt
	j.OutputRef = outputRef
	j.Progress = 100
	j.CompletedAt = &now
	return nil
}

// Fail 标记失败
func (j *Job) Fail(reason FailureReason, message string) error {
	if err := j.Transition(StatusFailed); err != nil {
		return err
	}
	now := j.UpdatedAt
	j.OutputRef = ""
	j.FailureReason = reason
	j.FailureMessage = message
	j.CompletedAt = &now
	return nil
}

// Cancel 标记取消
func (j *Job) Cancel() error {
	if err := j.Transition(StatusCanceled); err != nil {
		return err
	}
	now := j.UpdatedAt
	j.OutputRef = ""
	j.CompletedAt = &now
	return nil
}

// Validate 检查记录不变量
func (j *Job) Validate() error {
	if j.ProcessedChunks < 0 || j.ProcessedChunks > j.TotalChunks {
		return fmt.Errorf("processed %d out of range [0, %d]", j.ProcessedChunks, j.TotalChunks)
	}
	if j.TotalChunks > 0 && j.Status != StatusCompleted && j.Progress != computeProgress(j.ProcessedChunks, j.TotalChunks) {
		return fmt.Errorf("progress %d does not match %d/%d", j.Progress, j.ProcessedChunks, j.TotalChunks)
	}
	if (j.OutputRef != "") != (j.Status == StatusCompleted) {
		return fmt.Errorf("output reference %q inconsistent with status %s", j.OutputRef, j.Status)
	}
	if (j.FailureReason != "") != (j.Status == StatusFailed) {
		return fmt.Errorf("failure reason %q inconsistent with status %s", j.FailureReason, j.Status)
	}
	return nil
}

func computeProgress(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(processed) / float64(total) * 100))
}
