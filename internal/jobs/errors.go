package jobs

import (
	"errors"
	"fmt"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("job not found")
	// ErrExists 记录已存在
	ErrExists = errors.New("job already exists")
	// ErrInvalidTransition 非法状态迁移
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrTerminal 任务已结束
	ErrTerminal = errors.New("job already finished")
	// ErrProgressOutOfRange 进度超出范围
	ErrProgressOutOfRange = errors.New("progress out of range")
	// ErrCanceled 任务已被取消
	ErrCanceled = errors.New("job canceled")
)

// FailureReason 失败原因
type FailureReason string

const (
	ReasonUnsupportedFormat     FailureReason = "UnsupportedFormat"
	ReasonExtractionFailed      FailureReason = "ExtractionFailed"
	ReasonProviderAuthFailed    FailureReason = "ProviderAuthFailed"
	ReasonProviderQuotaExceeded FailureReason = "ProviderQuotaExceeded"
	ReasonProviderRateLimited   FailureReason = "ProviderRateLimited"
	ReasonProviderUnavailable   FailureReason = "ProviderUnavailable"
	ReasonProviderBadRequest    FailureReason = "ProviderBadRequest"
	ReasonReconstructionFailed  FailureReason = "ReconstructionFailed"
	ReasonInternalError         FailureReason = "InternalError"
)

// IsRetryable 是否可重试
func (r FailureReason) IsRetryable() bool {
	switch r {
	case ReasonProviderQuotaExceeded, ReasonProviderRateLimited, ReasonProviderUnavailable:
		return true
	}
	return false
}

// PipelineError 带失败原因的流水线错误
type PipelineError struct {
	Reason FailureReason
	Err    error
}

// NewPipelineError 创建流水线错误
func NewPipelineError(reason FailureReason, err error) *PipelineError {
	return &PipelineError{Reason: reason, Err: err}
}

// Error 实现error接口
func (e *PipelineError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

// Unwrap 返回底层错误
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// ReasonFor 对错误分类，未分类的错误返回 false
func ReasonFor(err error) (FailureReason, bool) {
	if err == nil {
		return "", false
	}

	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Reason, true
	}

	var provErr *providers.Error
	if errors.As(err, &provErr) {
		return reasonForKind(provErr.Kind), true
	}
	return "", false
}

func reasonForKind(kind providers.Kind) FailureReason {
	switch kind {
	case providers.KindAuth:
		return ReasonProviderAuthFailed
	case providers.KindQuota:
		return ReasonProviderQuotaExceeded
	case providers.KindRateLimit:
		return ReasonProviderRateLimited
	case providers.KindUnavailable, providers.KindInternal:
		return ReasonProviderUnavailable
	default:
		return ReasonProviderBadRequest
	}
}

// IsRetryable 错误是否可在步骤级别重试
func IsRetryable(err error) bool {
	reason, ok := ReasonFor(err)
	return ok && reason.IsRetryable()
}

// FailureMessage 生成面向用户的简短失败描述
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}

	var provErr *providers.Error
	if errors.As(err, &provErr) {
		if provErr.Message != "" {
			return provErr.Provider + ": " + provErr.Message
		}
		return provErr.Provider + ": " + string(provErr.Kind)
	}

	msg := err.Error()
	var perr *PipelineError
	if errors.As(err, &perr) && perr.Err != nil {
		msg = perr.Err.Error()
	}
	return truncate(msg, 200)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
