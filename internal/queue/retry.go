package queue

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
)

// RetryPolicy 指数退避重试策略
type RetryPolicy struct {
	// 最大尝试次数（包含首次）
	MaxAttempts int `mapstructure:"max_attempts"`

	// 初始延迟时间
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`

	// 最大延迟时间
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// 退避因子
	Factor float64 `mapstructure:"backoff_factor"`

	// Retryable 判断错误是否可重试，默认使用 jobs.IsRetryable
	Retryable func(error) bool `mapstructure:"-"`

	// OnRetry 每次重试前调用
	OnRetry func(attempt int, err error, delay time.Duration) `mapstructure:"-"`
}

// DefaultRetryPolicy 返回默认重试策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Factor:         2.0,
	}
}

// Backoff 第 attempt 次失败后的等待时间，attempt 从 1 开始
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}

	delay := float64(p.InitialBackoff) * math.Pow(factor, float64(attempt-1))
	if p.MaxBackoff > 0 && delay > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(delay)
}

// Do 执行 fn，可重试的错误在退避后重试，耗尽次数后返回最后一次的错误
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = jobs.IsRetryable
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= maxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
