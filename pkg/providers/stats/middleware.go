package stats

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
)

// StatisticsMiddleware 统计中间件，包装的提供商行为不变
type StatisticsMiddleware struct {
	providers.Provider
	statsManager *StatsManager
}

var _ providers.Provider = (*StatisticsMiddleware)(nil)

// NewStatisticsMiddleware 创建统计中间件
func NewStatisticsMiddleware(next providers.Provider, statsManager *StatsManager) *StatisticsMiddleware {
	return &StatisticsMiddleware{Provider: next, statsManager: statsManager}
}

// Translate 带统计的翻译方法
func (sm *StatisticsMiddleware) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	startTime := time.Now()
	out, err := sm.Provider.Translate(ctx, text, sourceLang, targetLang)

	result := RequestResult{
		Success:      err == nil,
		Latency:      time.Since(startTime),
		CharactersIn: utf8.RuneCountInString(text),
	}
	if err == nil {
		result.CharactersOut = utf8.RuneCountInString(out)
	} else if errors.Is(err, context.Canceled) {
		result.Canceled = true
	} else {
		result.ErrorType = classifyError(err)
	}

	sm.statsManager.RecordRequest(sm.Provider.ID(), result)
	return out, err
}

// Unwrap 返回被包装的提供商
func (sm *StatisticsMiddleware) Unwrap() providers.Provider {
	return sm.Provider
}

// classifyError 按错误分类统计
func classifyError(err error) string {
	if perr, ok := providers.AsError(err); ok {
		return string(perr.Kind)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(providers.KindUnavailable)
	}
	return "unknown"
}

// Wrap 为注册表中的每个提供商加上统计，返回新的注册表
func Wrap(registry *providers.Registry, statsManager *StatsManager) (*providers.Registry, error) {
	wrapped := providers.NewRegistry()
	for _, p := range registry.List() {
		if err := wrapped.Register(NewStatisticsMiddleware(p, statsManager)); err != nil {
			return nil, err
		}
	}
	return wrapped, nil
}
