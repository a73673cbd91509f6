package providers

import (
	"context"
	"time"
)

// BaseConfig 基础配置
type BaseConfig struct {
	// API配置
	APIKey      string `json:"api_key,omitempty" mapstructure:"api_key"`
	APIEndpoint string `json:"api_endpoint,omitempty" mapstructure:"endpoint"`

	// 单次请求超时
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// 自定义头部
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"`

	// 语言代码覆盖表，优先于内置映射
	Languages map[string]string `json:"languages,omitempty" mapstructure:"languages"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() BaseConfig {
	return BaseConfig{
		Timeout: time.Minute,
		Headers: make(map[string]string),
	}
}

// Provider 翻译后端的统一能力接口。
// 实现必须无状态，可被多个任务并发使用；重试由调用方的队列策略负责。
type Provider interface {
	// ID 注册表中的唯一标识
	ID() string

	// DisplayName 展示名称
	DisplayName() string

	// Translate 翻译一段文本，错误必须为 *Error
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)

	// MapLanguageCode 将调用方的语言代码映射为后端代码
	MapLanguageCode(code string) string

	// IsAvailable 存活检查，后端不支持探测时总是返回 true
	IsAvailable(ctx context.Context) bool
}
