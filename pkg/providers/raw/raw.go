package raw

import (
	"context"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
)

// ID 提供商标识
const ID = "raw"

// Provider Raw 提供商实现（跳过翻译，直接返回原文），用于预演整条流水线
type Provider struct{}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的 Raw 提供商
func New() *Provider {
	return &Provider{}
}

// ID 获取提供商标识
func (p *Provider) ID() string {
	return ID
}

// DisplayName 获取展示名称
func (p *Provider) DisplayName() string {
	return "Raw passthrough"
}

// Translate 执行翻译（直接返回原文）
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return text, nil
}

// MapLanguageCode 原样返回
func (p *Provider) MapLanguageCode(code string) string {
	return code
}

// IsAvailable Raw 提供商总是可用
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return true
}
