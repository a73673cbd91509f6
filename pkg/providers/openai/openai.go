package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ID 提供商标识
const ID = "openai"

// getModel 根据字符串获取模型常量
func getModel(model string) openai.ChatModel {
	switch model {
	case "gpt-4o":
		return openai.ChatModelGPT4o
	case "gpt-4o-mini", "":
		return openai.ChatModelGPT4oMini
	case "gpt-4-turbo":
		return openai.ChatModelGPT4Turbo
	default:
		// 对于新模型或自定义模型，使用字符串
		return openai.ChatModel(model)
	}
}

// Config OpenAI配置（使用官方SDK）
type Config struct {
	providers.BaseConfig `mapstructure:",squash"`
	Model                string  `json:"model" mapstructure:"model"`
	Temperature          float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens            int     `json:"max_tokens" mapstructure:"max_tokens"`
	OrgID                string  `json:"org_id,omitempty" mapstructure:"org_id"` // 可选的组织ID
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BaseConfig:  providers.DefaultConfig(),
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		MaxTokens:   4096,
	}
}

// Provider OpenAI提供商
type Provider struct {
	config    Config
	client    openai.Client
	languages *providers.LanguageTable
}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的OpenAI提供商
func New(config Config) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		// 重试交给任务队列的退避策略
		option.WithMaxRetries(0),
	}

	if config.APIEndpoint != "" {
		opts = append(opts, option.WithBaseURL(config.APIEndpoint))
	}
	if config.OrgID != "" {
		opts = append(opts, option.WithOrganization(config.OrgID))
	}
	for k, v := range config.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.Timeout))
	}

	return &Provider{
		config:    config,
		client:    openai.NewClient(opts...),
		languages: providers.NewLanguageTable(nil, providers.FoldPreserve).WithOverrides(config.Languages),
	}
}

// ID 获取提供商标识
func (p *Provider) ID() string {
	return ID
}

// DisplayName 获取展示名称
func (p *Provider) DisplayName() string {
	return "OpenAI"
}

// MapLanguageCode 大模型直接理解 BCP-47 代码，仅应用覆盖项
func (p *Provider) MapLanguageCode(code string) string {
	return p.languages.Map(code)
}

// IsAvailable 没有廉价的存活探测
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return true
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(providers.SystemPrompt),
			openai.UserMessage(providers.TranslationPrompt(text,
				p.MapLanguageCode(sourceLang), p.MapLanguageCode(targetLang))),
		},
		Model: getModel(p.config.Model),
	}
	if p.config.Temperature > 0 {
		params.Temperature = openai.Float(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.config.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyError(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return "", providers.NewError(ID, providers.KindInternal, "no choices returned")
	}

	return completion.Choices[0].Message.Content, nil
}

// classifyError 将 SDK 错误归入统一分类
func classifyError(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return providers.FromTransport(ctx, ID, err)
	}

	status := apiErr.StatusCode
	// 429 同时用于速率限制和额度耗尽
	if status == http.StatusTooManyRequests && strings.Contains(apiErr.Error(), "insufficient_quota") {
		return &providers.Error{Kind: providers.KindQuota, Provider: ID, StatusCode: status, Message: "quota exceeded", Err: err}
	}

	perr := providers.FromStatus(ID, status, "")
	perr.Err = err
	return perr
}
