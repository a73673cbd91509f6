package ollama

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	openai "github.com/sashabaranov/go-openai"
)

// ID 提供商标识
const ID = "ollama"

// Config Ollama配置
type Config struct {
	providers.BaseConfig `mapstructure:",squash"`
	Model                string  `json:"model" mapstructure:"model"`
	Temperature          float32 `json:"temperature" mapstructure:"temperature"`
	MaxTokens            int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	config := Config{
		BaseConfig:  providers.DefaultConfig(),
		Model:       "llama3",
		Temperature: 0.3,
		MaxTokens:   4096,
	}
	config.APIEndpoint = "http://localhost:11434"
	return config
}

// Provider Ollama提供商，通过其 OpenAI 兼容接口调用本地模型
type Provider struct {
	config     Config
	client     *openai.Client
	httpClient *http.Client
	languages  *providers.LanguageTable
}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的Ollama提供商
func New(config Config) *Provider {
	if config.APIEndpoint == "" {
		config.APIEndpoint = "http://localhost:11434"
	}
	config.APIEndpoint = strings.TrimRight(config.APIEndpoint, "/")

	httpClient := &http.Client{Timeout: config.Timeout}

	// Ollama 不校验密钥，但 go-openai 需要一个非空值
	key := config.APIKey
	if key == "" {
		key = "ollama"
	}
	clientConfig := openai.DefaultConfig(key)
	clientConfig.BaseURL = config.APIEndpoint + "/v1"
	clientConfig.HTTPClient = httpClient

	return &Provider{
		config:     config,
		client:     openai.NewClientWithConfig(clientConfig),
		httpClient: httpClient,
		languages:  providers.NewLanguageTable(nil, providers.FoldPreserve).WithOverrides(config.Languages),
	}
}

// ID 获取提供商标识
func (p *Provider) ID() string {
	return ID
}

// DisplayName 获取展示名称
func (p *Provider) DisplayName() string {
	return "Ollama"
}

// MapLanguageCode 仅应用覆盖项
func (p *Provider) MapLanguageCode(code string) string {
	return p.languages.Map(code)
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: providers.SystemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				Content: providers.TranslationPrompt(text,
					p.MapLanguageCode(sourceLang), p.MapLanguageCode(targetLang)),
			},
		},
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", providers.NewError(ID, providers.KindInternal, "no choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// IsAvailable 通过 /api/tags 检查服务是否运行
func (p *Provider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.APIEndpoint+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func classifyError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr := providers.FromStatus(ID, apiErr.HTTPStatusCode, apiErr.Message)
		// 模型未拉取时 Ollama 返回 404
		if apiErr.HTTPStatusCode == http.StatusNotFound {
			perr.Kind = providers.KindNotProvisioned
		}
		perr.Err = err
		return perr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		perr := providers.FromStatus(ID, reqErr.HTTPStatusCode, "")
		perr.Err = err
		return perr
	}

	return providers.FromTransport(ctx, ID, err)
}
