package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ID 提供商标识
const ID = "gemini"

// Config Vertex AI Gemini 配置
type Config struct {
	ProjectID   string            `json:"project_id" mapstructure:"project_id"`
	Region      string            `json:"region" mapstructure:"region"`
	Model       string            `json:"model" mapstructure:"model"`
	Temperature float32           `json:"temperature" mapstructure:"temperature"`
	Languages   map[string]string `json:"languages,omitempty" mapstructure:"languages"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Region:      "us-central1",
		Model:       "gemini-1.5-pro",
		Temperature: 0.2,
	}
}

// Generator 生成模型的最小接口，*genai.GenerativeModel 满足该接口
type Generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Provider Gemini提供商
type Provider struct {
	model     Generator
	client    *genai.Client
	languages *providers.LanguageTable
}

var _ providers.Provider = (*Provider)(nil)

// New 创建 Vertex AI 客户端并配置翻译模型
func New(ctx context.Context, config Config) (*Provider, error) {
	if config.ProjectID == "" || config.Region == "" {
		return nil, fmt.Errorf("gemini: project id and region cannot be empty")
	}
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}

	client, err := genai.NewClient(ctx, config.ProjectID, config.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := client.GenerativeModel(config.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(providers.SystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr(config.Temperature),
	}

	p := NewWithGenerator(model, config)
	p.client = client
	return p, nil
}

// NewWithGenerator 使用已有的生成模型创建提供商
func NewWithGenerator(model Generator, config Config) *Provider {
	return &Provider{
		model:     model,
		languages: providers.NewLanguageTable(nil, providers.FoldPreserve).WithOverrides(config.Languages),
	}
}

// Close 释放底层客户端
func (p *Provider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// ID 获取提供商标识
func (p *Provider) ID() string {
	return ID
}

// DisplayName 获取展示名称
func (p *Provider) DisplayName() string {
	return "Vertex AI Gemini"
}

// MapLanguageCode 仅应用覆盖项
func (p *Provider) MapLanguageCode(code string) string {
	return p.languages.Map(code)
}

// IsAvailable 没有存活探测
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return true
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	prompt := providers.TranslationPrompt(text, p.MapLanguageCode(sourceLang), p.MapLanguageCode(targetLang))

	resp, err := p.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyError(ctx, err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", providers.NewError(ID, providers.KindInternal, "empty response")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		// 内容被安全策略拦截时没有文本部分
		return "", providers.NewError(ID, providers.KindBadRequest, "response contained no text")
	}
	return b.String(), nil
}

func classifyError(ctx context.Context, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		perr := providers.FromStatus(ID, gerr.Code, gerr.Message)
		perr.Err = err
		return perr
	}

	st, ok := status.FromError(err)
	if !ok {
		return providers.FromTransport(ctx, ID, err)
	}

	kind := providers.KindInternal
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		kind = providers.KindAuth
	case codes.ResourceExhausted:
		kind = providers.KindRateLimit
		if strings.Contains(strings.ToLower(st.Message()), "quota") {
			kind = providers.KindQuota
		}
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		kind = providers.KindBadRequest
	case codes.NotFound:
		kind = providers.KindNotProvisioned
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		kind = providers.KindUnavailable
	case codes.Canceled:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		kind = providers.KindUnavailable
	}

	return &providers.Error{Kind: kind, Provider: ID, Message: st.Message(), Err: err}
}
