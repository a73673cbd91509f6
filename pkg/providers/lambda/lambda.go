// Package lambda 把翻译委托给部署在 AWS Lambda 上的翻译函数
package lambda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	lambdasdk "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
)

// ID 提供商标识
const ID = "lambda"

// Config Lambda 提供商配置
type Config struct {
	FunctionName string            `json:"function_name" mapstructure:"function_name"`
	Region       string            `json:"region" mapstructure:"region"`
	Languages    map[string]string `json:"languages,omitempty" mapstructure:"languages"`
}

// Invoker Lambda 客户端的最小接口
type Invoker interface {
	Invoke(ctx context.Context, params *lambdasdk.InvokeInput, optFns ...func(*lambdasdk.Options)) (*lambdasdk.InvokeOutput, error)
}

// TranslatorRequest 翻译函数的请求格式
type TranslatorRequest struct {
	Chunks     [][]string `json:"chunks"`
	SourceLang string     `json:"source_lang,omitempty"`
	TargetLang string     `json:"target_lang"`
}

// TranslatorResponse 翻译函数的响应格式
type TranslatorResponse struct {
	Translations [][]string `json:"translations"`
	Error        string     `json:"error,omitempty"`
	ErrorKind    string     `json:"error_kind,omitempty"`
}

// Provider Lambda提供商
type Provider struct {
	functionName string
	client       Invoker
	languages    *providers.LanguageTable
}

var _ providers.Provider = (*Provider)(nil)

// New 加载默认 AWS 配置并创建提供商
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.FunctionName == "" {
		return nil, fmt.Errorf("lambda: function name cannot be empty")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(lambdasdk.NewFromConfig(awsCfg), cfg), nil
}

// NewWithClient 使用已有客户端创建提供商
func NewWithClient(client Invoker, cfg Config) *Provider {
	return &Provider{
		functionName: cfg.FunctionName,
		client:       client,
		languages:    providers.NewLanguageTable(nil, providers.FoldLower).WithOverrides(cfg.Languages),
	}
}

// ID 获取提供商标识
func (p *Provider) ID() string {
	return ID
}

// DisplayName 获取展示名称
func (p *Provider) DisplayName() string {
	return "AWS Lambda translator"
}

// MapLanguageCode 翻译函数使用小写的 ISO 代码
func (p *Provider) MapLanguageCode(code string) string {
	return p.languages.Map(code)
}

// IsAvailable 调用前不做探测
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return true
}

// Translate 同步调用翻译函数
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	payload, err := json.Marshal(TranslatorRequest{
		Chunks:     [][]string{{text}},
		SourceLang: p.MapLanguageCode(sourceLang),
		TargetLang: p.MapLanguageCode(targetLang),
	})
	if err != nil {
		return "", providers.WrapError(ID, providers.KindBadRequest, err)
	}

	result, err := p.client.Invoke(ctx, &lambdasdk.InvokeInput{
		FunctionName: aws.String(p.functionName),
		Payload:      payload,
	})
	if err != nil {
		return "", classifyError(ctx, err)
	}

	if result.FunctionError != nil {
		return "", providers.NewError(ID, providers.KindInternal, "function error: "+*result.FunctionError)
	}

	var resp TranslatorResponse
	if err := json.Unmarshal(result.Payload, &resp); err != nil {
		return "", providers.WrapError(ID, providers.KindInternal, fmt.Errorf("failed to parse response: %w", err))
	}
	if resp.Error != "" {
		kind := providers.Kind(resp.ErrorKind)
		if kind == "" {
			kind = providers.KindInternal
		}
		return "", providers.NewError(ID, kind, resp.Error)
	}
	if len(resp.Translations) == 0 || len(resp.Translations[0]) == 0 {
		return "", providers.NewError(ID, providers.KindInternal, "no translation returned")
	}

	return resp.Translations[0][0], nil
}

func classifyError(ctx context.Context, err error) error {
	var throttled *types.TooManyRequestsException
	var service *types.ServiceException
	var notFound *types.ResourceNotFoundException
	var invalid *types.InvalidRequestContentException
	var tooLarge *types.RequestTooLargeException

	switch {
	case errors.As(err, &throttled):
		return providers.WrapError(ID, providers.KindRateLimit, err)
	case errors.As(err, &service):
		return providers.WrapError(ID, providers.KindUnavailable, err)
	case errors.As(err, &notFound):
		// 函数名配置错误
		return providers.WrapError(ID, providers.KindAuth, err)
	case errors.As(err, &invalid), errors.As(err, &tooLarge):
		return providers.WrapError(ID, providers.KindBadRequest, err)
	}

	var withStatus interface{ HTTPStatusCode() int }
	if errors.As(err, &withStatus) && withStatus.HTTPStatusCode() != 0 {
		perr := providers.FromStatus(ID, withStatus.HTTPStatusCode(), "")
		perr.Err = err
		return perr
	}

	return providers.FromTransport(ctx, ID, err)
}
