package deeplx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
)

// ID 提供商标识
const ID = "deeplx"

// Config DeepLX配置
type Config struct {
	providers.BaseConfig `mapstructure:",squash"`
	AccessToken          string `json:"access_token,omitempty" mapstructure:"access_token"` // 可选的访问令牌
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	config := Config{
		BaseConfig: providers.DefaultConfig(),
	}
	config.APIEndpoint = "http://localhost:1188/translate"
	return config
}

// Provider DeepLX提供商（自托管的免费 DeepL 代理）
type Provider struct {
	config     Config
	httpClient *http.Client
	languages  *providers.LanguageTable
}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的DeepLX提供商
func New(config Config) *Provider {
	if config.APIEndpoint == "" {
		config.APIEndpoint = "http://localhost:1188/translate"
	}

	return &Provider{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		languages:  defaultLanguages.WithOverrides(config.Languages),
	}
}

// ID 获取提供商标识
func (p *Provider) ID() string {
	return ID
}

// DisplayName 获取展示名称
func (p *Provider) DisplayName() string {
	return "DeepLX"
}

// MapLanguageCode DeepLX 使用大写的 DeepL 主语言代码
func (p *Provider) MapLanguageCode(code string) string {
	return p.languages.Map(code)
}

// IsAvailable DeepLX 没有独立的健康检查接口
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return true
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	source := "auto"
	if sourceLang != "" {
		source = p.MapLanguageCode(sourceLang)
	}

	body, err := json.Marshal(TranslateRequest{
		Text:       text,
		SourceLang: source,
		TargetLang: p.MapLanguageCode(targetLang),
	})
	if err != nil {
		return "", providers.WrapError(ID, providers.KindBadRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.APIEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", providers.WrapError(ID, providers.KindBadRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.AccessToken)
	}
	for k, v := range p.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", providers.FromTransport(ctx, ID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", providers.FromTransport(ctx, ID, err)
	}

	var translateResp TranslateResponse
	decodeErr := json.Unmarshal(respBody, &translateResp)

	// DeepLX 既可能在 HTTP 状态码，也可能在响应体的 code 字段中报告错误
	status := resp.StatusCode
	if status == http.StatusOK && decodeErr == nil && translateResp.Code != 0 && translateResp.Code != http.StatusOK {
		status = translateResp.Code
	}
	if status != http.StatusOK {
		return "", providers.FromStatus(ID, status, translateResp.Message)
	}
	if decodeErr != nil {
		return "", providers.WrapError(ID, providers.KindInternal, fmt.Errorf("failed to decode response: %w", decodeErr))
	}

	return translateResp.Data, nil
}

// TranslateRequest 翻译请求
type TranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

// TranslateResponse 翻译响应
type TranslateResponse struct {
	Code       int      `json:"code"`
	ID         int64    `json:"id"`
	Data       string   `json:"data"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang,omitempty"`
	Message    string   `json:"message,omitempty"`
	Alternates []string `json:"alternatives,omitempty"`
}

var defaultLanguages = providers.NewLanguageTable(map[string]string{
	"zh-cn":   "ZH",
	"zh-hans": "ZH",
	"zh-tw":   "ZH",
	"en-us":   "EN",
	"en-gb":   "EN",
	"pt-br":   "PT",
	"pt-pt":   "PT",
	"chinese": "ZH",
	"english": "EN",
}, providers.FoldUpper)
