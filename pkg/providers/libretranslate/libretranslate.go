package libretranslate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
)

// ID 提供商标识
const ID = "libretranslate"

// Config LibreTranslate配置
type Config struct {
	providers.BaseConfig `mapstructure:",squash"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	config := Config{
		BaseConfig: providers.DefaultConfig(),
	}
	// 默认使用官方演示服务器
	config.APIEndpoint = "https://libretranslate.com"
	return config
}

// Provider LibreTranslate提供商
type Provider struct {
	config     Config
	httpClient *http.Client
	languages  *providers.LanguageTable
}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的LibreTranslate提供商
func New(config Config) *Provider {
	if config.APIEndpoint == "" {
		config.APIEndpoint = "https://libretranslate.com"
	}
	config.APIEndpoint = strings.TrimRight(config.APIEndpoint, "/")

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
	return "LibreTranslate"
}

// MapLanguageCode 标准化语言代码
func (p *Provider) MapLanguageCode(code string) string {
	return p.languages.Map(code)
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	source := "auto"
	if sourceLang != "" {
		source = p.MapLanguageCode(sourceLang)
	}

	body, err := json.Marshal(TranslateRequest{
		Q:      text,
		Source: source,
		Target: p.MapLanguageCode(targetLang),
		Format: "text",
		APIKey: p.config.APIKey,
	})
	if err != nil {
		return "", providers.WrapError(ID, providers.KindBadRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.APIEndpoint+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", providers.WrapError(ID, providers.KindBadRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
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

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, respBody)
	}

	var translateResp TranslateResponse
	if err := json.Unmarshal(respBody, &translateResp); err != nil {
		return "", providers.WrapError(ID, providers.KindInternal, fmt.Errorf("failed to decode response: %w", err))
	}
	return translateResp.TranslatedText, nil
}

// IsAvailable 获取语言列表作为健康检查
func (p *Provider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.APIEndpoint+"/languages", nil)
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

// classifyStatus LibreTranslate 对无效密钥返回 403，对不支持的语言返回 400
func classifyStatus(status int, body []byte) *providers.Error {
	message := string(body)
	var errorResp ErrorResponse
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error != "" {
		message = errorResp.Error
	}

	if status == http.StatusBadRequest {
		lower := strings.ToLower(message)
		if strings.Contains(lower, "not supported") || strings.Contains(lower, "language") {
			return &providers.Error{Kind: providers.KindUnsupportedLanguage, Provider: ID, StatusCode: status, Message: message}
		}
	}
	return providers.FromStatus(ID, status, message)
}

// TranslateRequest 翻译请求
type TranslateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format,omitempty"`
	APIKey string `json:"api_key,omitempty"`
}

// TranslateResponse 翻译响应
type TranslateResponse struct {
	TranslatedText string `json:"translatedText"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}

var defaultLanguages = providers.NewLanguageTable(map[string]string{
	"zh-cn":      "zh",
	"zh-hans":    "zh",
	"zh-tw":      "zt",
	"zh-hant":    "zt",
	"pt-br":      "pt",
	"pt-pt":      "pt",
	"en-us":      "en",
	"en-gb":      "en",
	"nb":         "nb",
	"chinese":    "zh",
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"japanese":   "ja",
	"korean":     "ko",
	"portuguese": "pt",
	"russian":    "ru",
	"italian":    "it",
	"arabic":     "ar",
	"hindi":      "hi",
	"turkish":    "tr",
	"polish":     "pl",
	"dutch":      "nl",
	"swedish":    "sv",
	"danish":     "da",
	"norwegian":  "nb",
	"finnish":    "fi",
}, providers.FoldLower)
