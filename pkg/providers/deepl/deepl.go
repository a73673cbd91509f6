package deepl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
)

const (
	// ID 提供商标识
	ID = "deepl"

	// 配额耗尽时 DeepL 返回的非标准状态码
	statusQuotaExceeded = 456
)

// Config DeepL配置
type Config struct {
	providers.BaseConfig `mapstructure:",squash"`
	UseFreeAPI           bool `json:"use_free_api" mapstructure:"use_free_api"` // 是否使用免费API
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	config := Config{
		BaseConfig: providers.DefaultConfig(),
		UseFreeAPI: false,
	}
	config.APIEndpoint = "https://api.deepl.com/v2"
	return config
}

// Provider DeepL提供商
type Provider struct {
	config     Config
	httpClient *http.Client
	languages  *providers.LanguageTable
}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的DeepL提供商
func New(config Config) *Provider {
	if config.APIEndpoint == "" {
		if config.UseFreeAPI {
			config.APIEndpoint = "https://api-free.deepl.com/v2"
		} else {
			config.APIEndpoint = "https://api.deepl.com/v2"
		}
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
	return "DeepL"
}

// MapLanguageCode 标准化语言代码为DeepL目标语言格式
func (p *Provider) MapLanguageCode(code string) string {
	return p.languages.Map(code)
}

// sourceLanguage DeepL 的源语言不接受地区变体
func (p *Provider) sourceLanguage(code string) string {
	mapped := p.MapLanguageCode(code)
	if i := strings.IndexByte(mapped, '-'); i > 0 {
		mapped = mapped[:i]
	}
	return mapped
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	params := url.Values{}
	params.Set("text", text)
	if sourceLang != "" {
		params.Set("source_lang", p.sourceLanguage(sourceLang))
	}
	params.Set("target_lang", p.MapLanguageCode(targetLang))
	params.Set("preserve_formatting", "1")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.APIEndpoint+"/translate",
		strings.NewReader(params.Encode()))
	if err != nil {
		return "", providers.WrapError(ID, providers.KindBadRequest, err)
	}

	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "DeepL-Auth-Key "+p.config.APIKey)
	for k, v := range p.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", providers.FromTransport(ctx, ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", classifyStatus(resp.StatusCode, string(body))
	}

	var translateResp TranslateResponse
	if err := json.NewDecoder(resp.Body).Decode(&translateResp); err != nil {
		return "", providers.WrapError(ID, providers.KindInternal, fmt.Errorf("failed to decode response: %w", err))
	}
	if len(translateResp.Translations) == 0 {
		return "", providers.NewError(ID, providers.KindInternal, "no translation returned")
	}

	return translateResp.Translations[0].Text, nil
}

// IsAvailable 通过 /usage 检查密钥与服务是否可用
func (p *Provider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.APIEndpoint+"/usage", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// classifyStatus 处理 DeepL 特定错误码
func classifyStatus(status int, body string) *providers.Error {
	var apiErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &apiErr); err == nil && apiErr.Message != "" {
		body = apiErr.Message
	}

	switch status {
	case http.StatusBadRequest:
		lower := strings.ToLower(body)
		if strings.Contains(lower, "target_lang") || strings.Contains(lower, "source_lang") ||
			strings.Contains(lower, "not supported") {
			return &providers.Error{Kind: providers.KindUnsupportedLanguage, Provider: ID, StatusCode: status, Message: body}
		}
		return &providers.Error{Kind: providers.KindBadRequest, Provider: ID, StatusCode: status, Message: body}
	case http.StatusForbidden:
		return &providers.Error{Kind: providers.KindAuth, Provider: ID, StatusCode: status, Message: "authentication failed"}
	case http.StatusTooManyRequests:
		return &providers.Error{Kind: providers.KindRateLimit, Provider: ID, StatusCode: status, Message: "too many requests"}
	case statusQuotaExceeded:
		return &providers.Error{Kind: providers.KindQuota, Provider: ID, StatusCode: status, Message: "quota exceeded"}
	case http.StatusServiceUnavailable:
		return &providers.Error{Kind: providers.KindUnavailable, Provider: ID, StatusCode: status, Message: "service temporarily unavailable"}
	default:
		return providers.FromStatus(ID, status, body)
	}
}

// TranslateResponse 翻译响应
type TranslateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// defaultLanguages 目标语言需要指定英语和葡萄牙语变体
var defaultLanguages = providers.NewLanguageTable(map[string]string{
	"en":         "EN-US",
	"en-us":      "EN-US",
	"en-gb":      "EN-GB",
	"pt":         "PT-BR",
	"pt-br":      "PT-BR",
	"pt-pt":      "PT-PT",
	"zh":         "ZH",
	"zh-cn":      "ZH-HANS",
	"zh-hans":    "ZH-HANS",
	"zh-tw":      "ZH-HANT",
	"zh-hant":    "ZH-HANT",
	"nb":         "NB",
	"no":         "NB",
	"chinese":    "ZH",
	"english":    "EN-US",
	"spanish":    "ES",
	"french":     "FR",
	"german":     "DE",
	"japanese":   "JA",
	"korean":     "KO",
	"portuguese": "PT-BR",
	"russian":    "RU",
	"italian":    "IT",
}, providers.FoldUpper)
