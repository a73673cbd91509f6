package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
)

// ID 提供商标识
const ID = "google"

// Config Google翻译配置
type Config struct {
	providers.BaseConfig `mapstructure:",squash"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	config := Config{
		BaseConfig: providers.DefaultConfig(),
	}
	config.APIEndpoint = "https://translation.googleapis.com/language/translate/v2"
	return config
}

// Provider Google翻译提供商（Cloud Translation v2）
type Provider struct {
	config     Config
	httpClient *http.Client
	languages  *providers.LanguageTable
}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的Google翻译提供商
func New(config Config) *Provider {
	if config.APIEndpoint == "" {
		config.APIEndpoint = DefaultConfig().APIEndpoint
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
	return "Google Translate"
}

// MapLanguageCode 标准化语言代码
func (p *Provider) MapLanguageCode(code string) string {
	return p.languages.Map(code)
}

// IsAvailable v2 接口没有独立的存活探测
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return true
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	translateReq := TranslateRequest{
		Q:      text,
		Target: p.MapLanguageCode(targetLang),
		Format: "text",
	}
	if sourceLang != "" {
		translateReq.Source = p.MapLanguageCode(sourceLang)
	}

	body, err := json.Marshal(translateReq)
	if err != nil {
		return "", providers.WrapError(ID, providers.KindBadRequest, err)
	}

	endpoint := p.config.APIEndpoint
	if p.config.APIKey != "" {
		endpoint += "?key=" + url.QueryEscape(p.config.APIKey)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
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

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", classifyStatus(resp.StatusCode, errBody)
	}

	var translateResp TranslateResponse
	if err := json.NewDecoder(resp.Body).Decode(&translateResp); err != nil {
		return "", providers.WrapError(ID, providers.KindInternal, fmt.Errorf("failed to decode response: %w", err))
	}
	if len(translateResp.Data.Translations) == 0 {
		return "", providers.NewError(ID, providers.KindInternal, "no translation returned")
	}

	return translateResp.Data.Translations[0].TranslatedText, nil
}

// classifyStatus Google 用 errors[].reason 区分配额和速率限制
func classifyStatus(status int, body []byte) *providers.Error {
	var apiErr ErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	message := apiErr.Error.Message
	if message == "" {
		message = string(body)
	}
	reason := ""
	if len(apiErr.Error.Errors) > 0 {
		reason = apiErr.Error.Errors[0].Reason
	}

	kind := providers.Kind("")
	switch reason {
	case "dailyLimitExceeded", "quotaExceeded", "billingNotEnabled":
		kind = providers.KindQuota
	case "rateLimitExceeded", "userRateLimitExceeded":
		kind = providers.KindRateLimit
	case "keyInvalid", "forbidden", "accessNotConfigured":
		kind = providers.KindAuth
	case "invalid", "badRequest":
		if strings.Contains(strings.ToLower(message), "language") {
			kind = providers.KindUnsupportedLanguage
		} else {
			kind = providers.KindBadRequest
		}
	case "backendError":
		kind = providers.KindUnavailable
	}

	if kind == "" {
		return providers.FromStatus(ID, status, message)
	}
	return &providers.Error{Kind: kind, Provider: ID, StatusCode: status, Message: message}
}

// TranslateRequest 翻译请求
type TranslateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Format string `json:"format,omitempty"`
}

// TranslateResponse 翻译响应
type TranslateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText         string `json:"translatedText"`
			DetectedSourceLanguage string `json:"detectedSourceLanguage,omitempty"`
		} `json:"translations"`
	} `json:"data"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

var defaultLanguages = providers.NewLanguageTable(map[string]string{
	"zh":      "zh-CN",
	"zh-cn":   "zh-CN",
	"zh-hans": "zh-CN",
	"zh-sg":   "zh-CN",
	"zh-tw":   "zh-TW",
	"zh-hk":   "zh-TW",
	"zh-hant": "zh-TW",
	"pt-br":   "pt",
	"pt-pt":   "pt",
	"en-us":   "en",
	"en-gb":   "en",
	"nb":      "no",
	"he":      "iw",
	"jv":      "jw",
	"chinese": "zh-CN",
	"english": "en",
	"german":  "de",
	"french":  "fr",
}, providers.FoldLower)
