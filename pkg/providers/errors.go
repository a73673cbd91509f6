package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind 提供商错误分类
type Kind string

const (
	KindAuth                Kind = "auth"
	KindQuota               Kind = "quota"
	KindRateLimit           Kind = "rate_limit"
	KindBadRequest          Kind = "bad_request"
	KindUnavailable         Kind = "unavailable"
	KindInternal            Kind = "internal"
	KindUnsupportedLanguage Kind = "unsupported_language"
	KindNotProvisioned      Kind = "not_provisioned"
)

// Error 提供商错误
type Error struct {
	Kind       Kind   `json:"kind"`
	Provider   string `json:"provider"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable 判断错误是否可重试
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindQuota, KindRateLimit, KindUnavailable, KindInternal:
		return true
	default:
		return false
	}
}

// NewError 创建提供商错误
func NewError(provider string, kind Kind, message string) *Error {
	return &Error{
		Kind:     kind,
		Provider: provider,
		Message:  message,
	}
}

// WrapError 包装底层错误
func WrapError(provider string, kind Kind, err error) *Error {
	return &Error{
		Kind:     kind,
		Provider: provider,
		Message:  err.Error(),
		Err:      err,
	}
}

// AsError 提取 *Error
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// IsRetryable 判断任意错误是否为可重试的提供商错误
func IsRetryable(err error) bool {
	perr, ok := AsError(err)
	return ok && perr.IsRetryable()
}

// FromStatus 按通用 HTTP 语义分类状态码，各提供商可在此之前处理自己的特殊码
func FromStatus(provider string, status int, body string) *Error {
	kind := KindInternal
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusPaymentRequired:
		kind = KindQuota
	case status == http.StatusBadRequest || status == http.StatusNotFound ||
		status == http.StatusRequestEntityTooLarge || status == http.StatusRequestURITooLong ||
		status == http.StatusUnprocessableEntity:
		kind = KindBadRequest
	case status == http.StatusRequestTimeout || status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		kind = KindUnavailable
	case status >= 500:
		kind = KindInternal
	case status >= 400:
		kind = KindBadRequest
	}

	return &Error{
		Kind:       kind,
		Provider:   provider,
		StatusCode: status,
		Message:    summarize(body, http.StatusText(status)),
	}
}

// FromTransport 分类网络层错误。调用方取消时原样返回 context 错误，
// 超时和连接失败都视为后端不可用。
func FromTransport(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindUnavailable, Provider: provider, Message: "request timed out", Err: err}
	}
	return &Error{Kind: KindUnavailable, Provider: provider, Message: "backend unreachable", Err: err}
}

// summarize 截断响应体，避免把整段后端输出暴露给调用方
func summarize(body, fallback string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return fallback
	}
	const maxLen = 200
	if r := []rune(body); len(r) > maxLen {
		return string(r[:maxLen]) + "..."
	}
	return body
}
