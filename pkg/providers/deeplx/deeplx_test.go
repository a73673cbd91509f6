package deeplx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var req TranslateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "EN", req.SourceLang)
		assert.Equal(t, "ZH", req.TargetLang)

		_, _ = w.Write([]byte(`{"code":200,"id":1,"data":"你好"}`))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIEndpoint = server.URL
	config.AccessToken = "token"

	out, err := New(config).Translate(context.Background(), "hello", "en-US", "zh-CN")
	require.NoError(t, err)
	assert.Equal(t, "你好", out)
}

func TestTranslateAutoSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req TranslateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "auto", req.SourceLang)
		_, _ = w.Write([]byte(`{"code":200,"data":"ok"}`))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIEndpoint = server.URL
	_, err := New(config).Translate(context.Background(), "x", "", "de")
	require.NoError(t, err)
}

func TestTranslateBodyCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":429,"message":"too many requests"}`))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIEndpoint = server.URL
	_, err := New(config).Translate(context.Background(), "x", "en", "de")

	perr, ok := providers.AsError(err)
	require.True(t, ok)
	assert.Equal(t, providers.KindRateLimit, perr.Kind)
	assert.True(t, perr.IsRetryable())
}

func TestTranslateHTTPStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIEndpoint = server.URL
	_, err := New(config).Translate(context.Background(), "x", "en", "de")

	perr, ok := providers.AsError(err)
	require.True(t, ok)
	assert.Equal(t, providers.KindAuth, perr.Kind)
}
