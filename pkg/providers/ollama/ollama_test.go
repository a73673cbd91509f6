package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "llama3", config.Model)
	assert.Equal(t, float32(0.3), config.Temperature)
	assert.Equal(t, 4096, config.MaxTokens)
	assert.Equal(t, "http://localhost:11434", config.APIEndpoint)
}

func TestNewTrimsEndpoint(t *testing.T) {
	config := DefaultConfig()
	config.APIEndpoint = "http://custom-ollama:8080/"

	provider := New(config)

	assert.Equal(t, "http://custom-ollama:8080", provider.config.APIEndpoint)
	assert.Equal(t, ID, provider.ID())
}

func TestTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "from English (en) to German (de)")
		assert.Contains(t, req.Messages[1].Content, "Hello world")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Hallo Welt"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIEndpoint = server.URL
	provider := New(config)

	out, err := provider.Translate(context.Background(), "Hello world", "en", "de")
	require.NoError(t, err)
	assert.Equal(t, "Hallo Welt", out)
}

func TestTranslateModelMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"model \"llama3\" not found, try pulling it first","type":"api_error"}}`))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIEndpoint = server.URL
	provider := New(config)

	_, err := provider.Translate(context.Background(), "Hello", "en", "de")
	require.Error(t, err)

	perr, ok := providers.AsError(err)
	require.True(t, ok)
	assert.Equal(t, providers.KindNotProvisioned, perr.Kind)
	assert.False(t, perr.IsRetryable())
}

func TestTranslateServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(strings.Repeat("x", 10)))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIEndpoint = server.URL

	_, err := New(config).Translate(context.Background(), "Hello", "en", "de")
	require.Error(t, err)
	assert.True(t, providers.IsRetryable(err))
}

func TestIsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIEndpoint = server.URL
	assert.True(t, New(config).IsAvailable(context.Background()))

	server.Close()
	assert.False(t, New(config).IsAvailable(context.Background()))
}
