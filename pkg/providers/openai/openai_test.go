package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultConfig()
	config.APIKey = "test-key"
	config.APIEndpoint = server.URL
	config.Timeout = 5 * time.Second
	return New(config)
}

func TestGetModel(t *testing.T) {
	assert.Equal(t, "gpt-4o-mini", string(getModel("")))
	assert.Equal(t, "gpt-4o", string(getModel("gpt-4o")))
	assert.Equal(t, "my-finetune", string(getModel("my-finetune")))
}

func TestTranslate(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Contains(t, body.Messages[1].Content, "Hello")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",` +
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"HALLO"}}]}`))
	})

	out, err := p.Translate(context.Background(), "Hello", "en", "de")
	require.NoError(t, err)
	assert.Equal(t, "HALLO", out)
}

func TestTranslateErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		kind      providers.Kind
		retryable bool
	}{
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`, providers.KindQuota, true},
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, providers.KindRateLimit, true},
		{"auth", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`, providers.KindAuth, false},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad model","type":"invalid_request_error"}}`, providers.KindBadRequest, false},
		{"unavailable", http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`, providers.KindUnavailable, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := p.Translate(context.Background(), "Hello", "en", "de")
			perr, ok := providers.AsError(err)
			require.True(t, ok, "%v", err)
			assert.Equal(t, tc.kind, perr.Kind)
			assert.Equal(t, tc.status, perr.StatusCode)
			assert.Equal(t, tc.retryable, perr.IsRetryable())
		})
	}
}

func TestTranslateNoChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[]}`))
	})

	_, err := p.Translate(context.Background(), "Hello", "en", "de")
	perr, ok := providers.AsError(err)
	require.True(t, ok)
	assert.Equal(t, providers.KindInternal, perr.Kind)
}

func TestTranslateCanceled(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Translate(ctx, "Hello", "en", "de")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMapLanguageCode(t *testing.T) {
	config := DefaultConfig()
	config.Languages = map[string]string{"zh": "Simplified Chinese"}
	p := New(config)

	assert.Equal(t, "Simplified Chinese", p.MapLanguageCode("zh"))
	assert.Equal(t, "de", p.MapLanguageCode("de"))
	assert.Equal(t, ID, p.ID())
	assert.True(t, p.IsAvailable(context.Background()))
}
