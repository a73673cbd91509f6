package libretranslate

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
		assert.Equal(t, "/translate", r.URL.Path)

		var req TranslateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "auto", req.Source)
		assert.Equal(t, "zt", req.Target)
		assert.Equal(t, "k", req.APIKey)

		_, _ = w.Write([]byte(`{"translatedText":"你好"}`))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIEndpoint = server.URL + "/"
	config.APIKey = "k"
	p := New(config)

	out, err := p.Translate(context.Background(), "hello", "", "zh-TW")
	require.NoError(t, err)
	assert.Equal(t, "你好", out)
}

func TestTranslateErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   providers.Kind
	}{
		{http.StatusBadRequest, `{"error":"xx is not supported"}`, providers.KindUnsupportedLanguage},
		{http.StatusBadRequest, `{"error":"Invalid request: missing q parameter"}`, providers.KindBadRequest},
		{http.StatusForbidden, `{"error":"Visit https://portal.libretranslate.com to get an API key"}`, providers.KindAuth},
		{http.StatusTooManyRequests, `{"error":"Slowdown: 30 per 1 minute"}`, providers.KindRateLimit},
		{http.StatusInternalServerError, `{"error":"boom"}`, providers.KindInternal},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))

		config := DefaultConfig()
		config.APIEndpoint = server.URL
		_, err := New(config).Translate(context.Background(), "hello", "en", "xx")
		server.Close()

		perr, ok := providers.AsError(err)
		require.True(t, ok)
		assert.Equal(t, tc.kind, perr.Kind, tc.body)
	}
}

func TestMapLanguageCode(t *testing.T) {
	p := New(DefaultConfig())
	assert.Equal(t, "zh", p.MapLanguageCode("zh-Hans"))
	assert.Equal(t, "de", p.MapLanguageCode("German"))
	assert.Equal(t, "fr", p.MapLanguageCode("FR"))
}

func TestIsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"code":"en","name":"English"}]`))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIEndpoint = server.URL
	assert.True(t, New(config).IsAvailable(context.Background()))
}
