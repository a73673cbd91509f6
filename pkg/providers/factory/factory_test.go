package factory

import (
	"context"
	"testing"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/deepl"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/raw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildDefaults(t *testing.T) {
	registry, closer, err := Build(context.Background(), DefaultConfig(), nil, zap.NewNop())
	require.NoError(t, err)
	defer closer()

	ids := registry.IDs()
	assert.Contains(t, ids, raw.ID)
	assert.Contains(t, ids, deepl.ID)
	assert.Contains(t, ids, "argos")
	assert.NotContains(t, ids, "gemini")
	assert.NotContains(t, ids, "lambda")
}

func TestBuildEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = []string{raw.ID, deepl.ID}

	overrides := providers.LanguageOverrides{deepl.ID: {"en": "EN-GB"}}
	registry, closer, err := Build(context.Background(), cfg, overrides, zap.NewNop())
	require.NoError(t, err)
	defer closer()

	assert.Equal(t, []string{deepl.ID, raw.ID}, registry.IDs())

	p, err := registry.Get(deepl.ID)
	require.NoError(t, err)
	assert.Equal(t, "EN-GB", p.MapLanguageCode("en"))
}

func TestBuildInlineWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = []string{deepl.ID}
	cfg.DeepL.Languages = map[string]string{"en": "EN-US"}

	overrides := providers.LanguageOverrides{deepl.ID: {"en": "EN-GB", "pt": "PT-PT"}}
	registry, _, err := Build(context.Background(), cfg, overrides, zap.NewNop())
	require.NoError(t, err)

	p, err := registry.Get(deepl.ID)
	require.NoError(t, err)
	assert.Equal(t, "EN-US", p.MapLanguageCode("en"))
	assert.Equal(t, "PT-PT", p.MapLanguageCode("pt"))
}

func TestBuildUnknown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = []string{"babelfish"}

	_, _, err := Build(context.Background(), cfg, nil, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported provider type")
}

func TestBuildDuplicate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = []string{raw.ID, "none"}

	_, _, err := Build(context.Background(), cfg, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestSupportedProviders(t *testing.T) {
	assert.Len(t, SupportedProviders(), 10)
}
