package factory

import (
	"context"
	"fmt"
	"maps"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/argos"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/deepl"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/deeplx"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/gemini"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/google"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/lambda"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/libretranslate"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/ollama"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/openai"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/raw"
	"go.uber.org/zap"
)

// Config 所有提供商的配置
type Config struct {
	// Enabled 为空时注册所有无需云凭据的提供商，以及已配置的 gemini / lambda
	Enabled []string `mapstructure:"enabled"`

	DeepL          deepl.Config          `mapstructure:"deepl"`
	DeepLX         deeplx.Config         `mapstructure:"deeplx"`
	Google         google.Config         `mapstructure:"google"`
	LibreTranslate libretranslate.Config `mapstructure:"libretranslate"`
	OpenAI         openai.Config         `mapstructure:"openai"`
	Ollama         ollama.Config         `mapstructure:"ollama"`
	Argos          argos.Config          `mapstructure:"argos"`
	Gemini         gemini.Config         `mapstructure:"gemini"`
	Lambda         lambda.Config         `mapstructure:"lambda"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DeepL:          deepl.DefaultConfig(),
		DeepLX:         deeplx.DefaultConfig(),
		Google:         google.DefaultConfig(),
		LibreTranslate: libretranslate.DefaultConfig(),
		OpenAI:         openai.DefaultConfig(),
		Ollama:         ollama.DefaultConfig(),
		Argos:          argos.DefaultConfig(),
		Gemini:         gemini.DefaultConfig(),
	}
}

// SupportedProviders 获取支持的提供商列表
func SupportedProviders() []string {
	return []string{
		raw.ID,
		deepl.ID,
		deeplx.ID,
		google.ID,
		libretranslate.ID,
		openai.ID,
		ollama.ID,
		argos.ID,
		gemini.ID,
		lambda.ID,
	}
}

// Closer 需要在进程退出时释放的资源
type Closer func() error

// Build 根据配置创建并注册提供商
func Build(ctx context.Context, cfg Config, overrides providers.LanguageOverrides, log *zap.Logger) (*providers.Registry, Closer, error) {
	registry := providers.NewRegistry()
	var closers []func() error

	closeAll := func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	explicit := len(cfg.Enabled) > 0
	enabled := cfg.Enabled
	if !explicit {
		enabled = []string{raw.ID, deepl.ID, deeplx.ID, google.ID, libretranslate.ID, openai.ID, ollama.ID, argos.ID}
		if cfg.Gemini.ProjectID != "" {
			enabled = append(enabled, gemini.ID)
		}
		if cfg.Lambda.FunctionName != "" {
			enabled = append(enabled, lambda.ID)
		}
	}

	for _, id := range enabled {
		p, closer, err := create(ctx, id, cfg, overrides)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("failed to create provider %s: %w", id, err)
		}
		if err := registry.Register(p); err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		log.Debug("注册翻译提供商", zap.String("provider", id))
	}

	return registry, closeAll, nil
}

// create 根据标识创建提供商
func create(ctx context.Context, id string, cfg Config, overrides providers.LanguageOverrides) (providers.Provider, func() error, error) {
	switch id {
	case raw.ID, "none":
		return raw.New(), nil, nil
	case deepl.ID:
		c := cfg.DeepL
		c.Languages = merge(overrides.For(id), c.Languages)
		return deepl.New(c), nil, nil
	case deeplx.ID:
		c := cfg.DeepLX
		c.Languages = merge(overrides.For(id), c.Languages)
		return deeplx.New(c), nil, nil
	case google.ID:
		c := cfg.Google
		c.Languages = merge(overrides.For(id), c.Languages)
		return google.New(c), nil, nil
	case libretranslate.ID:
		c := cfg.LibreTranslate
		c.Languages = merge(overrides.For(id), c.Languages)
		return libretranslate.New(c), nil, nil
	case openai.ID:
		c := cfg.OpenAI
		c.Languages = merge(overrides.For(id), c.Languages)
		return openai.New(c), nil, nil
	case ollama.ID:
		c := cfg.Ollama
		c.Languages = merge(overrides.For(id), c.Languages)
		return ollama.New(c), nil, nil
	case argos.ID:
		c := cfg.Argos
		c.Languages = merge(overrides.For(id), c.Languages)
		return argos.New(c), nil, nil
	case gemini.ID:
		c := cfg.Gemini
		c.Languages = merge(overrides.For(id), c.Languages)
		p, err := gemini.New(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	case lambda.ID:
		c := cfg.Lambda
		c.Languages = merge(overrides.For(id), c.Languages)
		p, err := lambda.New(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported provider type: %s", id)
	}
}

// merge 配置文件内联的映射优先于覆盖文件
func merge(base, inline map[string]string) map[string]string {
	if len(base) == 0 {
		return inline
	}
	out := maps.Clone(base)
	maps.Copy(out, inline)
	return out
}
