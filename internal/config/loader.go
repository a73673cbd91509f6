package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig 加载配置：默认值 < 配置文件 < TRANSLATOR_ 环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	config := NewDefaultConfig()

	// 设置默认值
	setDefaults(v, config)

	// 如果配置路径已指定，则直接使用
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 查找家目录与当前目录中的配置文件
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
	}

	// 读取环境变量，例如 TRANSLATOR_QUEUE_MAX_ATTEMPTS
	v.SetEnvPrefix("TRANSLATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// ConfigFileUsed 返回实际读取的配置文件路径
func ConfigFileUsed(configPath string) string {
	if configPath != "" {
		return configPath
	}
	v := viper.New()
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")
	v.SetConfigName(DefaultConfigName)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// setDefaults 注册所有可由环境变量覆盖的键
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("debug", c.Debug)
	v.SetDefault("workers", c.Workers)
	v.SetDefault("chunk_size", c.ChunkSize)
	v.SetDefault("provider_timeout", c.ProviderTimeout)
	v.SetDefault("language_overrides", c.LanguageOverrides)
	v.SetDefault("default_priority", c.DefaultPriority)
	v.SetDefault("stats_path", c.StatsPath)
	v.SetDefault("pdf_font", c.PDFFont)

	v.SetDefault("queue.max_attempts", c.Queue.MaxAttempts)
	v.SetDefault("queue.initial_backoff", c.Queue.InitialBackoff)
	v.SetDefault("queue.max_backoff", c.Queue.MaxBackoff)
	v.SetDefault("queue.backoff_factor", c.Queue.BackoffFactor)
	v.SetDefault("queue.retention", c.Queue.Retention)
	v.SetDefault("queue.poll_interval", c.Queue.PollInterval)

	v.SetDefault("store.driver", c.Store.Driver)
	v.SetDefault("store.path", c.Store.Path)
	v.SetDefault("store.firestore_project", c.Store.FirestoreProject)
	v.SetDefault("store.firestore_collection", c.Store.FirestoreCollection)

	v.SetDefault("files.driver", c.Files.Driver)
	v.SetDefault("files.root", c.Files.Root)
	v.SetDefault("files.gcs_bucket", c.Files.GCSBucket)

	p := c.Providers
	v.SetDefault("providers.enabled", p.Enabled)
	v.SetDefault("providers.deepl.api_key", p.DeepL.APIKey)
	v.SetDefault("providers.deepl.endpoint", p.DeepL.APIEndpoint)
	v.SetDefault("providers.deepl.use_free_api", p.DeepL.UseFreeAPI)
	v.SetDefault("providers.deeplx.endpoint", p.DeepLX.APIEndpoint)
	v.SetDefault("providers.deeplx.access_token", p.DeepLX.AccessToken)
	v.SetDefault("providers.google.api_key", p.Google.APIKey)
	v.SetDefault("providers.libretranslate.api_key", p.LibreTranslate.APIKey)
	v.SetDefault("providers.libretranslate.endpoint", p.LibreTranslate.APIEndpoint)
	v.SetDefault("providers.openai.api_key", p.OpenAI.APIKey)
	v.SetDefault("providers.openai.endpoint", p.OpenAI.APIEndpoint)
	v.SetDefault("providers.openai.model", p.OpenAI.Model)
	v.SetDefault("providers.ollama.endpoint", p.Ollama.APIEndpoint)
	v.SetDefault("providers.ollama.model", p.Ollama.Model)
	v.SetDefault("providers.argos.python_path", p.Argos.PythonPath)
	v.SetDefault("providers.argos.provision_timeout", p.Argos.ProvisionTimeout)
	v.SetDefault("providers.gemini.project_id", p.Gemini.ProjectID)
	v.SetDefault("providers.gemini.region", p.Gemini.Region)
	v.SetDefault("providers.gemini.model", p.Gemini.Model)
	v.SetDefault("providers.lambda.function_name", p.Lambda.FunctionName)
	v.SetDefault("providers.lambda.region", p.Lambda.Region)
}
