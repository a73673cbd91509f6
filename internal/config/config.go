package config

import (
	"fmt"
	"time"

	"github.com/nerdneilsfield/go-translator-pipeline/internal/codec"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/queue"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/storage"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/chunker"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers/factory"
)

// DefaultConfigName 配置文件名（不含扩展名）
const DefaultConfigName = ".translator-pipeline"

// Config 翻译流水线配置
type Config struct {
	Debug bool `mapstructure:"debug"`

	// 工作协程数，每个协程同时只处理一个任务
	Workers int `mapstructure:"workers"`

	// 单块最大字符数
	ChunkSize int `mapstructure:"chunk_size"`

	// 单次提供商调用超时
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`

	// 语言代码覆盖表（TOML），为空表示不使用
	LanguageOverrides string `mapstructure:"language_overrides"`

	// 提交任务的默认优先级
	DefaultPriority int `mapstructure:"default_priority"`

	// 提供商调用统计文件，为空表示不保存
	StatsPath string `mapstructure:"stats_path"`

	// 非 WinAnsi 的 PDF 输出所用的 pdfcpu 用户字体
	PDFFont string `mapstructure:"pdf_font"`

	Queue     queue.Config     `mapstructure:"queue"`
	Store     jobs.StoreConfig `mapstructure:"store"`
	Files     storage.Config   `mapstructure:"files"`
	Providers factory.Config   `mapstructure:"providers"`
}

// NewDefaultConfig 创建默认配置
func NewDefaultConfig() *Config {
	files := storage.DefaultConfig()
	files.Root = ".translator-pipeline/files"

	return &Config{
		Workers:         2,
		ChunkSize:       chunker.DefaultLimit,
		ProviderTimeout: 60 * time.Second,
		StatsPath:       ".translator-pipeline/provider-stats.json",
		PDFFont:         codec.DefaultPDFFont,
		Queue:           queue.DefaultConfig(),
		Store:           jobs.DefaultStoreConfig(),
		Files:           files,
		Providers:       factory.DefaultConfig(),
	}
}

// Validate 检查配置
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("provider_timeout must be positive")
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.InitialBackoff < 0 || c.Queue.MaxBackoff < 0 {
		return fmt.Errorf("queue backoff durations cannot be negative")
	}
	if c.Queue.MaxBackoff > 0 && c.Queue.InitialBackoff > c.Queue.MaxBackoff {
		return fmt.Errorf("queue.initial_backoff (%s) exceeds queue.max_backoff (%s)", c.Queue.InitialBackoff, c.Queue.MaxBackoff)
	}
	if c.Queue.BackoffFactor < 1 {
		return fmt.Errorf("queue.backoff_factor must be >= 1, got %g", c.Queue.BackoffFactor)
	}
	if c.Queue.PollInterval < 0 {
		return fmt.Errorf("queue.poll_interval cannot be negative")
	}

	switch c.Store.Driver {
	case "memory":
	case "file":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the file store")
		}
	case "firestore":
		if c.Store.FirestoreProject == "" {
			return fmt.Errorf("store.firestore_project is required for the firestore store")
		}
	default:
		return fmt.Errorf("unsupported store.driver: %q", c.Store.Driver)
	}

	switch c.Files.Driver {
	case "local":
		if c.Files.Root == "" {
			return fmt.Errorf("files.root is required for the local file store")
		}
	case "gcs":
		if c.Files.GCSBucket == "" {
			return fmt.Errorf("files.gcs_bucket is required for the gcs file store")
		}
	default:
		return fmt.Errorf("unsupported files.driver: %q", c.Files.Driver)
	}

	supported := make(map[string]bool)
	for _, id := range factory.SupportedProviders() {
		supported[id] = true
	}
	for _, id := range c.Providers.Enabled {
		if !supported[id] {
			return fmt.Errorf("providers.enabled: unsupported provider %q", id)
		}
	}
	return nil
}
