// Package cli 实现 translator 命令行
package cli

import (
	"context"
	"fmt"

	"github.com/nerdneilsfield/go-translator-pipeline/internal/app"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/config"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// 命令行标志变量
	cfgFile     string
	debugMode   bool
	verboseMode bool // 显示详细日志
)

// NewRootCommand 创建根命令
func NewRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "translator",
		Short: "文档翻译任务流水线",
		Long: `translator 把文档翻译作为异步任务处理：提交、排队、分块翻译、重建输出。

支持的文档格式: text, markdown, docx, epub, pdf

支持的翻译提供商:
  - deepl, deeplx: DeepL 及其免费替代
  - google: Google Translate
  - libretranslate: LibreTranslate (开源)
  - openai, ollama: 大语言模型
  - argos: Argos Translate 本地服务
  - gemini: Vertex AI Gemini
  - lambda: AWS Lambda 翻译函数
  - raw: 不翻译，直接返回原文`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径 (默认 $HOME/"+config.DefaultConfigName+".yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "启用调试模式")
	rootCmd.PersistentFlags().BoolVarP(&verboseMode, "verbose", "v", false, "显示详细日志")

	rootCmd.AddCommand(
		NewServeCommand(),
		NewSubmitCommand(),
		NewTranslateCommand(),
		NewStatusCommand(),
		NewListCommand(),
		NewCancelCommand(),
		NewDeleteCommand(),
		NewProvidersCommand(),
		NewStatsCommand(),
	)

	return rootCmd
}

// loadConfig 加载配置并创建日志
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if debugMode {
		cfg.Debug = true
	}
	log := logger.NewLoggerWithVerbose(cfg.Debug, verboseMode)
	if used := config.ConfigFileUsed(cfgFile); used != "" {
		log.Debug("loaded config", zap.String("file", used))
	}
	return cfg, log, nil
}

// openApp 加载配置并组装流水线，调用方负责 Close 与 Sync
func openApp(ctx context.Context) (*app.App, *zap.Logger, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return a, log, nil
}

// withApp 在组装好的流水线上执行 fn
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, log *zap.Logger) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, log, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("failed to close resources", zap.Error(err))
		}
		_ = log.Sync()
	}()

	return fn(ctx, a, log)
}
