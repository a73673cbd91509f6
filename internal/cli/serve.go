package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewServeCommand 创建 serve 命令
func NewServeCommand() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "运行工作池处理排队中的任务",
		Long: `serve 恢复存储中未完成的任务并持续处理新提交的任务，收到 SIGINT/SIGTERM 后退出。
处理中的任务保持 processing 状态，下次启动时继续。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
				if cmd.Flags().Changed("workers") {
					a.Config.Workers = workers
				}
				return a.Serve(ctx)
			})
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "工作协程数 (覆盖配置)")
	return cmd
}

// NewProvidersCommand 创建 providers 命令
func NewProvidersCommand() *cobra.Command {
	var check, withStats bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "列出已注册的翻译提供商",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
				if withStats {
					a.Stats.PrintStatsTable(cmd.OutOrStdout())
					return nil
				}

				header := table.Row{"ID", "Name"}
				if check {
					header = append(header, "Available")
				}
				tw := newTable(cmd.OutOrStdout(), header)

				for _, p := range a.Service.Providers() {
					row := table.Row{p.ID(), p.DisplayName()}
					if check {
						checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
						status := color.RedString("no")
						if p.IsAvailable(checkCtx) {
							status = color.GreenString("yes")
						}
						cancel()
						row = append(row, status)
					}
					tw.AppendRow(row)
				}
				tw.Render()
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "检查每个提供商是否可用")
	cmd.Flags().BoolVar(&withStats, "stats", false, "显示各提供商的调用统计")
	return cmd
}
