package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/app"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/service"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// submitOptions 提交任务的公共标志
type submitOptions struct {
	sourceLang string
	targetLang string
	provider   string
	owner      string
	title      string
	format     string
	priority   int
}

func (o *submitOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.sourceLang, "source", "s", "", "源语言 (为空时自动识别)")
	cmd.Flags().StringVarP(&o.targetLang, "target", "t", "", "目标语言")
	cmd.Flags().StringVarP(&o.provider, "provider", "p", "", "翻译提供商")
	cmd.Flags().StringVar(&o.owner, "owner", os.Getenv("USER"), "任务所有者")
	cmd.Flags().StringVar(&o.title, "title", "", "输出文档标题")
	cmd.Flags().StringVarP(&o.format, "format", "f", "", "文档格式 (默认按扩展名识别)")
	cmd.Flags().IntVar(&o.priority, "priority", 0, "优先级，数值越大越先处理 (默认使用配置)")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("provider")
}

// submit 保存源文件并提交任务
func (o *submitOptions) submit(ctx context.Context, cmd *cobra.Command, a *app.App, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	name := filepath.Base(file)
	ref, err := a.Service.StoreSource(ctx, name, f)
	if err != nil {
		return "", err
	}

	priority := a.Config.DefaultPriority
	if cmd.Flags().Changed("priority") {
		priority = o.priority
	}

	return a.Service.Submit(ctx, service.Request{
		OwnerID:        o.owner,
		SourceLanguage: o.sourceLang,
		TargetLanguage: o.targetLang,
		Provider:       o.provider,
		SourceRef:      ref,
		FileName:       name,
		Format:         o.format,
		Title:          o.title,
		Priority:       priority,
	})
}

// jobError 把失败或取消的任务转为命令错误
func jobError(job *jobs.Job) error {
	switch job.Status {
	case jobs.StatusFailed:
		return fmt.Errorf("job %s failed: %s: %s", job.ID, job.FailureReason, job.FailureMessage)
	case jobs.StatusCanceled:
		return fmt.Errorf("job %s was canceled", job.ID)
	}
	return nil
}

// NewSubmitCommand 创建 submit 命令
func NewSubmitCommand() *cobra.Command {
	var (
		opts     submitOptions
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit [flags] input_file",
		Short: "提交翻译任务并输出任务 ID",
		Long: `submit 把文件保存到文件存储并创建排队中的任务，随即返回任务 ID。
任务由 serve 进程处理，需要与之共享记录存储与文件存储。`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
				id, err := opts.submit(ctx, cmd, a, args[0])
				if err != nil {
					return err
				}

				job, err := a.Service.Status(ctx, id)
				if err != nil {
					return err
				}
				if job.Status.IsTerminal() {
					renderJob(cmd.OutOrStdout(), job)
					return jobError(job)
				}
				if !wait {
					fmt.Fprintln(cmd.OutOrStdout(), id)
					return nil
				}

				job, err = a.Service.Await(ctx, id, interval)
				if err != nil {
					return err
				}
				renderJob(cmd.OutOrStdout(), job)
				return jobError(job)
			})
		},
	}

	opts.bind(cmd)
	cmd.Flags().BoolVar(&wait, "wait", false, "等待任务结束")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "等待时的轮询间隔")
	return cmd
}

// NewTranslateCommand 创建 translate 命令
func NewTranslateCommand() *cobra.Command {
	var (
		opts       submitOptions
		outputPath string
		noProgress bool
	)

	cmd := &cobra.Command{
		Use:   "translate [flags] input_file",
		Short: "在当前进程内翻译单个文件",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
				start := time.Now()
				id, err := opts.submit(ctx, cmd, a, args[0])
				if err != nil {
					return err
				}

				job, err := processWithProgress(ctx, a, id, cmd.ErrOrStderr(), !noProgress)
				if err != nil {
					return err
				}
				if err := jobError(job); err != nil {
					return err
				}

				out := outputPath
				if out == "" {
					out = defaultOutputPath(args[0], job)
				}
				if err := saveOutput(ctx, a, id, out); err != nil {
					return err
				}

				log.Info("translation finished",
					zap.String("job_id", id),
					zap.String("output", out),
					zap.Int("chunks", job.TotalChunks),
					zap.Duration("elapsed", time.Since(start)))
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "输出文件路径 (默认 <输入名>.<目标语言><扩展名>)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "不显示进度条")
	return cmd
}

// processWithProgress 处理任务，同时根据事件流刷新进度条
func processWithProgress(ctx context.Context, a *app.App, id string, w io.Writer, show bool) (*jobs.Job, error) {
	if !show {
		return a.ProcessJob(ctx, id)
	}

	bar, err := pterm.DefaultProgressbar.
		WithTotal(100).
		WithTitle("翻译进度").
		WithWriter(w).
		WithRemoveWhenDone(false).
		Start()
	if err != nil {
		return a.ProcessJob(ctx, id)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var seq uint64
		for {
			events, err := a.Service.WaitEvents(watchCtx, seq)
			if err != nil {
				return
			}
			for _, ev := range events {
				seq = ev.Seq
				if ev.JobID != id || ev.Progress <= bar.Current {
					continue
				}
				bar.UpdateTitle(fmt.Sprintf("翻译进度 %d/%d", ev.ProcessedChunks, ev.TotalChunks))
				bar.Add(ev.Progress - bar.Current)
			}
		}
	}()

	job, err := a.ProcessJob(ctx, id)
	cancel()
	<-done
	_, _ = bar.Stop()
	return job, err
}

// defaultOutputPath 在输入文件旁生成输出路径
func defaultOutputPath(input string, job *jobs.Job) string {
	ext := filepath.Ext(job.OutputRef)
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + "." + strings.ToLower(job.TargetLanguage) + ext
}

// saveOutput 把任务输出复制到本地路径
func saveOutput(ctx context.Context, a *app.App, id, path string) error {
	rc, _, err := a.Service.OpenOutput(ctx, id)
	if err != nil {
		return err
	}
	defer rc.Close()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write output: %w", err)
	}
	return f.Close()
}

// NewStatusCommand 创建 status 命令
func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status job_id",
		Short: "查看任务状态",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
				job, err := a.Service.Status(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), job)
				}
				renderJob(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出")
	return cmd
}

// NewListCommand 创建 list 命令
func NewListCommand() *cobra.Command {
	var (
		owner    string
		statuses []string
		limit    int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出任务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseStatuses(statuses)
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
				list, err := a.Service.List(ctx, jobs.Filter{OwnerID: owner, Statuses: parsed, Limit: limit})
				if err != nil {
					return err
				}
				if asJSON {
					if list == nil {
						list = []*jobs.Job{}
					}
					return writeJSON(cmd.OutOrStdout(), list)
				}
				renderJobs(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "只显示该所有者的任务")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "按状态过滤，如 queued,processing")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "最多显示的任务数")
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出")
	return cmd
}

// NewCancelCommand 创建 cancel 命令
func NewCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel job_id",
		Short: "取消排队中或处理中的任务",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
				job, err := a.Service.Cancel(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", job.ID, colorStatus(job.Status))
				return nil
			})
		},
	}
}

// NewDeleteCommand 创建 delete 命令
func NewDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete job_id",
		Short: "删除任务记录及其输出",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
				if err := a.Service.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], color.HiBlackString("deleted"))
				return nil
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
