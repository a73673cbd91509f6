package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/app"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// jobStats 任务统计
type jobStats struct {
	Total         int
	ByStatus      map[jobs.Status]int
	ByProvider    map[string]int
	ByLanguage    map[string]int
	ByReason      map[jobs.FailureReason]int
	Chunks        int
	TotalDuration time.Duration
	Completed     int
}

// collectStats 汇总任务列表
func collectStats(list []*jobs.Job) *jobStats {
	s := &jobStats{
		ByStatus:   make(map[jobs.Status]int),
		ByProvider: make(map[string]int),
		ByLanguage: make(map[string]int),
		ByReason:   make(map[jobs.FailureReason]int),
	}
	for _, job := range list {
		s.Total++
		s.ByStatus[job.Status]++
		s.ByProvider[job.Provider]++
		s.ByLanguage[languagePair(job)]++
		s.Chunks += job.ProcessedChunks
		if job.FailureReason != "" {
			s.ByReason[job.FailureReason]++
		}
		if job.Status == jobs.StatusCompleted && job.CompletedAt != nil {
			s.Completed++
			s.TotalDuration += job.CompletedAt.Sub(job.CreatedAt)
		}
	}
	return s
}

// AverageDuration 已完成任务的平均耗时
func (s *jobStats) AverageDuration() time.Duration {
	if s.Completed == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Completed)
}

// NewStatsCommand 创建 stats 命令
func NewStatsCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "查看任务统计",
		Long: `stats 汇总记录存储中的任务：
- 各状态的任务数
- 提供商与语言对分布
- 失败原因分布
- 已完成任务的平均耗时`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
				list, err := a.Service.List(ctx, jobs.Filter{OwnerID: owner})
				if err != nil {
					return err
				}
				showStats(cmd.OutOrStdout(), collectStats(list))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "只统计该所有者的任务")
	return cmd
}

// showStats 输出统计表格
func showStats(w io.Writer, s *jobStats) {
	title := color.New(color.FgCyan, color.Bold)
	title.Fprintln(w, "Translation Job Statistics")
	title.Fprintln(w, strings.Repeat("=", 40))

	if s.Total == 0 {
		fmt.Fprintln(w, "No jobs found")
		return
	}

	overview := newTable(w, table.Row{"Metric", "Value"})
	overview.AppendRow(table.Row{"Total Jobs", s.Total})
	overview.AppendRow(table.Row{"Translated Chunks", s.Chunks})
	overview.AppendRow(table.Row{"Average Duration", formatDuration(s.AverageDuration())})
	overview.Render()

	statuses := newTable(w, table.Row{"Status", "Jobs"})
	statuses.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	for _, status := range []jobs.Status{jobs.StatusQueued, jobs.StatusProcessing, jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCanceled} {
		if n := s.ByStatus[status]; n > 0 {
			statuses.AppendRow(table.Row{colorStatus(status), n})
		}
	}
	statuses.Render()

	renderCounts(w, "Provider", s.ByProvider)
	renderCounts(w, "Languages", s.ByLanguage)

	if len(s.ByReason) > 0 {
		reasons := make(map[string]int, len(s.ByReason))
		for r, n := range s.ByReason {
			reasons[string(r)] = n
		}
		renderCounts(w, "Failure Reason", reasons)
	}
}

// renderCounts 按数量降序输出分布
func renderCounts(w io.Writer, label string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, k int) bool {
		if counts[keys[i]] != counts[keys[k]] {
			return counts[keys[i]] > counts[keys[k]]
		}
		return keys[i] < keys[k]
	})

	tw := newTable(w, table.Row{label, "Jobs"})
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	for _, k := range keys {
		tw.AppendRow(table.Row{truncate(k, refWidth), counts[k]})
	}
	tw.Render()
}
