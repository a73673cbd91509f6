package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-runewidth"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
)

// refWidth 表格中引用列的最大显示宽度
const refWidth = 32

var statusColors = map[jobs.Status]*color.Color{
	jobs.StatusQueued:     color.New(color.FgCyan),
	jobs.StatusProcessing: color.New(color.FgYellow),
	jobs.StatusCompleted:  color.New(color.FgGreen),
	jobs.StatusFailed:     color.New(color.FgRed, color.Bold),
	jobs.StatusCanceled:   color.New(color.FgHiBlack),
}

// colorStatus 按状态着色
func colorStatus(s jobs.Status) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(string(s))
	}
	return string(s)
}

// truncate 按显示宽度截断，中日韩字符占两列
func truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "…")
}

// newTable 创建统一样式的表格
func newTable(w io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.Style().Format.Header = text.FormatDefault
	tw.AppendHeader(header)
	return tw
}

// renderJobs 以表格列出任务
func renderJobs(w io.Writer, list []*jobs.Job) {
	tw := newTable(w, table.Row{"ID", "Status", "Progress", "Chunks", "Provider", "Languages", "Source", "Created"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})

	for _, job := range list {
		tw.AppendRow(table.Row{
			job.ID,
			colorStatus(job.Status),
			fmt.Sprintf("%d%%", job.Progress),
			fmt.Sprintf("%d/%d", job.ProcessedChunks, job.TotalChunks),
			job.Provider,
			languagePair(job),
			truncate(job.SourceRef, refWidth),
			formatTime(job.CreatedAt),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(list)})
	tw.Render()
}

// renderJob 以键值表格显示单个任务
func renderJob(w io.Writer, job *jobs.Job) {
	tw := newTable(w, table.Row{"Field", "Value"})

	tw.AppendRow(table.Row{"ID", job.ID})
	if job.OwnerID != "" {
		tw.AppendRow(table.Row{"Owner", job.OwnerID})
	}
	tw.AppendRow(table.Row{"Status", colorStatus(job.Status)})
	tw.AppendRow(table.Row{"Progress", fmt.Sprintf("%d%% (%d/%d chunks)", job.Progress, job.ProcessedChunks, job.TotalChunks)})
	tw.AppendRow(table.Row{"Provider", job.Provider})
	tw.AppendRow(table.Row{"Languages", languagePair(job)})
	tw.AppendRow(table.Row{"Format", job.Format})
	if job.Title != "" {
		tw.AppendRow(table.Row{"Title", job.Title})
	}
	tw.AppendRow(table.Row{"Source", job.SourceRef})
	if job.OutputRef != "" {
		tw.AppendRow(table.Row{"Output", job.OutputRef})
	}
	if job.FailureReason != "" {
		tw.AppendRow(table.Row{"Failure", color.RedString("%s: %s", job.FailureReason, job.FailureMessage)})
	}
	tw.AppendRow(table.Row{"Attempts", job.Attempts})
	tw.AppendRow(table.Row{"Created", formatTime(job.CreatedAt)})
	tw.AppendRow(table.Row{"Updated", formatTime(job.UpdatedAt)})
	if job.CompletedAt != nil {
		tw.AppendRow(table.Row{"Completed", formatTime(*job.CompletedAt)})
		tw.AppendRow(table.Row{"Duration", formatDuration(job.CompletedAt.Sub(job.CreatedAt))})
	}
	tw.Render()
}

func languagePair(job *jobs.Job) string {
	src := job.SourceLanguage
	if src == "" {
		src = "auto"
	}
	return src + " → " + job.TargetLanguage
}

// formatDuration 格式化时长
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

// formatTime 格式化时间
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// parseStatuses 解析逗号分隔的状态列表
func parseStatuses(raw []string) ([]jobs.Status, error) {
	var out []jobs.Status
	for _, item := range raw {
		for _, s := range strings.Split(item, ",") {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			status := jobs.Status(s)
			if _, ok := statusColors[status]; !ok {
				return nil, fmt.Errorf("unknown status %q", s)
			}
			out = append(out, status)
		}
	}
	return out, nil
}
