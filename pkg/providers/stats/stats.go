// Package stats 记录各翻译提供商的调用统计
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.uber.org/zap"
)

// ProviderStats 单个提供商的调用统计
type ProviderStats struct {
	ProviderName       string `json:"provider_name"`
	TotalRequests      int64  `json:"total_requests"`
	SuccessfulRequests int64  `json:"successful_requests"`
	FailedRequests     int64  `json:"failed_requests"`
	CanceledRequests   int64  `json:"canceled_requests"`

	// 字符统计
	CharactersIn  int64 `json:"characters_in"`
	CharactersOut int64 `json:"characters_out"`

	// 性能指标
	AverageLatency time.Duration `json:"average_latency"`
	MinLatency     time.Duration `json:"min_latency"`
	MaxLatency     time.Duration `json:"max_latency"`
	TotalLatency   time.Duration `json:"total_latency"`

	// 按错误类型统计
	ErrorTypes map[string]int64 `json:"error_types"`

	FirstRequestTime time.Time `json:"first_request_time"`
	LastRequestTime  time.Time `json:"last_request_time"`
}

// SuccessRate 成功率（百分比）
func (ps *ProviderStats) SuccessRate() float64 {
	if ps.TotalRequests == 0 {
		return 0
	}
	return float64(ps.SuccessfulRequests) / float64(ps.TotalRequests) * 100
}

func (ps *ProviderStats) clone() *ProviderStats {
	c := *ps
	c.ErrorTypes = maps.Clone(ps.ErrorTypes)
	if c.ErrorTypes == nil {
		c.ErrorTypes = make(map[string]int64)
	}
	return &c
}

// RequestResult 单次请求结果
type RequestResult struct {
	Success       bool
	Canceled      bool
	Latency       time.Duration
	CharactersIn  int
	CharactersOut int
	ErrorType     string
}

// StatsManager 统计管理器
type StatsManager struct {
	stats  map[string]*ProviderStats
	dbPath string
	logger *zap.Logger
	mu     sync.RWMutex
	// dirty 自上次保存后是否有新记录
	dirty bool
}

// NewStatsManager 创建统计管理器，dbPath 为空时只保存在内存中
func NewStatsManager(dbPath string, logger *zap.Logger) *StatsManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsManager{
		stats:  make(map[string]*ProviderStats),
		dbPath: dbPath,
		logger: logger,
	}
}

// RecordRequest 记录请求结果
func (sm *StatsManager) RecordRequest(provider string, result RequestResult) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.dirty = true
	stats, ok := sm.stats[provider]
	if !ok {
		stats = &ProviderStats{ProviderName: provider, ErrorTypes: make(map[string]int64)}
		sm.stats[provider] = stats
	}

	now := time.Now()
	if stats.FirstRequestTime.IsZero() {
		stats.FirstRequestTime = now
	}
	stats.LastRequestTime = now
	stats.TotalRequests++

	switch {
	case result.Success:
		stats.SuccessfulRequests++
		stats.CharactersOut += int64(result.CharactersOut)
	case result.Canceled:
		stats.CanceledRequests++
	default:
		stats.FailedRequests++
		if result.ErrorType != "" {
			stats.ErrorTypes[result.ErrorType]++
		}
	}
	stats.CharactersIn += int64(result.CharactersIn)

	// 延迟统计
	stats.TotalLatency += result.Latency
	if stats.MinLatency == 0 || result.Latency < stats.MinLatency {
		stats.MinLatency = result.Latency
	}
	if result.Latency > stats.MaxLatency {
		stats.MaxLatency = result.Latency
	}
	stats.AverageLatency = stats.TotalLatency / time.Duration(stats.TotalRequests)
}

// GetStats 获取指定提供商的统计副本
func (sm *StatsManager) GetStats(provider string) *ProviderStats {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if stats, ok := sm.stats[provider]; ok {
		return stats.clone()
	}
	return nil
}

// GetAllStats 按提供商名排序返回所有统计副本
func (sm *StatsManager) GetAllStats() []*ProviderStats {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]*ProviderStats, 0, len(sm.stats))
	for _, stats := range sm.stats {
		out = append(out, stats.clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ProviderName < out[k].ProviderName })
	return out
}

// SaveToDB 保存统计数据到文件，没有新记录时不写入
func (sm *StatsManager) SaveToDB() error {
	sm.mu.Lock()
	dirty := sm.dirty
	sm.dirty = false
	sm.mu.Unlock()
	if sm.dbPath == "" || !dirty {
		return nil
	}

	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(sm.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create stats directory: %w", err)
	}

	data := make(map[string]*ProviderStats)
	for _, stats := range sm.GetAllStats() {
		data[stats.ProviderName] = stats
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats data: %w", err)
	}

	tempPath := sm.dbPath + ".tmp"
	if err := os.WriteFile(tempPath, jsonData, 0o644); err != nil {
		return fmt.Errorf("failed to write stats file: %w", err)
	}
	if err := os.Rename(tempPath, sm.dbPath); err != nil {
		return fmt.Errorf("failed to rename stats file: %w", err)
	}

	sm.logger.Debug("provider stats saved", zap.String("path", sm.dbPath))
	return nil
}

// LoadFromDB 从文件加载统计数据，文件不存在时从零开始
func (sm *StatsManager) LoadFromDB() error {
	if sm.dbPath == "" {
		return nil
	}

	data, err := os.ReadFile(sm.dbPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read stats file: %w", err)
	}

	var statsData map[string]*ProviderStats
	if err := json.Unmarshal(data, &statsData); err != nil {
		return fmt.Errorf("failed to unmarshal stats data: %w", err)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	for key, stats := range statsData {
		if stats.ErrorTypes == nil {
			stats.ErrorTypes = make(map[string]int64)
		}
		stats.ProviderName = key
		sm.stats[key] = stats
	}

	sm.logger.Debug("provider stats loaded",
		zap.String("path", sm.dbPath),
		zap.Int("providers", len(statsData)))
	return nil
}

// PrintStatsTable 打印统计表格
func (sm *StatsManager) PrintStatsTable(w io.Writer) {
	allStats := sm.GetAllStats()
	if len(allStats) == 0 {
		fmt.Fprintln(w, "No statistics available.")
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.Style().Format.Header = text.FormatDefault
	tw.AppendHeader(table.Row{"Provider", "Requests", "Success%", "Failed", "Canceled", "Chars In", "Chars Out", "Avg Latency", "Max Latency", "Top Error"})

	for _, stats := range allStats {
		tw.AppendRow(table.Row{
			stats.ProviderName,
			stats.TotalRequests,
			fmt.Sprintf("%.1f%%", stats.SuccessRate()),
			stats.FailedRequests,
			stats.CanceledRequests,
			stats.CharactersIn,
			stats.CharactersOut,
			stats.AverageLatency.Round(time.Millisecond).String(),
			stats.MaxLatency.Round(time.Millisecond).String(),
			topError(stats.ErrorTypes),
		})
	}
	tw.Render()
}

// topError 出现次数最多的错误类型
func topError(errs map[string]int64) string {
	best, bestCount := "-", int64(0)
	for kind, n := range errs {
		if n > bestCount || (n == bestCount && kind < best) {
			best, bestCount = kind, n
		}
	}
	return best
}

// AutoSaveRoutine 定期自动保存统计数据，ctx 结束时最后保存一次
func (sm *StatsManager) AutoSaveRoutine(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := sm.SaveToDB(); err != nil {
				sm.logger.Error("failed to save stats on shutdown", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := sm.SaveToDB(); err != nil {
				sm.logger.Error("failed to auto-save stats", zap.Error(err))
			}
		}
	}
}
