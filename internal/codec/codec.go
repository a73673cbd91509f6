// Package codec 负责从源文件提取文本以及把译文重建为目标格式
package codec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/storage"
)

// Format 文档格式
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatDocx     Format = "docx"
	FormatEPUB     Format = "epub"
	FormatPDF      Format = "pdf"
)

// ErrUnsupportedFormat 不支持的格式
var ErrUnsupportedFormat = errors.New("unsupported format")

// Extracted 提取结果
type Extracted struct {
	Text  string
	Title string
}

// Metadata 写入输出文件的元数据
type Metadata struct {
	Title          string
	Language       string
	SourceLanguage string
	Provider       string
}

// Codec 单一格式的编解码器
type Codec interface {
	Format() Format
	Extensions() []string
	Extract(ctx context.Context, r io.Reader) (*Extracted, error)
	Reconstruct(ctx context.Context, text string, w io.Writer, meta Metadata) error
}

// Registry 格式与扩展名到编解码器的映射
type Registry struct {
	mu       sync.RWMutex
	byFormat map[Format]Codec
	byExt    map[string]Codec
}

// NewRegistry 创建注册表
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{
		byFormat: make(map[Format]Codec),
		byExt:    make(map[string]Codec),
	}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// DefaultRegistry 注册所有内置格式
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewTextCodec(),
		NewMarkdownCodec(),
		NewDocxCodec(),
		NewEPUBCodec(),
		NewPDFCodec(),
	)
}

// Register 注册编解码器，后注册的覆盖先注册的
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byFormat[c.Format()] = c
	for _, ext := range c.Extensions() {
		r.byExt[normalizeExt(ext)] = c
	}
}

// Get 按格式查找
func (r *Registry) Get(format Format) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.byFormat[format]; ok {
		return c, nil
	}
	if c, ok := r.byExt[normalizeExt(string(format))]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// Detect 根据文件名推断格式
func (r *Registry) Detect(name string) (Format, error) {
	ext := path.Ext(strings.ReplaceAll(name, "\\", "/"))
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byExt[normalizeExt(ext)]; ok {
		return c.Format(), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

// Extension 格式的首选扩展名
func (r *Registry) Extension(format Format) string {
	c, err := r.Get(format)
	if err != nil || len(c.Extensions()) == 0 {
		return ""
	}
	return normalizeExt(c.Extensions()[0])
}

// Formats 列出所有已注册格式
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Format, 0, len(r.byFormat))
	for f := range r.byFormat {
		out = append(out, f)
	}
	sort.Slice(out, func(i, k int) bool { return out[i] < out[k] })
	return out
}

// ExtractText 从文件存储读取源文件并提取文本
func (r *Registry) ExtractText(ctx context.Context, files storage.FileStore, ref string, format Format) (*Extracted, error) {
	c, err := r.Get(format)
	if err != nil {
		return nil, jobs.NewPipelineError(jobs.ReasonUnsupportedFormat, err)
	}

	rc, err := files.Open(ctx, ref)
	if err != nil {
		return nil, jobs.NewPipelineError(jobs.ReasonExtractionFailed, err)
	}
	defer rc.Close()

	out, err := c.Extract(ctx, rc)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, jobs.NewPipelineError(jobs.ReasonExtractionFailed, fmt.Errorf("extract %s: %w", format, err))
	}
	return out, nil
}

// Reconstruct 把译文写入输出引用，失败时删除残留输出
func (r *Registry) Reconstruct(ctx context.Context, files storage.FileStore, text, outRef string, format Format, meta Metadata) error {
	c, err := r.Get(format)
	if err != nil {
		return jobs.NewPipelineError(jobs.ReasonUnsupportedFormat, err)
	}

	w, err := files.Create(ctx, outRef)
	if err != nil {
		return jobs.NewPipelineError(jobs.ReasonReconstructionFailed, err)
	}

	err = c.Reconstruct(ctx, text, w, meta)
	if cerr := w.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		_ = files.Delete(context.WithoutCancel(ctx), outRef)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return jobs.NewPipelineError(jobs.ReasonReconstructionFailed, fmt.Errorf("reconstruct %s: %w", format, err))
	}
	return nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// paragraphs 按空行切分段落
func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.Trim(p, "\n"); strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
