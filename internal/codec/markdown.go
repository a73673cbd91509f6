package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Kunde21/markdownfmt/v3"
	"github.com/dlclark/regexp2"
	mathjax "github.com/litao91/goldmark-mathjax"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// frontMatterPattern 匹配文件开头的 YAML (---) 或 TOML (+++) 元数据块
var frontMatterPattern = regexp2.MustCompile(`\A(---|\+\+\+)\r?\n(.*?)\r?\n\1[ \t]*(\r?\n|\z)`, regexp2.Singleline)

// MarkdownCodec Markdown 文档，保留正文语法
type MarkdownCodec struct {
	md goldmark.Markdown
}

var _ Codec = (*MarkdownCodec)(nil)

// NewMarkdownCodec 创建 Markdown 编解码器
func NewMarkdownCodec() *MarkdownCodec {
	return &MarkdownCodec{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Footnote,
				mathjax.MathJax,
				meta.Meta,
			),
		),
	}
}

// Format 格式
func (c *MarkdownCodec) Format() Format { return FormatMarkdown }

// Extensions 扩展名
func (c *MarkdownCodec) Extensions() []string { return []string{".md", ".markdown"} }

// Extract 去掉元数据块，标题取自元数据或第一个一级标题
func (c *MarkdownCodec) Extract(ctx context.Context, r io.Reader) (*Extracted, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read markdown: %w", err)
	}
	source, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	body, fields, err := c.splitFrontMatter(source)
	if err != nil {
		return nil, err
	}

	title, _ := fields["title"].(string)
	if title == "" {
		title = c.firstHeading([]byte(body))
	}
	return &Extracted{Text: body, Title: strings.TrimSpace(title)}, nil
}

// splitFrontMatter 返回正文与元数据字段
func (c *MarkdownCodec) splitFrontMatter(source string) (string, map[string]any, error) {
	m, err := frontMatterPattern.FindStringMatch(source)
	if err != nil {
		return "", nil, fmt.Errorf("front matter match: %w", err)
	}
	if m == nil {
		return source, nil, nil
	}

	groups := m.Groups()
	delim, block := groups[1].String(), groups[2].String()
	// regexp2 的位置以 rune 计
	body := strings.TrimLeft(string([]rune(source)[m.Index+m.Length:]), "\r\n")

	if delim == "+++" {
		fields := make(map[string]any)
		if _, err := toml.Decode(block, &fields); err != nil {
			return "", nil, fmt.Errorf("invalid TOML front matter: %w", err)
		}
		return body, fields, nil
	}

	pc := parser.NewContext()
	c.md.Parser().Parse(text.NewReader([]byte(m.String())), parser.WithContext(pc))
	fields, err := meta.TryGet(pc)
	if err != nil {
		return "", nil, fmt.Errorf("invalid YAML front matter: %w", err)
	}
	return body, fields, nil
}

// firstHeading 第一个一级标题的文本
func (c *MarkdownCodec) firstHeading(source []byte) string {
	doc := c.md.Parser().Parse(text.NewReader(source))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level != 1 {
			return ast.WalkContinue, nil
		}
		title = inlineText(heading, source)
		return ast.WalkStop, nil
	})
	return title
}

func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := child.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(source))
			if node.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// frontMatter 输出的 YAML 元数据
type frontMatter struct {
	Title      string `yaml:"title,omitempty"`
	Lang       string `yaml:"lang,omitempty"`
	SourceLang string `yaml:"source_lang,omitempty"`
	Translator string `yaml:"translator,omitempty"`
}

// Reconstruct 写出带标题与语言元数据的 Markdown
func (c *MarkdownCodec) Reconstruct(ctx context.Context, body string, w io.Writer, m Metadata) error {
	formatted, err := markdownfmt.Process("", []byte(body))
	if err != nil {
		return fmt.Errorf("markdown formatting failed: %w", err)
	}

	fm := frontMatter{Title: m.Title, Lang: m.Language, SourceLang: m.SourceLanguage, Translator: m.Provider}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	if fm != (frontMatter{}) {
		header, err := yaml.Marshal(fm)
		if err != nil {
			return fmt.Errorf("failed to encode front matter: %w", err)
		}
		buf.Write(header)
	}
	buf.WriteString("---\n\n")
	buf.Write(formatted)

	_, err = w.Write(buf.Bytes())
	return err
}
