package codec

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/net/html"
)

// epubBlockSelector 提取文本的块级元素
const epubBlockSelector = "h1, h2, h3, h4, h5, h6, p, li, blockquote, pre, dt, dd, figcaption, td, th"

// EPUBCodec 电子书，按书脊顺序提取 XHTML 段落
type EPUBCodec struct{}

var _ Codec = (*EPUBCodec)(nil)

// NewEPUBCodec 创建 EPUB 编解码器
func NewEPUBCodec() *EPUBCodec {
	return &EPUBCodec{}
}

// Format 格式
func (c *EPUBCodec) Format() Format { return FormatEPUB }

// Extensions 扩展名
func (c *EPUBCodec) Extensions() []string { return []string{".epub"} }

// opfPackage content.opf
type opfPackage struct {
	XMLName  xml.Name `xml:"package"`
	Metadata struct {
		Title    []string `xml:"title"`
		Language []string `xml:"language"`
	} `xml:"metadata"`
	Manifest struct {
		Items []opfItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

// Extract 读取书脊中的每个 XHTML 文档
func (c *EPUBCodec) Extract(ctx context.Context, r io.Reader) (*Extracted, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read epub: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open epub archive: %w", err)
	}

	opfPath, err := findOPFPath(zr)
	if err != nil {
		return nil, err
	}
	opfData, err := readZipFile(zr, opfPath)
	if err != nil {
		return nil, err
	}
	var pkg opfPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", opfPath, err)
	}

	manifest := make(map[string]opfItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		manifest[item.ID] = item
	}

	var paras []string
	for _, ref := range pkg.Spine.ItemRefs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, ok := manifest[ref.IDRef]
		if !ok || !isXHTML(item) || strings.Contains(item.Properties, "nav") {
			continue
		}

		content, err := readZipFile(zr, path.Join(path.Dir(opfPath), item.Href))
		if err != nil {
			return nil, err
		}
		blocks, err := xhtmlBlocks(content)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", item.Href, err)
		}
		paras = append(paras, blocks...)
	}

	out := &Extracted{Text: strings.Join(paras, "\n\n")}
	if len(pkg.Metadata.Title) > 0 {
		out.Title = strings.TrimSpace(pkg.Metadata.Title[0])
	}
	return out, nil
}

// xhtmlBlocks 收集最内层的块级元素文本
func xhtmlBlocks(content []byte) ([]string, error) {
	node, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	doc := goquery.NewDocumentFromNode(node)

	var out []string
	doc.Find("body").Find(epubBlockSelector).Each(func(_ int, s *goquery.Selection) {
		if s.Find(epubBlockSelector).Length() > 0 {
			return
		}
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			out = append(out, text)
		}
	})
	return out, nil
}

func isXHTML(item opfItem) bool {
	if item.MediaType == "application/xhtml+xml" || item.MediaType == "text/html" {
		return true
	}
	ext := strings.ToLower(path.Ext(item.Href))
	return ext == ".xhtml" || ext == ".html" || ext == ".htm"
}

// findOPFPath 从 META-INF/container.xml 获取 OPF 路径
func findOPFPath(zr *zip.Reader) (string, error) {
	if data, err := readZipFile(zr, "META-INF/container.xml"); err == nil {
		var container struct {
			Rootfiles struct {
				Rootfile []struct {
					FullPath string `xml:"full-path,attr"`
				} `xml:"rootfile"`
			} `xml:"rootfiles"`
		}
		if err := xml.Unmarshal(data, &container); err != nil {
			return "", fmt.Errorf("failed to parse container.xml: %w", err)
		}
		if len(container.Rootfiles.Rootfile) > 0 && container.Rootfiles.Rootfile[0].FullPath != "" {
			return container.Rootfiles.Rootfile[0].FullPath, nil
		}
	}

	// 没有 container.xml 时查找 *.opf
	for _, file := range zr.File {
		if strings.HasSuffix(file.Name, ".opf") {
			return file.Name, nil
		}
	}
	return "", fmt.Errorf("OPF file not found")
}

// Reconstruct 写出 EPUB 3 容器
func (c *EPUBCodec) Reconstruct(ctx context.Context, text string, w io.Writer, meta Metadata) error {
	title := meta.Title
	if title == "" {
		title = "Untitled"
	}
	lang := meta.Language
	if lang == "" {
		lang = "und"
	}

	zw := zip.NewWriter(w)

	// mimetype 必须是第一个且不压缩
	mw, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return err
	}
	if _, err := io.WriteString(mw, "application/epub+zip"); err != nil {
		return err
	}

	files := []struct {
		name    string
		content string
	}{
		{"META-INF/container.xml", epubContainer},
		{"OEBPS/content.opf", epubOPF(title, lang, meta.Provider)},
		{"OEBPS/nav.xhtml", epubNav(title, lang)},
		{"OEBPS/text.xhtml", epubChapter(title, lang, text)},
	}
	for _, f := range files {
		fw, err := zw.Create(f.name)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", f.name, err)
		}
		if _, err := io.WriteString(fw, f.content); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return zw.Close()
}

const epubContainer = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`

func epubOPF(title, lang, provider string) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="book-id">` + "\n")
	b.WriteString(`  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">` + "\n")
	b.WriteString(`    <dc:identifier id="book-id">urn:uuid:` + uuid.NewString() + "</dc:identifier>\n")
	b.WriteString("    <dc:title>" + escapeXML(title) + "</dc:title>\n")
	b.WriteString("    <dc:language>" + escapeXML(lang) + "</dc:language>\n")
	if provider != "" {
		b.WriteString("    <dc:contributor>" + escapeXML(provider) + "</dc:contributor>\n")
	}
	b.WriteString(`    <meta property="dcterms:modified">` + time.Now().UTC().Format("2006-01-02T15:04:05Z") + "</meta>\n")
	b.WriteString("  </metadata>\n")
	b.WriteString("  <manifest>\n")
	b.WriteString(`    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>` + "\n")
	b.WriteString(`    <item id="text" href="text.xhtml" media-type="application/xhtml+xml"/>` + "\n")
	b.WriteString("  </manifest>\n")
	b.WriteString("  <spine>\n")
	b.WriteString(`    <itemref idref="text"/>` + "\n")
	b.WriteString("  </spine>\n")
	b.WriteString("</package>\n")
	return b.String()
}

func epubNav(title, lang string) string {
	return xhtmlPage(title, lang,
		`<nav xmlns:epub="http://www.idpf.org/2007/ops" epub:type="toc"><ol><li><a href="text.xhtml">`+
			html.EscapeString(title)+`</a></li></ol></nav>`)
}

func epubChapter(title, lang, text string) string {
	var b strings.Builder
	b.WriteString("<h1>" + html.EscapeString(title) + "</h1>\n")
	for _, p := range paragraphs(text) {
		b.WriteString("<p>" + strings.ReplaceAll(html.EscapeString(p), "\n", "<br/>\n") + "</p>\n")
	}
	return xhtmlPage(title, lang, b.String())
}

func xhtmlPage(title, lang, body string) string {
	l := html.EscapeString(lang)
	return xml.Header + "<!DOCTYPE html>\n" +
		`<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="` + l + `" lang="` + l + `">` + "\n" +
		"<head><meta charset=\"utf-8\"/><title>" + html.EscapeString(title) + "</title></head>\n" +
		"<body>\n" + body + "</body>\n</html>\n"
}
