package codec

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"
)

// DOCX XML 命名空间
const (
	wordprocessingMLNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	relationshipsNamespace    = "http://schemas.openxmlformats.org/package/2006/relationships"
)

// DocxCodec Word 文档，只处理段落文本
type DocxCodec struct{}

var _ Codec = (*DocxCodec)(nil)

// NewDocxCodec 创建 DOCX 编解码器
func NewDocxCodec() *DocxCodec {
	return &DocxCodec{}
}

// Format 格式
func (c *DocxCodec) Format() Format { return FormatDocx }

// Extensions 扩展名
func (c *DocxCodec) Extensions() []string { return []string{".docx"} }

// coreProperties docProps/core.xml
type coreProperties struct {
	XMLName  xml.Name `xml:"coreProperties"`
	Title    string   `xml:"title"`
	Language string   `xml:"language"`
}

// Extract 读取 word/document.xml 的段落与 core.xml 的标题
func (c *DocxCodec) Extract(ctx context.Context, r io.Reader) (*Extracted, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read docx: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx archive: %w", err)
	}

	docXML, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return nil, err
	}
	paras, err := docxParagraphs(docXML)
	if err != nil {
		return nil, err
	}

	out := &Extracted{Text: strings.Join(paras, "\n\n")}
	if coreXML, err := readZipFile(zr, "docProps/core.xml"); err == nil {
		var props coreProperties
		if xml.Unmarshal(coreXML, &props) == nil {
			out.Title = strings.TrimSpace(props.Title)
		}
	}
	return out, nil
}

// docxParagraphs 按文档顺序收集 w:p 文本，表格中的段落同样收集
func docxParagraphs(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		paras  []string
		cur    strings.Builder
		inPara int
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordprocessingMLNamespace {
				continue
			}
			switch t.Name.Local {
			case "p":
				inPara++
			case "t":
				inText = true
			case "tab":
				if inPara > 0 {
					cur.WriteByte('\t')
				}
			case "br", "cr":
				if inPara > 0 {
					cur.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if t.Name.Space != wordprocessingMLNamespace {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				inPara--
				if inPara == 0 {
					if p := strings.TrimSpace(cur.String()); p != "" {
						paras = append(paras, p)
					}
					cur.Reset()
				}
			}
		case xml.CharData:
			if inText && inPara > 0 {
				cur.Write(t)
			}
		}
	}
	return paras, nil
}

// Reconstruct 写出最小的 DOCX 包
func (c *DocxCodec) Reconstruct(ctx context.Context, text string, w io.Writer, meta Metadata) error {
	zw := zip.NewWriter(w)

	files := []struct {
		name    string
		content string
	}{
		{"[Content_Types].xml", docxContentTypes},
		{"_rels/.rels", docxRels},
		{"word/document.xml", docxDocument(text, meta.Language)},
		{"docProps/core.xml", docxCore(meta)},
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

func docxDocument(text, lang string) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<w:document xmlns:w="` + wordprocessingMLNamespace + `"><w:body>`)
	for _, p := range paragraphs(text) {
		b.WriteString("<w:p><w:r>")
		if lang != "" {
			b.WriteString(`<w:rPr><w:lang w:val="` + escapeXML(lang) + `"/></w:rPr>`)
		}
		for i, line := range strings.Split(p, "\n") {
			if i > 0 {
				b.WriteString("<w:br/>")
			}
			b.WriteString(`<w:t xml:space="preserve">` + escapeXML(line) + `</w:t>`)
		}
		b.WriteString("</w:r></w:p>")
	}
	b.WriteString("<w:sectPr/></w:body></w:document>")
	return b.String()
}

func docxCore(meta Metadata) string {
	now := time.Now().UTC().Format(time.RFC3339)
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" ` +
		`xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/" ` +
		`xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">`)
	b.WriteString("<dc:title>" + escapeXML(meta.Title) + "</dc:title>")
	if meta.Language != "" {
		b.WriteString("<dc:language>" + escapeXML(meta.Language) + "</dc:language>")
	}
	if meta.Provider != "" {
		b.WriteString("<cp:keywords>" + escapeXML("translated by "+meta.Provider) + "</cp:keywords>")
	}
	b.WriteString(`<dcterms:created xsi:type="dcterms:W3CDTF">` + now + `</dcterms:created>`)
	b.WriteString("</cp:coreProperties>")
	return b.String()
}

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`<Override PartName="/docProps/core.xml" ContentType="application/vnd.openxmlformats-package.core-properties+xml"/>` +
	`</Types>`

const docxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="` + relationshipsNamespace + `">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties" Target="docProps/core.xml"/>` +
	`</Relationships>`

// readZipFile 读取压缩包内的文件
func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, file := range zr.File {
		if file.Name == name {
			rc, err := file.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("file not found in archive: %s", name)
}

func escapeXML(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
