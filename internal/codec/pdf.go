package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/mattn/go-runewidth"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/create"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/text/encoding/charmap"
)

// 页面布局（A4，单位 pt）
const (
	pdfPageWidth   = 595
	pdfPageHeight  = 842
	pdfMargin      = 72
	pdfFontSize    = 11
	pdfLeading     = 14
	pdfColumns     = 80
	pdfLinesOnPage = (pdfPageHeight - 2*pdfMargin) / pdfLeading
)

// DefaultPDFFont pdfcpu 默认安装的用户字体，覆盖拉丁、希腊与西里尔字母
const DefaultPDFFont = "Roboto-Regular"

// ErrUnencodable 译文含有输出字体无法表示的字符
var ErrUnencodable = errors.New("text not encodable in pdf font")

// PDFCodec 按页提取文本，输出为只含文本的 PDF
type PDFCodec struct {
	font string
}

var _ Codec = (*PDFCodec)(nil)

// PDFOption PDF 编解码器选项
type PDFOption func(*PDFCodec)

// WithPDFFont 指定非 WinAnsi 文本使用的 pdfcpu 用户字体
func WithPDFFont(name string) PDFOption {
	return func(c *PDFCodec) {
		if name != "" {
			c.font = name
		}
	}
}

// NewPDFCodec 创建 PDF 编解码器
func NewPDFCodec(opts ...PDFOption) *PDFCodec {
	c := &PDFCodec{font: DefaultPDFFont}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Format 格式
func (c *PDFCodec) Format() Format { return FormatPDF }

// Extensions 扩展名
func (c *PDFCodec) Extensions() []string { return []string{".pdf"} }

func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Extract 用 pdfcpu 读取每页内容流，按页面字体的 ToUnicode 表解析文本操作符
func (c *PDFCodec) Extract(ctx context.Context, r io.Reader) (*Extracted, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}

	conf := pdfConfig()
	conf.Cmd = model.EXTRACTCONTENT
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}

	var pages []string
	for nr := 1; nr <= pctx.PageCount; nr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, _, inh, err := pctx.PageDict(nr, false)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", nr, err)
		}
		content, err := pctx.PageContent(d, nr)
		if err != nil {
			if errors.Is(err, model.ErrNoContent) {
				continue
			}
			return nil, fmt.Errorf("page %d: %w", nr, err)
		}
		if text := strings.TrimSpace(contentText(content, pageFonts(pctx, d, inh))); text != "" {
			pages = append(pages, text)
		}
	}

	return &Extracted{Text: strings.Join(pages, "\n\n"), Title: strings.TrimSpace(pctx.Title)}, nil
}

// pageFonts 收集页面资源中带 ToUnicode 表的字体
func pageFonts(pctx *model.Context, page types.Dict, inh *model.InheritedPageAttrs) map[string]*toUnicodeMap {
	var res types.Dict
	if inh != nil {
		res = inh.Resources
	}
	if o, ok := page.Find("Resources"); ok {
		if d, err := pctx.DereferenceDict(o); err == nil && d != nil {
			res = d
		}
	}
	if res == nil {
		return nil
	}
	o, ok := res.Find("Font")
	if !ok {
		return nil
	}
	fontDicts, err := pctx.DereferenceDict(o)
	if err != nil || fontDicts == nil {
		return nil
	}

	fonts := make(map[string]*toUnicodeMap)
	for name, o := range fontDicts {
		fd, err := pctx.DereferenceDict(o)
		if err != nil || fd == nil {
			continue
		}
		tu, ok := fd.Find("ToUnicode")
		if !ok {
			continue
		}
		sd, _, err := pctx.DereferenceStreamDict(tu)
		if err != nil || sd == nil {
			continue
		}
		if err := sd.Decode(); err != nil {
			continue
		}
		if m := parseToUnicode(sd.Content); m != nil {
			fonts[name] = m
		}
	}
	return fonts
}

// toUnicodeMap 字符码到 Unicode 文本的映射
type toUnicodeMap struct {
	codeLen int
	chars   map[uint32]string
}

var (
	codespacePattern  = regexp.MustCompile(`begincodespacerange\s*<([0-9A-Fa-f]+)>`)
	bfcharPattern     = regexp.MustCompile(`(?s)beginbfchar(.*?)endbfchar`)
	bfrangePattern    = regexp.MustCompile(`(?s)beginbfrange(.*?)endbfrange`)
	charEntryPattern  = regexp.MustCompile(`<([0-9A-Fa-f]+)>\s*<([0-9A-Fa-f]*)>`)
	rangeEntryPattern = regexp.MustCompile(`<([0-9A-Fa-f]+)>\s*<([0-9A-Fa-f]+)>\s*(<[0-9A-Fa-f]*>|\[[^\]]*\])`)
	hexStringPattern  = regexp.MustCompile(`<([0-9A-Fa-f]*)>`)
)

// parseToUnicode 解析 ToUnicode CMap 的 bfchar 与 bfrange 段
func parseToUnicode(data []byte) *toUnicodeMap {
	m := &toUnicodeMap{codeLen: 2, chars: make(map[uint32]string)}
	if cs := codespacePattern.FindSubmatch(data); cs != nil {
		m.codeLen = max(1, len(cs[1])/2)
	}

	for _, block := range bfcharPattern.FindAllSubmatch(data, -1) {
		for _, e := range charEntryPattern.FindAllSubmatch(block[1], -1) {
			m.chars[hexCode(e[1])] = utf16Text(decodeHex(e[2]))
		}
	}

	for _, block := range bfrangePattern.FindAllSubmatch(data, -1) {
		for _, e := range rangeEntryPattern.FindAllSubmatch(block[1], -1) {
			lo, hi := hexCode(e[1]), hexCode(e[2])
			if hi < lo || hi-lo > 0xFFFF {
				continue
			}
			if e[3][0] == '[' {
				for i, dst := range hexStringPattern.FindAllSubmatch(e[3], -1) {
					if lo+uint32(i) > hi {
						break
					}
					m.chars[lo+uint32(i)] = utf16Text(decodeHex(dst[1]))
				}
				continue
			}
			dst := decodeHex(e[3][1 : len(e[3])-1])
			for code := lo; code <= hi; code++ {
				m.chars[code] = utf16Text(dst)
				if n := len(dst); n > 0 {
					dst = append([]byte(nil), dst...)
					dst[n-1]++
				}
			}
		}
	}

	if len(m.chars) == 0 {
		return nil
	}
	return m
}

// decode 按定长字符码查表，未映射的码被跳过
func (m *toUnicodeMap) decode(b []byte) string {
	var sb strings.Builder
	for i := 0; i+m.codeLen <= len(b); i += m.codeLen {
		var code uint32
		for _, ch := range b[i : i+m.codeLen] {
			code = code<<8 | uint32(ch)
		}
		if s, ok := m.chars[code]; ok {
			sb.WriteString(s)
		}
	}
	return sb.String()
}

func hexCode(h []byte) uint32 {
	v, _ := strconv.ParseUint(string(h), 16, 32)
	return uint32(v)
}

func utf16Text(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return string(utf16.Decode(units))
}

type operandKind int

const (
	operandString operandKind = iota
	operandNumber
	operandName
	operandArray
	operandMark
	operandOther
)

type operand struct {
	kind  operandKind
	str   []byte
	num   float64
	array []operand
}

// textLine 同一基线上的文本；positioned 表示所在文本对象设置过位置
type textLine struct {
	text       string
	y          float64
	positioned bool
	fontSize   float64
}

// 没有 TL 时行距不超过字号的该倍数
const maxLeadingRatio = 1.6

// contentText 解析内容流中的 Tf/Tj/TJ/'/" 与定位操作符，行距明显变大处视为段落间隔
func contentText(s []byte, fonts map[string]*toUnicodeMap) string {
	var (
		lines    []textLine
		line     strings.Builder
		lineY    float64
		linePos  bool
		inLine   bool
		operands []operand

		y            float64
		positioned   bool
		leading      float64
		fixedLeading bool
		fontSize     float64
		cmap         *toUnicodeMap
	)

	flush := func() {
		if text := strings.TrimRight(line.String(), " "); text != "" {
			lines = append(lines, textLine{text: text, y: lineY, positioned: linePos, fontSize: fontSize})
		}
		line.Reset()
		inLine = false
	}
	decode := func(b []byte) string {
		if cmap != nil {
			return cmap.decode(b)
		}
		return decodePDFString(b)
	}
	show := func(text string) {
		if text == "" {
			return
		}
		if inLine && (positioned != linePos || math.Abs(y-lineY) > 0.5) {
			flush()
		}
		if !inLine {
			lineY, linePos, inLine = y, positioned, true
		}
		line.WriteString(text)
	}
	nextLine := func() {
		flush()
		y -= leading
	}
	lastString := func() []byte {
		for i := len(operands) - 1; i >= 0; i-- {
			if operands[i].kind == operandString {
				return operands[i].str
			}
		}
		return nil
	}
	number := func(back int) (float64, bool) {
		n := len(operands) - back
		if n < 0 || operands[n].kind != operandNumber {
			return 0, false
		}
		return operands[n].num, true
	}

	for i := 0; i < len(s); {
		ch := s[i]
		switch {
		case isPDFSpace(ch):
			i++
		case ch == '%':
			for i < len(s) && s[i] != '\n' && s[i] != '\r' {
				i++
			}
		case ch == '(':
			str, n := readLiteral(s[i:])
			operands = append(operands, operand{kind: operandString, str: str})
			i += n
		case ch == '<' && i+1 < len(s) && s[i+1] == '<', ch == '>' && i+1 < len(s) && s[i+1] == '>':
			i += 2
		case ch == '<':
			end := bytes.IndexByte(s[i:], '>')
			if end < 0 {
				end = len(s) - i - 1
			}
			operands = append(operands, operand{kind: operandString, str: decodeHex(s[i+1 : i+end])})
			i += end + 1
		case ch == '[':
			operands = append(operands, operand{kind: operandMark})
			i++
		case ch == ']':
			start := len(operands) - 1
			for start >= 0 && operands[start].kind != operandMark {
				start--
			}
			arr := operand{kind: operandArray}
			if start >= 0 {
				arr.array = append([]operand(nil), operands[start+1:]...)
				operands = operands[:start]
			}
			operands = append(operands, arr)
			i++
		case ch == '/':
			j := i + 1
			for j < len(s) && isPDFRegular(s[j]) {
				j++
			}
			operands = append(operands, operand{kind: operandName, str: s[i+1 : j]})
			i = j
		case ch == '+' || ch == '-' || ch == '.' || (ch >= '0' && ch <= '9'):
			j := i + 1
			for j < len(s) && (s[j] == '.' || (s[j] >= '0' && s[j] <= '9')) {
				j++
			}
			v, _ := strconv.ParseFloat(string(s[i:j]), 64)
			operands = append(operands, operand{kind: operandNumber, num: v})
			i = j
		default:
			j := i
			for j < len(s) && isPDFRegular(s[j]) {
				j++
			}
			if j == i {
				j++
			}
			op := string(s[i:j])
			i = j

			switch op {
			case "BT":
				flush()
				y, positioned = 0, false
			case "Tf":
				if n := len(operands); n >= 2 && operands[n-2].kind == operandName {
					cmap = fonts[string(operands[n-2].str)]
				}
				if size, ok := number(1); ok {
					fontSize = math.Abs(size)
				}
			case "Tj":
				show(decode(lastString()))
			case "'", "\"":
				nextLine()
				show(decode(lastString()))
			case "TJ":
				if n := len(operands); n > 0 && operands[n-1].kind == operandArray {
					for _, el := range operands[n-1].array {
						switch el.kind {
						case operandString:
							show(decode(el.str))
						case operandNumber:
							if el.num < -200 && inLine && !strings.HasSuffix(line.String(), " ") {
								line.WriteByte(' ')
							}
						}
					}
				}
			case "Td", "TD":
				if ty, ok := number(1); ok {
					y += ty
					positioned = true
					if op == "TD" {
						leading, fixedLeading = math.Abs(ty), true
					}
				}
			case "Tm":
				if f, ok := number(1); ok {
					y, positioned = f, true
				}
			case "TL":
				if tl, ok := number(1); ok && tl != 0 {
					leading, fixedLeading = math.Abs(tl), true
				}
			case "T*":
				nextLine()
			case "ET":
				flush()
			case "BI":
				if end := bytes.Index(s[i:], []byte("EI")); end >= 0 {
					i += end + 2
				} else {
					i = len(s)
				}
			}
			operands = operands[:0]
		}
	}
	flush()

	return joinLines(lines, leading, fixedLeading)
}

// joinLines 以行距为基准，把间距超过 1.5 倍行距的两行之间记为段落
func joinLines(lines []textLine, leading float64, fixed bool) string {
	step := leading
	if !fixed {
		step = 0
		for i := 1; i < len(lines); i++ {
			if gap := lines[i-1].y - lines[i].y; lines[i].positioned && lines[i-1].positioned && gap > 0 && (step == 0 || gap < step) {
				step = gap
			}
		}
		for _, l := range lines {
			if limit := l.fontSize * maxLeadingRatio; limit > 0 && step > limit {
				step = limit
			}
		}
	}

	var out strings.Builder
	for i, l := range lines {
		if i > 0 && step > 0 && l.positioned && lines[i-1].positioned && lines[i-1].y-l.y > step*1.5 {
			out.WriteByte('\n')
		}
		out.WriteString(l.text)
		out.WriteByte('\n')
	}
	return out.String()
}

func isPDFSpace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t' || ch == '\f' || ch == 0
}

func isPDFRegular(ch byte) bool {
	if isPDFSpace(ch) {
		return false
	}
	switch ch {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}

// readLiteral 读取括号字符串，返回内容与消耗的字节数
func readLiteral(s []byte) ([]byte, int) {
	var out []byte
	depth := 0
	i := 0
	for i < len(s) {
		ch := s[i]
		switch {
		case ch == '(':
			if depth > 0 {
				out = append(out, ch)
			}
			depth++
			i++
		case ch == ')':
			depth--
			i++
			if depth == 0 {
				return out, i
			}
			out = append(out, ch)
		case ch == '\\' && i+1 < len(s):
			i++
			esc := s[i]
			switch esc {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r', '\n':
				if esc == '\r' && i+1 < len(s) && s[i+1] == '\n' {
					i++
				}
			default:
				if esc >= '0' && esc <= '7' {
					v := 0
					j := 0
					for j < 3 && i < len(s) && s[i] >= '0' && s[i] <= '7' {
						v = v*8 + int(s[i]-'0')
						i++
						j++
					}
					out = append(out, byte(v))
					continue
				}
				out = append(out, esc)
			}
			i++
		default:
			out = append(out, ch)
			i++
		}
	}
	return out, i
}

func decodeHex(s []byte) []byte {
	var digits []byte
	for _, ch := range s {
		if (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F') {
			digits = append(digits, ch)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	for i := range out {
		v, _ := strconv.ParseUint(string(digits[2*i:2*i+2]), 16, 8)
		out[i] = byte(v)
	}
	return out
}

// decodePDFString UTF-16BE（带 BOM）或 WinAnsi
func decodePDFString(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		units := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(units))
	}
	var sb strings.Builder
	for _, ch := range b {
		sb.WriteRune(charmap.Windows1252.DecodeByte(ch))
	}
	return sb.String()
}

// encodeWinAnsi 任一字符不在 WinAnsi 中时返回 false
func encodeWinAnsi(s string) ([]byte, bool) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			return nil, false
		}
		out = append(out, b)
	}
	return out, true
}

func escapeLiteral(b []byte) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, ch := range b {
		switch ch {
		case '(', ')', '\\':
			sb.WriteByte('\\')
			sb.WriteByte(ch)
		case '\r':
			sb.WriteString(`\r`)
		case '\n':
			sb.WriteString(`\n`)
		default:
			sb.WriteByte(ch)
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

// textString ASCII 使用字面串，其余使用 UTF-16BE 十六进制串
func textString(s string) string {
	ascii := true
	for _, r := range s {
		if r > 0x7E || r < 0x20 {
			ascii = false
			break
		}
	}
	if ascii {
		return escapeLiteral([]byte(s))
	}
	var sb strings.Builder
	sb.WriteString("<FEFF")
	for _, u := range utf16.Encode([]rune(s)) {
		fmt.Fprintf(&sb, "%04X", u)
	}
	sb.WriteByte('>')
	return sb.String()
}

// wrapLines 按 fits 折行，放不下的单词按字符拆开，空字符串表示段落间隔
func wrapLines(text string, fits func(string) bool) []string {
	var lines []string
	for i, p := range paragraphs(text) {
		if i > 0 {
			lines = append(lines, "")
		}
		for _, raw := range strings.Split(p, "\n") {
			cur := ""
			for _, word := range strings.Fields(raw) {
				if cur != "" && fits(cur+" "+word) {
					cur += " " + word
					continue
				}
				if cur != "" {
					lines = append(lines, cur)
					cur = ""
				}
				for _, r := range word {
					if cur != "" && !fits(cur+string(r)) {
						lines = append(lines, cur)
						cur = ""
					}
					cur += string(r)
				}
			}
			if cur != "" {
				lines = append(lines, cur)
			}
		}
	}
	return lines
}

// paginate 按每页行数分页，页首的段落间隔被丢弃
func paginate(lines []string, perPage int) [][]string {
	var pages [][]string
	for len(lines) > 0 {
		n := min(perPage, len(lines))
		page := lines[:n]
		lines = lines[n:]
		for len(page) > 0 && page[0] == "" {
			page = page[1:]
		}
		if len(page) > 0 {
			pages = append(pages, page)
		}
	}
	if len(pages) == 0 {
		pages = [][]string{nil}
	}
	return pages
}

// pageContent 单页内容流，段落间隔用两倍行距表示
func pageContent(lines []string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "BT\n/F1 %d Tf\n%d TL\n%d %d Td\n", pdfFontSize, pdfLeading, pdfMargin, pdfPageHeight-pdfMargin)
	gap := 0
	for i, line := range lines {
		if line == "" {
			gap++
			continue
		}
		if i > 0 {
			fmt.Fprintf(&b, "0 %d Td\n", -pdfLeading*(gap+1))
		}
		gap = 0
		enc, _ := encodeWinAnsi(line)
		b.WriteString(escapeLiteral(enc))
		b.WriteString(" Tj\n")
	}
	b.WriteString("ET\n")
	return b.Bytes()
}

// Reconstruct WinAnsi 可表示的文本用 Helvetica 输出，其余文本嵌入用户字体；
// 字体缺字时返回 ErrUnencodable
func (c *PDFCodec) Reconstruct(ctx context.Context, text string, w io.Writer, meta Metadata) error {
	conf := pdfConfig()
	if _, ok := encodeWinAnsi(text); !ok {
		return c.reconstructUnicode(ctx, text, w, meta, conf)
	}
	return c.reconstructWinAnsi(text, w, meta, conf)
}

// reconstructWinAnsi 手写对象表的 Helvetica PDF，并用 pdfcpu 校验
func (c *PDFCodec) reconstructWinAnsi(text string, w io.Writer, meta Metadata, conf *model.Configuration) error {
	lines := wrapLines(text, func(s string) bool { return runewidth.StringWidth(s) <= pdfColumns })
	pages := paginate(lines, pdfLinesOnPage)

	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")

	// 1 目录 2 页面树 3 字体 4 信息，之后每页占两个对象
	const firstPage = 5
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPage+2*i)
	}

	catalog := "<< /Type /Catalog /Pages 2 0 R"
	if meta.Language != "" {
		catalog += " /Lang " + textString(meta.Language)
	}
	obj(catalog + " >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	info := "<< /Producer (go-translator-pipeline)"
	if meta.Title != "" {
		info += " /Title " + textString(meta.Title)
	}
	if meta.Provider != "" {
		info += " /Creator " + textString(meta.Provider)
	}
	obj(info + " >>")

	for i, page := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			pdfPageWidth, pdfPageHeight, firstPage+2*i+1))
		content := pageContent(page)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 4 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	if err := api.Validate(bytes.NewReader(buf.Bytes()), conf); err != nil {
		return fmt.Errorf("generated pdf failed validation: %w", err)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// checkCoverage 返回字体中缺失的字符
func checkCoverage(fontName, text string) ([]rune, error) {
	font.UserFontMetricsLock.RLock()
	ttf, ok := font.UserFontMetrics[fontName]
	font.UserFontMetricsLock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pdf font %q is not installed", fontName)
	}

	var missing []rune
	seen := make(map[rune]bool)
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsControl(r) || seen[r] {
			continue
		}
		seen[r] = true
		if _, ok := ttf.Chars[uint32(r)]; !ok {
			missing = append(missing, r)
		}
	}
	return missing, nil
}

// createText pdfcpu create 的 JSON 描述，每页一个左上角锚定的文本框
func (c *PDFCodec) createText(pages [][]string) ([]byte, error) {
	type fontSpec struct {
		Name string `json:"name"`
		Size int    `json:"size"`
	}
	type margin struct {
		Width float64 `json:"width"`
	}
	type textBox struct {
		Value  string   `json:"value"`
		Anchor string   `json:"anchor"`
		Font   fontSpec `json:"font"`
		Margin margin   `json:"margin"`
	}
	type content struct {
		Text []textBox `json:"text"`
	}
	type page struct {
		Content content `json:"content"`
	}

	doc := struct {
		Paper string          `json:"paper"`
		Pages map[string]page `json:"pages"`
	}{Paper: "A4P", Pages: make(map[string]page, len(pages))}

	for i, lines := range pages {
		var boxes []textBox
		if len(lines) > 0 {
			boxes = append(boxes, textBox{
				Value:  strings.ReplaceAll(strings.Join(lines, "\n"), "%", "%%"),
				Anchor: "tl",
				Font:   fontSpec{Name: c.font, Size: pdfFontSize},
				Margin: margin{Width: pdfMargin},
			})
		}
		doc.Pages[strconv.Itoa(i+1)] = page{Content: content{Text: boxes}}
	}
	return json.Marshal(doc)
}

// reconstructUnicode 用 pdfcpu create 渲染并嵌入用户字体子集
func (c *PDFCodec) reconstructUnicode(ctx context.Context, text string, w io.Writer, meta Metadata, conf *model.Configuration) error {
	missing, err := checkCoverage(c.font, text)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: font %s lacks %q", ErrUnencodable, c.font, string(missing[:min(len(missing), 8)]))
	}

	const maxWidth = pdfPageWidth - 2*pdfMargin
	lineHeight := font.LineHeight(c.font, pdfFontSize)
	perPage := max(1, int((pdfPageHeight-2*pdfMargin)/lineHeight)-1)
	lines := wrapLines(text, func(s string) bool { return font.TextWidth(s, c.font, pdfFontSize) <= maxWidth })
	desc, err := c.createText(paginate(lines, perPage))
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conf.Cmd = model.CREATE
	pctx, err := pdfcpu.CreateContextWithXRefTable(conf, types.PaperSize["A4"])
	if err != nil {
		return fmt.Errorf("failed to create pdf: %w", err)
	}
	if err := create.FromJSON(pctx, bytes.NewReader(desc)); err != nil {
		return fmt.Errorf("failed to render pdf: %w", err)
	}
	if err := setDocumentInfo(pctx, meta); err != nil {
		return err
	}
	if err := api.ValidateContext(pctx); err != nil {
		return fmt.Errorf("generated pdf failed validation: %w", err)
	}
	return api.WriteContext(pctx, w)
}

// setDocumentInfo 写入标题、生成者与目录语言
func setDocumentInfo(pctx *model.Context, meta Metadata) error {
	info := types.NewDict()
	info.InsertString("Producer", "go-translator-pipeline")
	for key, value := range map[string]string{"Title": meta.Title, "Creator": meta.Provider} {
		if value == "" {
			continue
		}
		s, err := types.EscapedUTF16String(value)
		if err != nil {
			return err
		}
		info.Insert(key, types.StringLiteral(*s))
	}
	ir, err := pctx.IndRefForNewObject(info)
	if err != nil {
		return err
	}
	pctx.Info = ir

	if meta.Language != "" {
		root, err := pctx.Catalog()
		if err != nil {
			return err
		}
		root.InsertString("Lang", meta.Language)
	}
	return nil
}
