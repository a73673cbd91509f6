package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// TextCodec 纯文本
type TextCodec struct{}

var _ Codec = (*TextCodec)(nil)

// NewTextCodec 创建纯文本编解码器
func NewTextCodec() *TextCodec {
	return &TextCodec{}
}

// Format 格式
func (c *TextCodec) Format() Format { return FormatText }

// Extensions 扩展名
func (c *TextCodec) Extensions() []string { return []string{".txt", ".text"} }

// Extract 读取文本并转换为 UTF-8
func (c *TextCodec) Extract(ctx context.Context, r io.Reader) (*Extracted, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read text: %w", err)
	}
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	return &Extracted{Text: text}, nil
}

// Reconstruct 写出 UTF-8 文本
func (c *TextCodec) Reconstruct(ctx context.Context, text string, w io.Writer, meta Metadata) error {
	_, err := io.WriteString(w, text)
	return err
}

// decodeText 检测 BOM，非 UTF-8 内容按 Windows-1252 解码
func decodeText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}

	// UTF-8 BOM
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		data = data[3:]
	}

	if len(data) >= 2 {
		var endian xunicode.Endianness
		utf16 := true
		switch {
		case data[0] == 0xFF && data[1] == 0xFE:
			endian = xunicode.LittleEndian
		case data[0] == 0xFE && data[1] == 0xFF:
			endian = xunicode.BigEndian
		default:
			utf16 = false
		}
		if utf16 {
			dec := xunicode.UTF16(endian, xunicode.IgnoreBOM).NewDecoder()
			res, err := io.ReadAll(transform.NewReader(bytes.NewReader(data[2:]), dec))
			if err != nil {
				return "", fmt.Errorf("failed to decode UTF-16 text: %w", err)
			}
			return string(res), nil
		}
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	res, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), charmap.Windows1252.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("failed to decode text: %w", err)
	}
	return string(res), nil
}
