// Package chunker 把提取出的纯文本按句子边界切分为有上限的翻译单元
package chunker

import (
	"unicode"
	"unicode/utf8"
)

// DefaultLimit 默认块大小（字符数）
const DefaultLimit = 1000

// Chunker 文本分块器
type Chunker struct {
	limit int
}

// New 创建分块器，limit <= 0 时使用 DefaultLimit
func New(limit int) *Chunker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Chunker{limit: limit}
}

// Limit 返回块大小上限
func (c *Chunker) Limit() int {
	return c.limit
}

// Split 切分文本
func (c *Chunker) Split(text string) []string {
	return Split(text, c.limit)
}

// Split 将 text 切分为每块不超过 limit 个字符的序列。
// 所有块按顺序拼接后与原文完全一致；只有无法再分割的单个词才会超过 limit。
// limit <= 0 表示不限制。
func Split(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	p := &packer{limit: limit}
	for _, span := range splitSentences(text) {
		n := utf8.RuneCountInString(span)
		if n <= limit {
			p.add(span, n)
			continue
		}

		// 超长句子按词拆分，最后一段作为下一个块的开头
		p.flush()
		subs := splitWords(span, limit)
		for _, s := range subs[:len(subs)-1] {
			p.chunks = append(p.chunks, s)
		}
		last := subs[len(subs)-1]
		p.add(last, utf8.RuneCountInString(last))
	}
	p.flush()

	return p.chunks
}

type packer struct {
	limit  int
	chunks []string
	cur    []byte
	size   int
}

func (p *packer) add(span string, n int) {
	if p.size > 0 && p.size+n > p.limit {
		p.flush()
	}
	p.cur = append(p.cur, span...)
	p.size += n
}

func (p *packer) flush() {
	if len(p.cur) == 0 {
		return
	}
	p.chunks = append(p.chunks, string(p.cur))
	p.cur = p.cur[:0]
	p.size = 0
}

// splitSentences 按句末标点切分，句末的空白归属当前句
func splitSentences(text string) []string {
	rs := []rune(text)
	var spans []string
	begin := 0

	for i := 0; i < len(rs); {
		if !isTerminal(rs[i]) {
			i++
			continue
		}

		j := i
		fullWidth := false
		for j < len(rs) && isTerminal(rs[j]) {
			if isFullWidthTerminal(rs[j]) {
				fullWidth = true
			}
			j++
		}

		if fullWidth || j == len(rs) || unicode.IsSpace(rs[j]) {
			for j < len(rs) && unicode.IsSpace(rs[j]) {
				j++
			}
			spans = append(spans, string(rs[begin:j]))
			begin = j
		}
		i = j
	}

	if begin < len(rs) {
		spans = append(spans, string(rs[begin:]))
	}
	return spans
}

type token struct {
	runes []rune
	space bool
}

// tokenize 把文本拆成交替的词与空白
func tokenize(s string) []token {
	var tokens []token
	for _, r := range s {
		space := unicode.IsSpace(r)
		if n := len(tokens); n > 0 && tokens[n-1].space == space {
			tokens[n-1].runes = append(tokens[n-1].runes, r)
			continue
		}
		tokens = append(tokens, token{runes: []rune{r}, space: space})
	}
	return tokens
}

// splitWords 按词粒度切分超长句子。空白可以在任意位置断开，
// 单个超长词原样输出。
func splitWords(span string, limit int) []string {
	var out []string
	var cur []rune

	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = nil
		}
	}

	for _, tok := range tokenize(span) {
		if tok.space {
			rest := tok.runes
			for len(rest) > 0 {
				room := limit - len(cur)
				if room <= 0 {
					flush()
					room = limit
				}
				take := min(room, len(rest))
				cur = append(cur, rest[:take]...)
				rest = rest[take:]
			}
			continue
		}

		if len(cur) > 0 && len(cur)+len(tok.runes) > limit {
			flush()
		}
		cur = append(cur, tok.runes...)
	}
	flush()

	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || isFullWidthTerminal(r)
}

func isFullWidthTerminal(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}
