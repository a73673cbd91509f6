package providers

import (
	"maps"
	"strings"

	"golang.org/x/text/language"
)

// CaseFold 后端对未映射代码的大小写要求
type CaseFold int

const (
	FoldPreserve CaseFold = iota
	FoldLower
	FoldUpper
)

func (f CaseFold) apply(code string) string {
	switch f {
	case FoldLower:
		return strings.ToLower(code)
	case FoldUpper:
		return strings.ToUpper(code)
	default:
		return code
	}
}

// LanguageTable 提供商自有的语言代码映射表。
// 查找键为规范化后的 BCP-47 形式（小写），未命中时原样透传并按后端要求折叠大小写。
type LanguageTable struct {
	entries map[string]string
	fold    CaseFold
}

// NewLanguageTable 创建映射表
func NewLanguageTable(entries map[string]string, fold CaseFold) *LanguageTable {
	t := &LanguageTable{
		entries: make(map[string]string, len(entries)),
		fold:    fold,
	}
	for k, v := range entries {
		t.entries[CanonicalKey(k)] = v
	}
	return t
}

// WithOverrides 返回叠加了覆盖项的新表，原表不变
func (t *LanguageTable) WithOverrides(overrides map[string]string) *LanguageTable {
	if len(overrides) == 0 {
		return t
	}
	merged := &LanguageTable{
		entries: maps.Clone(t.entries),
		fold:    t.fold,
	}
	for k, v := range overrides {
		merged.entries[CanonicalKey(k)] = v
	}
	return merged
}

// Map 映射语言代码
func (t *LanguageTable) Map(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if v, ok := t.entries[CanonicalKey(code)]; ok {
		return v
	}
	return t.fold.apply(code)
}

// Len 返回条目数
func (t *LanguageTable) Len() int {
	return len(t.entries)
}

// CanonicalKey 规范化语言代码用作查找键：zh_CN、ZH-cn 都得到 zh-cn
func CanonicalKey(code string) string {
	code = strings.ReplaceAll(strings.TrimSpace(code), "_", "-")
	if tag, err := language.Parse(code); err == nil {
		return strings.ToLower(tag.String())
	}
	return strings.ToLower(code)
}

// BaseLanguage 返回语言代码的主语言部分，例如 pt-BR 返回 pt
func BaseLanguage(code string) string {
	code = strings.ReplaceAll(strings.TrimSpace(code), "_", "-")
	if tag, err := language.Parse(code); err == nil {
		base, _ := tag.Base()
		return base.String()
	}
	if i := strings.IndexByte(code, '-'); i > 0 {
		code = code[:i]
	}
	return strings.ToLower(code)
}
