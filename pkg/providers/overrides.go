package providers

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// LanguageOverrides 从 TOML 文件加载的语言代码覆盖，按提供商分组：
//
//	[deepl]
//	en = "EN-GB"
//
//	[libretranslate]
//	zh-hant = "zt"
type LanguageOverrides map[string]map[string]string

// LoadLanguageOverrides 加载覆盖文件，路径为空时返回空表
func LoadLanguageOverrides(path string) (LanguageOverrides, error) {
	overrides := LanguageOverrides{}
	if path == "" {
		return overrides, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read language overrides: %w", err)
	}
	if _, err := toml.Decode(string(data), &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse language overrides %s: %w", path, err)
	}
	return overrides, nil
}

// For 返回指定提供商的覆盖项
func (o LanguageOverrides) For(id string) map[string]string {
	if o == nil {
		return nil
	}
	return o[id]
}
