package providers

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// SystemPrompt 大模型类提供商共用的系统提示词
const SystemPrompt = "You are a professional translator. Translate the user's text accurately while preserving " +
	"the original meaning, tone, line breaks and whitespace. Reply with the translation only, without explanations."

// LanguageName 返回语言代码的英文名称，用于提示词；无法识别时返回原代码
func LanguageName(code string) string {
	tag, err := language.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

// TranslationPrompt 构造用户提示词
func TranslationPrompt(text, sourceLang, targetLang string) string {
	if sourceLang == "" {
		return fmt.Sprintf("Translate the following text to %s (%s):\n\n%s",
			LanguageName(targetLang), targetLang, text)
	}
	return fmt.Sprintf("Translate the following text from %s (%s) to %s (%s):\n\n%s",
		LanguageName(sourceLang), sourceLang, LanguageName(targetLang), targetLang, text)
}
