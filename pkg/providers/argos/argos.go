// Package argos 适配本地离线的 Argos Translate。
// 语言包缺失时会尝试下载安装一次，然后再重试一次翻译。
package argos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
)

// ID 提供商标识
const ID = "argos"

// 脚本约定的退出码：语言对未安装
const exitNotInstalled = 3

// Config Argos配置
type Config struct {
	PythonPath       string            `json:"python_path" mapstructure:"python_path"`
	Timeout          time.Duration     `json:"timeout" mapstructure:"timeout"`
	ProvisionTimeout time.Duration     `json:"provision_timeout" mapstructure:"provision_timeout"`
	Languages        map[string]string `json:"languages,omitempty" mapstructure:"languages"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		PythonPath:       "python3",
		Timeout:          2 * time.Minute,
		ProvisionTimeout: 10 * time.Minute,
	}
}

// Runner 执行 Python 脚本，stdin 为 JSON 输入
type Runner interface {
	Run(ctx context.Context, script string, stdin []byte) (stdout []byte, err error)
}

// ExitError 脚本以非零状态退出
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d: %s", e.Code, strings.TrimSpace(e.Stderr))
}

// ExecRunner 通过本机 Python 解释器执行脚本
type ExecRunner struct {
	PythonPath string
}

// Run 执行脚本
func (r ExecRunner) Run(ctx context.Context, script string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.PythonPath, "-c", script)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return nil, &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Provider Argos提供商
type Provider struct {
	config    Config
	runner    Runner
	languages *providers.LanguageTable
}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的Argos提供商
func New(config Config) *Provider {
	if config.PythonPath == "" {
		config.PythonPath = "python3"
	}
	return NewWithRunner(config, ExecRunner{PythonPath: config.PythonPath})
}

// NewWithRunner 使用自定义执行器创建提供商
func NewWithRunner(config Config, runner Runner) *Provider {
	return &Provider{
		config:    config,
		runner:    runner,
		languages: defaultLanguages.WithOverrides(config.Languages),
	}
}

// ID 获取提供商标识
func (p *Provider) ID() string {
	return ID
}

// DisplayName 获取展示名称
func (p *Provider) DisplayName() string {
	return "Argos Translate (offline)"
}

// MapLanguageCode Argos 只使用主语言代码
func (p *Provider) MapLanguageCode(code string) string {
	mapped := p.languages.Map(code)
	if mapped == strings.ToLower(strings.TrimSpace(code)) {
		return providers.BaseLanguage(mapped)
	}
	return mapped
}

// IsAvailable 检查 argostranslate 是否可导入
func (p *Provider) IsAvailable(ctx context.Context) bool {
	out, err := p.runner.Run(ctx, checkScript, nil)
	return err == nil && strings.TrimSpace(string(out)) == "ok"
}

// Translate 执行翻译；语言包缺失时安装一次并重试一次
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	from := p.MapLanguageCode(sourceLang)
	to := p.MapLanguageCode(targetLang)
	if from == "" {
		return "", providers.NewError(ID, providers.KindBadRequest, "offline translation requires a source language")
	}

	out, err := p.translate(ctx, text, from, to)
	if err == nil {
		return out, nil
	}
	if perr, ok := providers.AsError(err); !ok || perr.Kind != providers.KindNotProvisioned {
		return "", err
	}

	if perr := p.provision(ctx, from, to); perr != nil {
		return "", perr
	}

	out, err = p.translate(ctx, text, from, to)
	if err != nil {
		if perr, ok := providers.AsError(err); ok && perr.Kind == providers.KindNotProvisioned {
			// 安装后仍不可用，对本次调用视为永久失败
			return "", &providers.Error{
				Kind:     providers.KindUnsupportedLanguage,
				Provider: ID,
				Message:  fmt.Sprintf("language pair %s->%s unavailable after provisioning", from, to),
				Err:      err,
			}
		}
		return "", err
	}
	return out, nil
}

func (p *Provider) translate(ctx context.Context, text, from, to string) (string, error) {
	callCtx := ctx
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	input, _ := json.Marshal(scriptInput{Text: text, From: from, To: to})
	out, err := p.runner.Run(callCtx, translateScript, input)
	if err != nil {
		return "", p.classify(ctx, callCtx, err)
	}

	var result scriptOutput
	if err := json.Unmarshal(out, &result); err != nil {
		return "", providers.WrapError(ID, providers.KindInternal, fmt.Errorf("failed to decode output: %w", err))
	}
	return result.Text, nil
}

// provision 下载并安装语言包，受 ProvisionTimeout 约束
func (p *Provider) provision(ctx context.Context, from, to string) error {
	provCtx := ctx
	if p.config.ProvisionTimeout > 0 {
		var cancel context.CancelFunc
		provCtx, cancel = context.WithTimeout(ctx, p.config.ProvisionTimeout)
		defer cancel()
	}

	input, _ := json.Marshal(scriptInput{From: from, To: to})
	if _, err := p.runner.Run(provCtx, provisionScript, input); err != nil {
		cerr := p.classify(ctx, provCtx, err)
		if perr, ok := providers.AsError(cerr); ok && perr.Kind == providers.KindNotProvisioned {
			perr.Kind = providers.KindUnsupportedLanguage
			perr.Message = fmt.Sprintf("no package available for %s->%s", from, to)
		}
		return cerr
	}
	return nil
}

func (p *Provider) classify(parent, callCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if callCtx.Err() != nil {
		return &providers.Error{Kind: providers.KindUnavailable, Provider: ID, Message: "timed out", Err: err}
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Code == exitNotInstalled {
			return &providers.Error{Kind: providers.KindNotProvisioned, Provider: ID, Message: "language package not installed", Err: err}
		}
		return &providers.Error{Kind: providers.KindInternal, Provider: ID, Message: "translation script failed", Err: err}
	}
	// 解释器无法启动通常是环境配置问题
	return &providers.Error{Kind: providers.KindUnavailable, Provider: ID, Message: "python runtime unavailable", Err: err}
}

type scriptInput struct {
	Text string `json:"text,omitempty"`
	From string `json:"from"`
	To   string `json:"to"`
}

type scriptOutput struct {
	Text string `json:"text"`
}

const checkScript = `import argostranslate.translate
print("ok")`

const translateScript = `import json, sys
import argostranslate.translate
req = json.load(sys.stdin)
langs = {l.code: l for l in argostranslate.translate.get_installed_languages()}
src, dst = langs.get(req["from"]), langs.get(req["to"])
if src is None or dst is None or src.get_translation(dst) is None:
    sys.exit(3)
out = src.get_translation(dst).translate(req["text"])
json.dump({"text": out}, sys.stdout)`

const provisionScript = `import json, sys
import argostranslate.package
req = json.load(sys.stdin)
argostranslate.package.update_package_index()
pkgs = [p for p in argostranslate.package.get_available_packages() if p.from_code == req["from"] and p.to_code == req["to"]]
if not pkgs:
    sys.exit(3)
argostranslate.package.install_from_path(pkgs[0].download())`

var defaultLanguages = providers.NewLanguageTable(map[string]string{
	"zh-hans": "zh",
	"zh-cn":   "zh",
	"zh-hant": "zt",
	"zh-tw":   "zt",
	"nb":      "nb",
	"chinese": "zh",
	"english": "en",
}, providers.FoldLower)
