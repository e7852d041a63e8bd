// Package redact 清除文本中形似凭证的片段，用于日志与对外错误信息。
//
// 所有离开进程的文本（日志行、HTTP 错误体、MCP 工具错误）都应经过 String，
// 确保 USPTO / Mistral 密钥、Bearer 令牌、口令不会泄漏。
//
// 基本使用：
//
//	safe := redact.String("upstream said: invalid key abcdefghijabcdefghijabcdefghij")
//	// safe == "upstream said: invalid key [USPTO_API_KEY]"
package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxLength 单条文本保留的最大字节数，超出部分截断
const MaxLength = 1000

const truncatedSuffix = "...[TRUNCATED]"

type rule struct {
	re   *regexp.Regexp
	repl string
}

// 顺序有意义：先匹配带键名的赋值，再匹配裸密钥形状
var rules = []rule{
	{regexp.MustCompile(`(?i)((?:x-)?api[_-]?key["'\s:=]+)([A-Za-z0-9_\-]{16,})`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)(token["'\s:=]+)([A-Za-z0-9_\-.]{16,})`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9_\-.=]{16,})`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)((?:password|pwd|secret)["'\s:=]+)([^"'\s]{8,})`), "${1}[REDACTED]"},
	{regexp.MustCompile(`\b[a-z]{30}\b`), "[USPTO_API_KEY]"},
	{regexp.MustCompile(`\b[A-Za-z0-9]{32}\b`), "[MISTRAL_API_KEY]"},
}

// String 返回脱敏后的文本：去除控制字符、截断超长内容、替换凭证形状的片段
func String(s string) string {
	if s == "" {
		return s
	}
	if len(s) > MaxLength {
		s = truncate(s, MaxLength) + truncatedSuffix
	}
	s = stripControl(s)
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// truncate 截断到不超过 n 字节，且不拆开多字节字符
func truncate(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Secret 将已知的密钥值替换为占位符，用于拼接了配置值的错误文本
func Secret(s string, secrets ...string) string {
	for _, secret := range secrets {
		if len(secret) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, secret, "[REDACTED]")
	}
	return String(s)
}

// stripControl 删除除换行和制表符以外的控制字符，防止日志注入
func stripControl(s string) string {
	clean := true
	for _, r := range s {
		if isControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !isControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isControl(r rune) bool {
	if r == '\n' || r == '\t' {
		return false
	}
	return r < 0x20 || (r >= 0x7f && r <= 0x9f)
}
