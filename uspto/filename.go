package uspto

import (
	"strings"
)

// MaxDescriptionLength 文件名中描述部分的最大长度
const MaxDescriptionLength = 40

// FilenameParts 生成下载文件名的元数据
//
// 格式：[PET-{YYYY-MM-DD}_]APP-{申请号或 UNKNOWN}[_PAT-{专利号}]_{描述}.pdf
type FilenameParts struct {
	PetitionMailDate  string
	ApplicationNumber string
	PatentNumber      string
	Description       string
	Code              string
}

// String 生成文件名，各字段都经过过滤，可直接放进 Content-Disposition
func (p FilenameParts) String() string {
	parts := make([]string, 0, 4)

	date := strings.TrimSpace(p.PetitionMailDate)
	if i := strings.IndexByte(date, 'T'); i >= 0 {
		date = date[:i]
	}
	if date = filenameSafe(date); date != "" {
		parts = append(parts, "PET-"+date)
	}

	app := filenameSafe(p.ApplicationNumber)
	if app == "" {
		app = "UNKNOWN"
	}
	parts = append(parts, "APP-"+app)

	if patent := filenameSafe(p.PatentNumber); patent != "" {
		parts = append(parts, "PAT-"+patent)
	}

	desc := p.Description
	if desc == "" {
		desc = p.Code
	}
	parts = append(parts, SanitizeDescription(desc, MaxDescriptionLength))

	return strings.Join(parts, "_") + ".pdf"
}

// SanitizeDescription 转为大写，空格替换为下划线，只保留 A-Z 0-9 _ -，截断到 max
func SanitizeDescription(desc string, max int) string {
	if desc == "" {
		return "DOCUMENT"
	}
	clean := filenameSafe(desc)
	if len(clean) > max {
		clean = clean[:max]
	}
	return clean
}

// filenameSafe 转为大写，空格替换为下划线，丢弃 A-Z 0-9 _ - 以外的字符
func filenameSafe(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
