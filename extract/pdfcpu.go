package extract

import (
	"bytes"
	"context"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/ceyewan/fpdmcp/xerrors"
)

// PageSeparator 本地解析时页面之间的分隔
const PageSeparator = "\n\n"

var disableConfigDir sync.Once

// PDFCPUParser 基于 pdfcpu 的本地解析器
//
// 读取每页的内容流并解释文本绘制操作符（Tj、TJ、'、"），不做字体解码，
// 因此对扫描件或使用自定义编码的 PDF 会得到空文本或乱码，由质量检查兜底。
type PDFCPUParser struct {
	conf *model.Configuration
}

// NewPDFCPUParser 创建解析器，不读写 pdfcpu 的用户配置目录
func NewPDFCPUParser() *PDFCPUParser {
	disableConfigDir.Do(func() { model.ConfigPath = "disable" })
	return &PDFCPUParser{conf: model.NewDefaultConfiguration()}
}

// Parse 逐页提取文本
func (p *PDFCPUParser) Parse(ctx context.Context, pdf []byte) (string, int, error) {
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(pdf), p.conf)
	if err != nil {
		return "", 0, xerrors.Wrap(err, "pdfcpu read")
	}

	pages := make([]string, 0, pctx.PageCount)
	for nr := 1; nr <= pctx.PageCount; nr++ {
		if err := ctx.Err(); err != nil {
			return "", pctx.PageCount, err
		}
		r, err := pdfcpu.ExtractPageContent(pctx, nr)
		if err != nil || r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		if text := contentText(content); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, PageSeparator), pctx.PageCount, nil
}

var literalPattern = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// contentText 从内容流中取出文本绘制操作符的字符串参数
func contentText(content []byte) string {
	var b strings.Builder
	for _, line := range bytes.Split(content, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		switch {
		case len(line) == 0:
		case bytes.Equal(line, []byte("T*")):
			b.WriteByte('\n')
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range literalPattern.FindAllSubmatch(line, -1) {
				b.WriteString(unescape(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")), bytes.HasSuffix(line, []byte(`"`)):
			for _, m := range literalPattern.FindAllSubmatch(line, -1) {
				b.WriteByte('\n')
				b.WriteString(unescape(m[1]))
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// unescape 处理字符串字面量中的转义，包括三位以内的八进制
func unescape(raw []byte) string {
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 == len(raw) {
			b.WriteByte(c)
			continue
		}
		i++
		switch c = raw[i]; c {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b', 'f':
		case '0', '1', '2', '3', '4', '5', '6', '7':
			v := int(c - '0')
			for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
				i++
				v = v*8 + int(raw[i]-'0')
			}
			b.WriteByte(byte(v))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
