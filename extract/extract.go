// Package extract 提供 PDF 文本的混合提取。
//
// 先用免费的本地解析器逐页提取文本，质量检查不通过时（扫描件、乱码）
// 再调用付费的 Mistral OCR：
//
//	ex, _ := extract.New(&extract.Config{},
//		extract.WithParser(extract.NewPDFCPUParser()),
//		extract.WithOCR(mistral),
//		extract.WithMeter(meter))
//	res, xerr := ex.Extract(ctx, pdf, pageCount)
//	// res.Method 为 local_parse 或 ocr，res.CostUSD 为本次费用
//
// 结果不做缓存。
package extract

import (
	"context"
	"time"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// Method 提取方式
type Method string

const (
	MethodLocalParse Method = "local_parse"
	MethodOCR        Method = "ocr"
)

// Result 一次提取的结果
type Result struct {
	Text      string  `json:"extracted_content"`
	Method    Method  `json:"extraction_method"`
	CostUSD   float64 `json:"processing_cost_usd"`
	PageCount int     `json:"page_count"`

	// PagesProcessed OCR 实际计费的页数，本地解析为 0
	PagesProcessed int `json:"pages_processed,omitempty"`
	// LocalRejected 本地解析结果是否因质量不足被放弃
	LocalRejected bool `json:"local_rejected,omitempty"`
}

// Parser 本地 PDF 文本解析器
type Parser interface {
	// Parse 返回全部页面的文本与页数
	Parse(ctx context.Context, pdf []byte) (text string, pages int, err error)
}

// OCR 付费 OCR 服务
type OCR interface {
	// Recognize 识别前 maxPages 页，maxPages 为 0 时由服务决定
	Recognize(ctx context.Context, pdf []byte, maxPages int) (*OCRResult, error)
	// Configured 是否具备调用条件（例如 API key 已配置）
	Configured() bool
}

// OCRResult OCR 的输出
type OCRResult struct {
	Text           string
	PagesProcessed int
	CostUSD        float64
}

// Config 提取器配置
type Config struct {
	Quality Quality `mapstructure:"quality"`

	// MaxOCRPages 单个文档最多送去 OCR 的页数（默认：50）
	MaxOCRPages int `mapstructure:"max_ocr_pages"`
}

func (c *Config) setDefaults() {
	c.Quality.setDefaults()
	if c.MaxOCRPages <= 0 {
		c.MaxOCRPages = 50
	}
}

// ErrConfigNil 配置为空
var ErrConfigNil = xerrors.New("extract: config is nil")

// Extractor 混合文本提取器，并发安全
type Extractor struct {
	cfg    *Config
	parser Parser
	ocr    OCR
	logger clog.Logger

	extractions metrics.Counter
	cost        metrics.Counter
}

// New 创建提取器；未设置 OCR 时只能做本地解析
func New(cfg *Config, opts ...Option) (*Extractor, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	extractions, err := o.meter.Counter(MetricExtractions, "Total number of document text extractions")
	if err != nil {
		return nil, xerrors.Wrap(err, "extract: create extraction counter")
	}
	cost, err := o.meter.Counter(MetricOCRCost, "Accumulated OCR processing cost in USD")
	if err != nil {
		return nil, xerrors.Wrap(err, "extract: create cost counter")
	}

	return &Extractor{
		cfg:         cfg,
		parser:      o.parser,
		ocr:         o.ocr,
		logger:      o.logger,
		extractions: extractions,
		cost:        cost,
	}, nil
}

// OCRAvailable OCR 是否可用
func (e *Extractor) OCRAvailable() bool {
	return e.ocr != nil && e.ocr.Configured()
}

// Extract 先本地解析，质量不足时回退到 OCR
func (e *Extractor) Extract(ctx context.Context, pdf []byte, pageCountHint int) (*Result, *xerrors.Error) {
	start := time.Now()

	text, pages, err := e.parser.Parse(ctx, pdf)
	if err != nil {
		// 解析失败按质量不通过处理
		e.logger.WarnContext(ctx, "local parse failed", clog.Error(err))
	}
	if pageCountHint <= 0 {
		pageCountHint = pages
	}

	report := e.cfg.Quality.Check(text)
	if err == nil && report.OK {
		e.logger.InfoContext(ctx, "local parse succeeded",
			clog.Int("chars", report.Chars), clog.Int("words", report.Words), clog.Duration("elapsed", time.Since(start)))
		e.record(ctx, MethodLocalParse, 0)
		return &Result{Text: text, Method: MethodLocalParse, PageCount: pageCountHint}, nil
	}

	e.logger.InfoContext(ctx, "local parse quality too low, falling back to OCR",
		clog.String("reason", report.Reason), clog.Int("chars", report.Chars))
	res, xerr := e.runOCR(ctx, pdf, pageCountHint)
	if xerr != nil {
		if xerr.Kind == xerrors.KindExtractionConfig {
			xerr.Message += ". Local extraction failed - document may be scanned. To enable OCR, configure MISTRAL_API_KEY."
		}
		return nil, xerr
	}
	res.LocalRejected = true
	return res, nil
}

// ExtractOCR 跳过本地解析直接 OCR
func (e *Extractor) ExtractOCR(ctx context.Context, pdf []byte, pageCountHint int) (*Result, *xerrors.Error) {
	return e.runOCR(ctx, pdf, pageCountHint)
}

func (e *Extractor) runOCR(ctx context.Context, pdf []byte, pageCountHint int) (*Result, *xerrors.Error) {
	if !e.OCRAvailable() {
		return nil, xerrors.E(xerrors.KindExtractionConfig, "MISTRAL_API_KEY required for OCR extraction")
	}

	maxPages := 0
	if pageCountHint > 0 {
		maxPages = min(pageCountHint, e.cfg.MaxOCRPages)
	}
	out, err := e.ocr.Recognize(ctx, pdf, maxPages)
	if err != nil {
		return nil, xerrors.From(err)
	}

	e.logger.InfoContext(ctx, "OCR extraction succeeded",
		clog.Int("pages_processed", out.PagesProcessed), clog.Float64("cost_usd", out.CostUSD))
	e.record(ctx, MethodOCR, out.CostUSD)
	return &Result{
		Text:           out.Text,
		Method:         MethodOCR,
		CostUSD:        out.CostUSD,
		PageCount:      pageCountHint,
		PagesProcessed: out.PagesProcessed,
	}, nil
}

func (e *Extractor) record(ctx context.Context, method Method, cost float64) {
	e.extractions.Inc(ctx, metrics.L(LabelMethod, string(method)))
	if cost > 0 {
		e.cost.Add(ctx, cost)
	}
}
