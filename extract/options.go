package extract

import (
	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
)

// Option 配置选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	parser Parser
	ocr    OCR
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		parser: NewPDFCPUParser(),
	}
}

// WithLogger 设置日志记录器，自动添加 "extract" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("extract")
		}
	}
}

// WithMeter 设置指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithParser 替换本地解析器，默认 PDFCPUParser
func WithParser(p Parser) Option {
	return func(o *options) {
		if p != nil {
			o.parser = p
		}
	}
}

// WithOCR 设置 OCR 回退
func WithOCR(ocr OCR) Option {
	return func(o *options) {
		o.ocr = ocr
	}
}
