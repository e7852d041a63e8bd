package resilient

import (
	"net/http"
	"time"

	"github.com/ceyewan/fpdmcp/breaker"
	"github.com/ceyewan/fpdmcp/cache"
	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
)

// Option 配置选项
type Option func(*options)

type options struct {
	logger     clog.Logger
	meter      metrics.Meter
	breaker    *breaker.CircuitBreaker
	cache      *cache.ResponseCache
	httpClient *http.Client
	header     http.Header
	jitterMin  time.Duration
	jitterMax  time.Duration
}

func defaultOptions() *options {
	return &options{
		logger:    clog.Discard(),
		meter:     metrics.Discard(),
		header:    make(http.Header),
		jitterMin: 100 * time.Millisecond,
		jitterMax: 500 * time.Millisecond,
	}
}

// WithLogger 设置日志记录器，自动添加 "resilient" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("resilient")
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

// WithBreaker 用熔断器包裹整个重试循环
func WithBreaker(cb *breaker.CircuitBreaker) Option {
	return func(o *options) {
		o.breaker = cb
	}
}

// WithCache 成功响应写入缓存，熔断时从缓存降级
func WithCache(c *cache.ResponseCache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithHTTPClient 使用自定义 http.Client，默认基于 NewTransport
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithHeader 为每个请求附加请求头，例如认证头
func WithHeader(key, value string) Option {
	return func(o *options) {
		if value != "" {
			o.header.Set(key, value)
		}
	}
}

// WithJitter 设置重试抖动区间 [min, max]，默认 [100ms, 500ms]
func WithJitter(min, max time.Duration) Option {
	return func(o *options) {
		if min < 0 {
			min = 0
		}
		if max < min {
			max = min
		}
		o.jitterMin, o.jitterMax = min, max
	}
}
