// Package ratelimit 提供 fpdmcp 使用的两种限流器。
//
// - Window：滑动窗口日志，按客户端 IP 限制下载代理请求（默认 10 秒 5 次，与 USPTO 上游限额一致）
// - Bucket：基于 golang.org/x/time/rate 的令牌桶，按工具名限制 MCP 工具调用频率
//
// 两者都是非阻塞的：拒绝时由调用方转换为 429 并携带 Retry-After。
//
// ## 基本使用
//
//	limiter, _ := ratelimit.NewWindow(&ratelimit.WindowConfig{
//	    MaxRequests: 5,
//	    Window:      10 * time.Second,
//	}, ratelimit.WithLogger(logger), ratelimit.WithMeter(meter))
//	defer limiter.Close()
//
//	if !limiter.Allow(clientIP) {
//	    c.Header("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(limiter.RetryAfter(clientIP))))
//	    c.AbortWithStatus(http.StatusTooManyRequests)
//	}
//
// ## 令牌桶
//
//	bucket, _ := ratelimit.NewBucket(&ratelimit.BucketConfig{Rate: 1, Burst: 10})
//	if ok, wait := bucket.Allow("Search_petitions_minimal"); !ok {
//	    return xerrors.E(xerrors.KindRateLimit, "tool rate limit exceeded").WithRetryAfter(wait)
//	}
package ratelimit

import (
	"time"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
)

// WindowConfig 滑动窗口限流配置
type WindowConfig struct {
	// Name 限流器名称，用作指标标签（默认 "download"）
	Name string `mapstructure:"name"`

	// MaxRequests 窗口内允许的最大请求数（默认 5）
	MaxRequests int `mapstructure:"max_requests"`

	// Window 窗口长度（默认 10s）
	Window time.Duration `mapstructure:"window"`

	// CleanupInterval 清理空闲客户端的间隔（默认 1 分钟）
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// IdleTimeout 客户端空闲超时，至少为一个窗口长度（默认 5 分钟）
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

func (c *WindowConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "download"
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = 5
	}
	if c.Window <= 0 {
		c.Window = 10 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.IdleTimeout < c.Window {
		c.IdleTimeout = 5 * time.Minute
		if c.IdleTimeout < c.Window {
			c.IdleTimeout = c.Window
		}
	}
}

// BucketConfig 令牌桶配置
type BucketConfig struct {
	Name string `mapstructure:"name"`

	// Rate 每秒补充的令牌数（默认 1）
	Rate float64 `mapstructure:"rate"`

	// Burst 桶容量（默认 10）
	Burst int `mapstructure:"burst"`

	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
}

func (c *BucketConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "tools"
	}
	if c.Rate <= 0 {
		c.Rate = 1
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 设置 Logger
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMeter 设置 Meter
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

func applyOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = clog.Discard()
	}
	o.logger = o.logger.WithNamespace("ratelimit")
	if o.meter == nil {
		o.meter = metrics.Discard()
	}
	return o
}

// RetryAfterSeconds 把等待时长向上取整为 Retry-After 秒数，最少 1 秒
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
