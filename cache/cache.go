// Package cache 提供 USPTO 响应缓存。
//
// ResponseCache 以 (method, endpoint, args) 为键保存成功响应的原始 JSON，
// 容量有界、写入后过期。熔断器打开时，resilient 客户端用它返回过期标记的旧数据。
//
// 基本使用：
//
//	rc, _ := cache.New(&cache.Config{Capacity: 100, TTL: 10 * time.Minute},
//	    cache.WithLogger(logger), cache.WithMeter(meter))
//	defer rc.Close()
//
//	rc.Set("POST", "/search", body, query)
//	if cached, ok := rc.Get("POST", "/search", query); ok {
//	    ...
//	}
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/xerrors"
)

const (
	// MetricHits 缓存命中次数 (Counter)
	MetricHits = "fpd_mcp_cache_hits_total"

	// MetricMisses 缓存未命中次数 (Counter)
	MetricMisses = "fpd_mcp_cache_misses_total"

	// LabelCache 缓存名称标签
	LabelCache = "cache"
)

// Stats 缓存统计
type Stats struct {
	Size     int           `json:"size"`
	Capacity int           `json:"capacity"`
	TTL      time.Duration `json:"ttl"`
	Hits     uint64        `json:"hits"`
	Misses   uint64        `json:"misses"`
}

// HitRatio 命中率，无访问时为 0
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ResponseCache 成功响应缓存，可并发使用
type ResponseCache struct {
	cfg    Config
	store  *otter.Cache[string, []byte]
	logger clog.Logger

	hits        atomic.Uint64
	misses      atomic.Uint64
	hitCounter  metrics.Counter
	missCounter metrics.Counter
}

// Option 缓存组件选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 注入日志记录器，自动追加 "cache" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("cache")
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// New 创建响应缓存，cfg 为 nil 时使用默认值（100 条，600s）
func New(cfg *Config, opts ...Option) (*ResponseCache, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	store, err := otter.New(&otter.Options[string, []byte]{
		MaximumSize: c.Capacity,
		// 过期时间从写入开始计算，读取不会续期
		ExpiryCalculator: otter.ExpiryWriting[string, []byte](c.TTL),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to build otter cache")
	}

	hitCounter, err := o.meter.Counter(MetricHits, "Number of response cache hits")
	if err != nil {
		return nil, xerrors.Wrap(err, "create cache hit counter")
	}
	missCounter, err := o.meter.Counter(MetricMisses, "Number of response cache misses")
	if err != nil {
		return nil, xerrors.Wrap(err, "create cache miss counter")
	}

	return &ResponseCache{
		cfg:         c,
		store:       store,
		logger:      o.logger,
		hitCounter:  hitCounter,
		missCounter: missCounter,
	}, nil
}

// Get 读取缓存的响应体
func (c *ResponseCache) Get(method, endpoint string, args any) ([]byte, bool) {
	key := Key(method, endpoint, args)
	val, ok := c.store.GetIfPresent(key)
	label := metrics.L(LabelCache, c.cfg.Name)
	if !ok {
		c.misses.Add(1)
		c.missCounter.Inc(context.Background(), label)
		return nil, false
	}
	c.hits.Add(1)
	c.hitCounter.Inc(context.Background(), label)
	c.logger.Debug("cache hit", clog.String("endpoint", endpoint), clog.String("key", key[:16]))
	return val, true
}

// Set 写入响应体，错误形态的值被拒绝并返回 false
func (c *ResponseCache) Set(method, endpoint string, value []byte, args any) bool {
	if IsErrorShaped(value) {
		c.logger.Debug("refusing to cache error-shaped response", clog.String("endpoint", endpoint))
		return false
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	c.store.Set(Key(method, endpoint, args), stored)
	return true
}

// Clear 清空所有条目
func (c *ResponseCache) Clear() {
	c.store.InvalidateAll()
	c.logger.Info("response cache cleared")
}

// Stats 返回缓存统计
func (c *ResponseCache) Stats() Stats {
	return Stats{
		Size:     c.store.EstimatedSize(),
		Capacity: c.cfg.Capacity,
		TTL:      c.cfg.TTL,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}

// Close 停止 otter 的后台 goroutine
func (c *ResponseCache) Close() error {
	c.store.StopAllGoroutines()
	return nil
}
