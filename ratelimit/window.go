package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// clientLog 单个客户端的请求时间戳，按时间升序
type clientLog struct {
	mu         sync.Mutex
	timestamps []time.Time
	lastSeen   time.Time
	removed    bool
}

// purge 删除早于 cutoff 的时间戳，调用方持有 mu
func (c *clientLog) purge(cutoff time.Time) {
	i := 0
	for i < len(c.timestamps) && c.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		c.timestamps = append(c.timestamps[:0], c.timestamps[i:]...)
	}
}

// Window 滑动窗口日志限流器
//
// 每个客户端维护窗口内的请求时间戳；检查时惰性清除过期时间戳，
// 数量小于 MaxRequests 时放行并追加当前时间。不同客户端之间互不共享状态。
type Window struct {
	cfg      *WindowConfig
	logger   clog.Logger
	exceeded metrics.Counter
	clients  sync.Map // map[string]*clientLog
	now      func() time.Time

	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewWindow 创建滑动窗口限流器，cfg 为 nil 时使用默认策略（10 秒 5 次）
func NewWindow(cfg *WindowConfig, opts ...Option) (*Window, error) {
	if cfg == nil {
		cfg = &WindowConfig{}
	}
	if cfg.MaxRequests < 0 || cfg.Window < 0 {
		return nil, xerrors.Wrapf(ErrInvalidLimit, "max_requests=%d window=%s", cfg.MaxRequests, cfg.Window)
	}
	c := *cfg
	c.setDefaults()

	o := applyOptions(opts)
	exceeded, err := o.meter.Counter(MetricExceeded, "Number of requests rejected by rate limiters")
	if err != nil {
		return nil, xerrors.Wrap(err, "ratelimit: create exceeded counter")
	}

	w := &Window{
		cfg:      &c,
		logger:   o.logger,
		exceeded: exceeded,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go w.cleanup()

	w.logger.Info("sliding window rate limiter created",
		clog.String("name", c.Name),
		clog.Int("max_requests", c.MaxRequests),
		clog.Duration("window", c.Window))
	return w, nil
}

// Allow 检查并记录一次请求
func (w *Window) Allow(key string) bool {
	now := w.now()
	entry := w.lockedEntry(key)
	entry.purge(now.Add(-w.cfg.Window))
	entry.lastSeen = now
	allowed := len(entry.timestamps) < w.cfg.MaxRequests
	if allowed {
		entry.timestamps = append(entry.timestamps, now)
	}
	entry.mu.Unlock()

	if !allowed {
		w.exceeded.Inc(context.Background(), metrics.L(LabelLimiter, w.cfg.Name))
		w.logger.Warn("rate limit exceeded", clog.String("client", key), clog.String("limiter", w.cfg.Name))
	}
	return allowed
}

// Remaining 返回窗口内剩余可用次数，不记录请求
func (w *Window) Remaining(key string) int {
	v, ok := w.clients.Load(key)
	if !ok {
		return w.cfg.MaxRequests
	}
	entry := v.(*clientLog)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.purge(w.now().Add(-w.cfg.Window))
	remaining := w.cfg.MaxRequests - len(entry.timestamps)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetTime 返回窗口内最早一次请求过期的时间；窗口为空时返回当前时间
func (w *Window) ResetTime(key string) time.Time {
	now := w.now()
	v, ok := w.clients.Load(key)
	if !ok {
		return now
	}
	entry := v.(*clientLog)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.purge(now.Add(-w.cfg.Window))
	if len(entry.timestamps) == 0 {
		return now
	}
	return entry.timestamps[0].Add(w.cfg.Window)
}

// RetryAfter 返回距离下一次可放行的等待时长
func (w *Window) RetryAfter(key string) time.Duration {
	d := w.ResetTime(key).Sub(w.now())
	if d < 0 {
		return 0
	}
	return d
}

// Limit 窗口内最大请求数
func (w *Window) Limit() int { return w.cfg.MaxRequests }

// Window 窗口长度
func (w *Window) Window() time.Duration { return w.cfg.Window }

// Close 停止后台清理
func (w *Window) Close() error {
	w.closeOnce.Do(func() { close(w.stopCh) })
	return nil
}

// lockedEntry 返回已加锁且仍在注册表中的客户端记录
func (w *Window) lockedEntry(key string) *clientLog {
	for {
		v, ok := w.clients.Load(key)
		if !ok {
			v, _ = w.clients.LoadOrStore(key, &clientLog{})
		}
		entry := v.(*clientLog)
		entry.mu.Lock()
		if !entry.removed {
			return entry
		}
		entry.mu.Unlock()
	}
}

// cleanup 定期删除空闲客户端
func (w *Window) cleanup() {
	ticker := time.NewTicker(w.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Window) sweep() int {
	now := w.now()
	count := 0
	w.clients.Range(func(key, value any) bool {
		entry := value.(*clientLog)
		entry.mu.Lock()
		if now.Sub(entry.lastSeen) > w.cfg.IdleTimeout {
			entry.removed = true
			w.clients.Delete(key)
			count++
		}
		entry.mu.Unlock()
		return true
	})
	if count > 0 {
		w.logger.Debug("cleaned up idle clients", clog.Int("count", count))
	}
	return count
}
