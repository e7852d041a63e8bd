package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// limiterWrapper 包装 rate.Limiter 并记录最后访问时间
type limiterWrapper struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

// Bucket 按 key 隔离的令牌桶限流器
type Bucket struct {
	cfg      *BucketConfig
	logger   clog.Logger
	exceeded metrics.Counter
	limiters sync.Map // map[string]*limiterWrapper

	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewBucket 创建令牌桶限流器，cfg 为 nil 时使用默认值（容量 10，每秒补充 1 个）
func NewBucket(cfg *BucketConfig, opts ...Option) (*Bucket, error) {
	if cfg == nil {
		cfg = &BucketConfig{}
	}
	if cfg.Rate < 0 || cfg.Burst < 0 {
		return nil, xerrors.Wrapf(ErrInvalidLimit, "rate=%v burst=%d", cfg.Rate, cfg.Burst)
	}
	c := *cfg
	c.setDefaults()

	o := applyOptions(opts)
	exceeded, err := o.meter.Counter(MetricExceeded, "Number of requests rejected by rate limiters")
	if err != nil {
		return nil, xerrors.Wrap(err, "ratelimit: create exceeded counter")
	}

	b := &Bucket{
		cfg:      &c,
		logger:   o.logger,
		exceeded: exceeded,
		stopCh:   make(chan struct{}),
	}
	go b.cleanup()
	return b, nil
}

// Allow 尝试获取 1 个令牌，拒绝时返回需要等待的时长
func (b *Bucket) Allow(key string) (bool, time.Duration) {
	wrapper := b.getLimiter(key)
	now := time.Now()

	wrapper.mu.Lock()
	wrapper.lastSeen = now
	r := wrapper.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay > 0 {
		// 不消耗令牌，只报告等待时长
		r.CancelAt(now)
	}
	wrapper.mu.Unlock()

	if delay > 0 {
		b.exceeded.Inc(context.Background(), metrics.L(LabelLimiter, b.cfg.Name))
		b.logger.Debug("token bucket exhausted", clog.String("key", key), clog.Duration("retry_after", delay))
		return false, delay
	}
	return true, 0
}

// Tokens 返回当前可用令牌数
func (b *Bucket) Tokens(key string) float64 {
	return b.getLimiter(key).limiter.Tokens()
}

// Close 停止后台清理
func (b *Bucket) Close() error {
	b.closeOnce.Do(func() { close(b.stopCh) })
	return nil
}

func (b *Bucket) getLimiter(key string) *limiterWrapper {
	if v, ok := b.limiters.Load(key); ok {
		return v.(*limiterWrapper)
	}

	wrapper := &limiterWrapper{
		limiter:  rate.NewLimiter(rate.Limit(b.cfg.Rate), b.cfg.Burst),
		lastSeen: time.Now(),
	}
	actual, _ := b.limiters.LoadOrStore(key, wrapper)
	return actual.(*limiterWrapper)
}

// cleanup 定期清理空闲的限流器
func (b *Bucket) cleanup() {
	ticker := time.NewTicker(b.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			count := 0
			b.limiters.Range(func(key, value any) bool {
				wrapper := value.(*limiterWrapper)
				wrapper.mu.Lock()
				idle := now.Sub(wrapper.lastSeen)
				wrapper.mu.Unlock()

				if idle > b.cfg.IdleTimeout {
					b.limiters.Delete(key)
					count++
				}
				return true
			})
			if count > 0 {
				b.logger.Debug("cleaned up idle limiters", clog.Int("count", count))
			}
		case <-b.stopCh:
			return
		}
	}
}
