package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// CircuitBreaker 单个依赖的熔断器
type CircuitBreaker struct {
	cfg       Config
	cb        *gobreaker.TwoStepCircuitBreaker[struct{}]
	logger    clog.Logger
	isFailure func(err error) bool

	// probe 单槽位闸门，非闭合状态下同一时刻只有一个调用能进入 gobreaker
	probe chan struct{}

	stateGauge metrics.Gauge
	rejects    metrics.Counter

	mu           sync.Mutex
	failureCount uint32
	lastFailure  time.Time
}

// New 创建熔断器
func New(cfg *Config, opts ...Option) (*CircuitBreaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if cfg.Name == "" {
		return nil, ErrNameEmpty
	}
	c := *cfg
	c.setDefaults()

	o := options{
		logger:    clog.Discard(),
		meter:     metrics.Discard(),
		isFailure: defaultIsFailure,
	}
	for _, opt := range opts {
		opt(&o)
	}

	stateGauge, err := o.meter.Gauge(MetricState, "Circuit breaker state (0=closed, 1=half_open, 2=open)")
	if err != nil {
		return nil, xerrors.Wrap(err, "breaker: create state gauge")
	}
	rejects, err := o.meter.Counter(MetricRejectsTotal, "Number of calls rejected by an open circuit breaker")
	if err != nil {
		return nil, xerrors.Wrap(err, "breaker: create rejects counter")
	}

	b := &CircuitBreaker{
		cfg:        c,
		logger:     o.logger.With(clog.String("breaker", c.Name)),
		isFailure:  o.isFailure,
		probe:      make(chan struct{}, 1),
		stateGauge: stateGauge,
		rejects:    rejects,
	}

	// 结果在被保护函数返回之后才上报，不计入的错误不会占用 gobreaker 的请求计数
	b.cb = gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        c.Name,
		MaxRequests: c.SuccessThreshold,
		// Interval 为 0：闭合状态下不周期性清零，只按连续失败计数
		Interval: 0,
		Timeout:  c.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.FailureThreshold
		},
		OnStateChange: b.onStateChange,
	})
	b.stateGauge.Set(context.Background(), float64(StateClosed), metrics.L(LabelBreaker, c.Name))

	b.logger.Info("circuit breaker created",
		clog.Int("failure_threshold", int(c.FailureThreshold)),
		clog.Duration("recovery_timeout", c.RecoveryTimeout),
		clog.Int("success_threshold", int(c.SuccessThreshold)))
	return b, nil
}

// Name 熔断器名称
func (b *CircuitBreaker) Name() string { return b.cfg.Name }

// Execute 执行受熔断保护的函数
//
// 打开状态下返回 ErrOpen 且 fn 不会被调用。fn 在任何锁之外执行。
// IsFailure 判定为不计入的错误（默认 context.Canceled）既不算成功也不算失败。
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch b.cb.State() {
	case gobreaker.StateOpen:
		b.reject()
		return ErrOpen
	case gobreaker.StateHalfOpen:
		select {
		case b.probe <- struct{}{}:
			defer func() { <-b.probe }()
		default:
			b.reject()
			return ErrOpen
		}
	}

	defer func() {
		if r := recover(); r != nil {
			b.settle(fmt.Errorf("breaker: panic: %v", r))
			panic(r)
		}
	}()

	err := fn(ctx)
	b.settle(err)
	return err
}

// settle 把一次调用的结果计入状态机
func (b *CircuitBreaker) settle(err error) {
	if err != nil && !b.isFailure(err) {
		return
	}
	done, aerr := b.cb.Allow()
	if aerr != nil {
		// 调用期间已被其他调用打开，结果作废
		return
	}
	done(err == nil)
	b.record(err)
}

// State 当前状态，打开状态超时后读取会触发到半开的转换
func (b *CircuitBreaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Snapshot 返回状态快照
func (b *CircuitBreaker) Snapshot() Snapshot {
	// 先读 gobreaker，再持有自己的锁，避免与 onStateChange 的加锁顺序相反
	state := fromGobreaker(b.cb.State())
	counts := b.cb.Counts()

	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:             b.cfg.Name,
		State:            state,
		FailureCount:     b.failureCount,
		FailureThreshold: b.cfg.FailureThreshold,
		RecoveryTimeout:  b.cfg.RecoveryTimeout,
		LastFailureTime:  b.lastFailure,
	}
	if state == StateHalfOpen {
		s.SuccessCount = counts.ConsecutiveSuccesses
	}
	if state == StateOpen && !b.lastFailure.IsZero() {
		if remaining := b.cfg.RecoveryTimeout - time.Since(b.lastFailure); remaining > 0 {
			s.TimeUntilRetry = remaining
		}
	}
	return s
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failureCount = 0
		return
	}
	b.failureCount++
	b.lastFailure = time.Now()
	b.logger.Warn("circuit breaker recorded failure",
		clog.Int("failure_count", int(b.failureCount)),
		clog.Int("failure_threshold", int(b.cfg.FailureThreshold)),
		clog.Error(err))
}

func (b *CircuitBreaker) reject() {
	b.rejects.Inc(context.Background(), metrics.L(LabelBreaker, b.cfg.Name))
}

// onStateChange 在 gobreaker 内部锁中被调用
func (b *CircuitBreaker) onStateChange(_ string, from gobreaker.State, to gobreaker.State) {
	next := fromGobreaker(to)

	b.mu.Lock()
	if next == StateClosed {
		b.failureCount = 0
		b.lastFailure = time.Time{}
	}
	b.mu.Unlock()

	b.stateGauge.Set(context.Background(), float64(next), metrics.L(LabelBreaker, b.cfg.Name))

	fields := []clog.Field{
		clog.String("from", fromGobreaker(from).String()),
		clog.String("to", next.String()),
	}
	if next == StateOpen {
		b.logger.Error("circuit breaker opened", fields...)
		return
	}
	b.logger.Info("circuit breaker state changed", fields...)
}

func fromGobreaker(state gobreaker.State) State {
	switch state {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
