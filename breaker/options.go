package breaker

import (
	"context"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	isFailure func(err error) bool
}

// WithLogger 设置 Logger，传入 nil 时使用 clog.Discard()
// 内部会自动添加 namespace: "breaker"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = clog.Discard()
		} else {
			o.logger = logger.WithNamespace("breaker")
		}
	}
}

// WithMeter 设置 Meter
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithIsFailure 自定义哪些错误计入失败
//
// 返回 false 的错误既不算失败也不算成功。默认除 context.Canceled 外的所有错误都计入失败。
func WithIsFailure(fn func(err error) bool) Option {
	return func(o *options) {
		if fn != nil {
			o.isFailure = fn
		}
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !xerrors.Is(err, context.Canceled)
}
