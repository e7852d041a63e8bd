package app

import (
	"context"
	"fmt"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// stopFunc 释放一个组件持有的资源
type stopFunc func(ctx context.Context) error

type lifecycleItem struct {
	name string
	stop stopFunc
}

// lifecycle 按构建顺序登记组件，关闭时逆序释放
type lifecycle struct {
	items  []lifecycleItem
	logger clog.Logger
}

func newLifecycle(logger clog.Logger) *lifecycle {
	return &lifecycle{logger: logger}
}

// register 登记组件，后登记的先关闭
func (l *lifecycle) register(name string, stop stopFunc) {
	l.items = append(l.items, lifecycleItem{name: name, stop: stop})
}

// closer 适配只有 Close() error 的组件
func closer(c interface{ Close() error }) stopFunc {
	return func(context.Context) error { return c.Close() }
}

// stopAll 逆序关闭全部组件，单个失败不影响其余组件
func (l *lifecycle) stopAll(ctx context.Context) error {
	var errs []error
	for i := len(l.items) - 1; i >= 0; i-- {
		item := l.items[i]
		if err := item.stop(ctx); err != nil {
			l.logger.Warn("component stop failed", clog.String("component", item.name), clog.Error(err))
			errs = append(errs, &LifecycleError{Name: item.name, Cause: err})
		}
	}
	l.items = nil
	return xerrors.Join(errs...)
}

// LifecycleError 组件关闭错误
type LifecycleError struct {
	Name  string
	Cause error
}

// Error 实现 error 接口
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("lifecycle error [%s]: %v", e.Name, e.Cause)
}

// Unwrap 支持错误链
func (e *LifecycleError) Unwrap() error {
	return e.Cause
}
