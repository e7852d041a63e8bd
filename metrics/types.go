// Package metrics 为 fpdmcp 提供统一的指标收集能力。
//
// 基于 OpenTelemetry 指标 SDK 与 Prometheus exporter，提供简洁的 Counter、Gauge、
// Histogram 接口；未启用时返回 noop Meter，组件无需判空。
//
// 快速开始：
//
//	meter, err := metrics.New(&metrics.Config{
//	    Enabled:     true,
//	    ServiceName: "fpd-mcp",
//	    Port:        9464,
//	    Path:        "/metrics",
//	})
//	defer meter.Shutdown(ctx)
//
//	counter, _ := meter.Counter("fpd_mcp_api_requests_total", "USPTO API 请求总数")
//	counter.Inc(ctx, metrics.L("endpoint", "search"), metrics.L("status", "200"))
package metrics

import (
	"context"
	"net/http"
)

// Counter 计数器，只增不减的累计值
type Counter interface {
	Inc(ctx context.Context, labels ...Label)
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 仪表盘，可任意增减的瞬时值
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 直方图，记录值的分布
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标创建工厂
//
// 同名指标重复创建返回同一个底层 instrument，可在多个组件中安全共享。
type Meter interface {
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)

	// Handler 返回 Prometheus 抓取端点，noop Meter 返回 404 处理器
	Handler() http.Handler

	// Shutdown 刷新指标并关闭内置的抓取服务器
	Shutdown(ctx context.Context) error
}

// MetricOption 指标配置选项
type MetricOption func(*MetricOptions)

// MetricOptions 指标选项
type MetricOptions struct {
	Unit    string
	Buckets []float64
}

// WithUnit 设置指标单位，例如 "s"、"By"、"USD"
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}

// WithBuckets 设置直方图的显式桶边界
func WithBuckets(buckets []float64) MetricOption {
	return func(o *MetricOptions) {
		o.Buckets = append([]float64(nil), buckets...)
	}
}
