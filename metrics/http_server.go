package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ceyewan/fpdmcp/xerrors"
)

const (
	MetricProxyRequestsTotal   = "fpd_mcp_proxy_requests_total"
	MetricProxyDurationSeconds = "fpd_mcp_proxy_request_duration_seconds"
)

// DefaultDurationBuckets 覆盖本地代理与 USPTO 上游的典型耗时（秒）
var DefaultDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// HTTPServerMetrics 下载代理的 RED 指标集
type HTTPServerMetrics struct {
	service      string
	requestTotal Counter
	duration     Histogram
}

// NewHTTPServerMetrics 创建 HTTP 服务器指标，service 为空时使用 "unknown"
func NewHTTPServerMetrics(m Meter, service string) (*HTTPServerMetrics, error) {
	if m == nil {
		return nil, xerrors.New("meter is nil")
	}

	service = strings.TrimSpace(service)
	if service == "" {
		service = "unknown"
	}

	counter, err := m.Counter(MetricProxyRequestsTotal, "Total number of download proxy HTTP requests.")
	if err != nil {
		return nil, xerrors.Wrap(err, "create proxy request counter")
	}

	duration, err := m.Histogram(MetricProxyDurationSeconds, "Download proxy request duration in seconds.",
		WithUnit("s"), WithBuckets(DefaultDurationBuckets))
	if err != nil {
		return nil, xerrors.Wrap(err, "create proxy duration histogram")
	}

	return &HTTPServerMetrics{
		service:      service,
		requestTotal: counter,
		duration:     duration,
	}, nil
}

// Observe 记录一次请求；route 必须是路由模板
func (m *HTTPServerMetrics) Observe(ctx context.Context, method string, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	safeMethod := strings.ToUpper(strings.TrimSpace(method))
	if safeMethod == "" {
		safeMethod = http.MethodGet
	}

	safeRoute := strings.TrimSpace(route)
	if safeRoute == "" {
		safeRoute = UnknownRoute
	}

	labels := []Label{
		L(LabelService, m.service),
		L(LabelOperation, OperationHTTPServer),
		L(LabelMethod, safeMethod),
		L(LabelRoute, safeRoute),
		L(LabelStatusClass, HTTPStatusClass(status)),
		L(LabelOutcome, HTTPOutcome(status)),
	}

	m.requestTotal.Inc(ctx, labels...)
	m.duration.Record(ctx, duration.Seconds(), labels...)
}
