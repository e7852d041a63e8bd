package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("配置为空返回错误", func(t *testing.T) {
		m, err := New(nil)
		assert.ErrorIs(t, err, ErrConfigNil)
		assert.Nil(t, m)
	})

	t.Run("未启用返回 noop", func(t *testing.T) {
		m, err := New(&Config{Enabled: false})
		require.NoError(t, err)

		counter, err := m.Counter("fpd_mcp_noop_total", "noop")
		require.NoError(t, err)
		counter.Inc(context.Background(), L("k", "v"))

		w := httptest.NewRecorder()
		m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, m.Shutdown(context.Background()))
	})
}

func TestMeterHandler(t *testing.T) {
	ctx := context.Background()
	m, err := New(&Config{Enabled: true, ServiceName: "fpd-mcp-test"})
	require.NoError(t, err)
	defer func() { _ = m.Shutdown(ctx) }()

	counter, err := m.Counter("fpd_mcp_test_events_total", "test events")
	require.NoError(t, err)
	counter.Inc(ctx, L("endpoint", "search"))
	counter.Add(ctx, 2, L("endpoint", "search"))

	gauge, err := m.Gauge("fpd_mcp_test_state", "test state")
	require.NoError(t, err)
	gauge.Set(ctx, 2, L("breaker", "uspto_api"))

	histogram, err := m.Histogram("fpd_mcp_test_duration_seconds", "test duration",
		WithUnit("s"), WithBuckets([]float64{0.1, 1}))
	require.NoError(t, err)
	histogram.Record(ctx, (250 * time.Millisecond).Seconds(), L("endpoint", "search"))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "fpd_mcp_test_events_total")
	assert.Contains(t, body, `endpoint="search"`)
	assert.Contains(t, body, "fpd_mcp_test_state")
	assert.Contains(t, body, "fpd_mcp_test_duration_seconds_bucket")
}

func TestMeterReusesInstruments(t *testing.T) {
	m, err := New(&Config{Enabled: true})
	require.NoError(t, err)
	defer func() { _ = m.Shutdown(context.Background()) }()

	a, err := m.Counter("fpd_mcp_shared_total", "shared")
	require.NoError(t, err)
	b, err := m.Counter("fpd_mcp_shared_total", "shared")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestGaugeIncDec(t *testing.T) {
	m, err := New(&Config{Enabled: true})
	require.NoError(t, err)
	defer func() { _ = m.Shutdown(context.Background()) }()

	g, err := m.Gauge("fpd_mcp_inflight", "inflight")
	require.NoError(t, err)

	impl := g.(*gaugeImpl)
	ctx := context.Background()
	g.Inc(ctx, L("route", "/download"))
	g.Inc(ctx, L("route", "/download"))
	g.Dec(ctx, L("route", "/download"))
	assert.Equal(t, 1.0, impl.values[labelKey([]Label{L("route", "/download")})])
}

func TestHTTPStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", HTTPStatusClass(200))
	assert.Equal(t, "4xx", HTTPStatusClass(429))
	assert.Equal(t, "5xx", HTTPStatusClass(503))
	assert.Equal(t, "unknown", HTTPStatusClass(42))
	assert.Equal(t, OutcomeSuccess, HTTPOutcome(302))
	assert.Equal(t, OutcomeError, HTTPOutcome(404))
}
