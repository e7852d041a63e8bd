package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureCounter struct {
	records [][]Label
}

func (c *captureCounter) Inc(_ context.Context, labels ...Label) {
	copied := make([]Label, len(labels))
	copy(copied, labels)
	c.records = append(c.records, copied)
}

func (c *captureCounter) Add(_ context.Context, _ float64, labels ...Label) {
	c.Inc(context.Background(), labels...)
}

type captureHistogram struct {
	records [][]Label
}

func (h *captureHistogram) Record(_ context.Context, _ float64, labels ...Label) {
	copied := make([]Label, len(labels))
	copy(copied, labels)
	h.records = append(h.records, copied)
}

func labelValue(labels []Label, key string) (string, bool) {
	for _, label := range labels {
		if label.Key == key {
			return label.Value, true
		}
	}
	return "", false
}

func newCaptureMetrics() (*HTTPServerMetrics, *captureCounter, *captureHistogram) {
	counter := &captureCounter{}
	histogram := &captureHistogram{}
	return &HTTPServerMetrics{
		service:      "fpd-proxy",
		requestTotal: counter,
		duration:     histogram,
	}, counter, histogram
}

func TestGinHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("未命中路由收敛为 unknown", func(t *testing.T) {
		httpMetrics, counter, histogram := newCaptureMetrics()
		router := gin.New()
		router.Use(GinHTTPMiddleware(httpMetrics))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/download/abc/DOC123", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		require.Len(t, counter.records, 1)
		require.Len(t, histogram.records, 1)

		route, ok := labelValue(counter.records[0], LabelRoute)
		require.True(t, ok)
		assert.Equal(t, UnknownRoute, route)

		outcome, _ := labelValue(counter.records[0], LabelOutcome)
		assert.Equal(t, OutcomeError, outcome)
	})

	t.Run("使用路由模板作为标签", func(t *testing.T) {
		httpMetrics, counter, _ := newCaptureMetrics()
		router := gin.New()
		router.Use(GinHTTPMiddleware(httpMetrics))
		router.GET("/download/:petition_id/:document_id", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/download/abc/DOC123", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		require.Len(t, counter.records, 1)

		route, _ := labelValue(counter.records[0], LabelRoute)
		assert.Equal(t, "/download/:petition_id/:document_id", route)

		class, _ := labelValue(counter.records[0], LabelStatusClass)
		assert.Equal(t, "2xx", class)

		service, _ := labelValue(counter.records[0], LabelService)
		assert.Equal(t, "fpd-proxy", service)
	})

	t.Run("nil 指标直接放行", func(t *testing.T) {
		router := gin.New()
		router.Use(GinHTTPMiddleware(nil))
		router.GET("/health", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
