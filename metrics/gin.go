package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// GinHTTPMiddleware 为本地下载代理的路由（健康检查、/download、/rate-limit）
// 记录请求数与耗时，标签使用路由模板而不是实际路径。
//
// httpMetrics 为 nil（指标关闭）时直接放行。
func GinHTTPMiddleware(httpMetrics *HTTPServerMetrics) gin.HandlerFunc {
	if httpMetrics == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// 路径里带有 petition_id 与 document_identifier，只能按模板聚合
		route := c.FullPath()
		if route == "" {
			route = UnknownRoute
		}
		httpMetrics.Observe(c.Request.Context(), c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
