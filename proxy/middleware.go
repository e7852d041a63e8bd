package proxy

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/idgen"
	"github.com/ceyewan/fpdmcp/xerrors"
)

const (
	// HeaderRequestID 请求关联 ID
	HeaderRequestID = "X-Request-ID"

	ctxRequestID = "request_id"
)

// securityHeaders 为每个响应加上安全相关的头
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", "default-src 'self'")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// cors 只放行白名单来源的 GET 请求
func cors(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && slices.Contains(allowed, origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", http.MethodGet)
			h.Set("Access-Control-Allow-Headers", "*")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// bodyLimitPayload 统一错误结构附带长度信息
type bodyLimitPayload struct {
	xerrors.Payload
	ContentLength int64 `json:"content_length"`
	MaxAllowed    int64 `json:"max_allowed"`
}

// bodyLimit 拒绝声明长度超限的请求，并限制实际读取量
func bodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := idgen.RequestID()
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(clog.WithRequestID(c.Request.Context(), id))

		if c.Request.ContentLength > maxBytes {
			e := xerrors.E(xerrors.KindValidation, "Request body too large. Maximum size: %d bytes", maxBytes).
				WithStatus(http.StatusRequestEntityTooLarge).
				WithRequestID(id)
			c.AbortWithStatusJSON(e.StatusCode(), bodyLimitPayload{
				Payload:       e.Payload(),
				ContentLength: c.Request.ContentLength,
				MaxAllowed:    maxBytes,
			})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}
