package ratelimit

const (
	// MetricExceeded 被拒绝的请求数 (Counter)
	MetricExceeded = "fpd_mcp_rate_limit_exceeded_total"

	// LabelLimiter 限流器名称标签
	LabelLimiter = "limiter"
)
