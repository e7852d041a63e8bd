package breaker

const (
	// MetricState 熔断器当前状态 (Gauge)，0=closed 1=half_open 2=open
	MetricState = "fpd_mcp_circuit_breaker_state"

	// MetricRejectsTotal 被熔断拒绝的请求数 (Counter)
	MetricRejectsTotal = "fpd_mcp_circuit_breaker_rejects_total"

	// LabelBreaker 熔断器名称标签
	LabelBreaker = "breaker"
)
