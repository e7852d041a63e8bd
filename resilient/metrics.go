package resilient

const (
	// MetricRequests 上游请求计数，标签: client, operation, outcome
	MetricRequests = "fpd_mcp_api_requests_total"

	// MetricDuration 上游请求耗时（含重试），标签: client, operation
	MetricDuration = "fpd_mcp_api_request_duration_seconds"

	// MetricRetries 重试次数，标签: client, operation
	MetricRetries = "fpd_mcp_api_retries_total"

	LabelClient    = "client"
	LabelOperation = "operation"
	LabelOutcome   = "outcome"
)

// outcome 标签取值
const (
	OutcomeSuccess     = "success"
	OutcomeClientError = "client_error"
	OutcomeFailure     = "failure"
	OutcomeFallback    = "fallback"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeCanceled    = "canceled"
)
