package mcpserver

const (
	// MetricToolCalls 工具调用次数 (Counter)
	MetricToolCalls = "fpd_mcp_tool_calls_total"
	// MetricToolDuration 工具调用耗时 (Histogram)
	MetricToolDuration = "fpd_mcp_tool_call_duration_seconds"

	LabelTool    = "tool"
	LabelOutcome = "outcome"
	LabelKind    = "kind"

	OutcomeSuccess = "success"
	OutcomeError   = "error"
)
