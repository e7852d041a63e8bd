package auth

const (
	// MetricTokensIssued 令牌签发计数
	MetricTokensIssued = "fpd_mcp_auth_tokens_issued_total"

	// MetricTokensValidated 令牌验证计数，标签: status, error_type
	MetricTokensValidated = "fpd_mcp_auth_tokens_validated_total"
)
