package proxy

const (
	// MetricDownloads 代理下载次数 (Counter)
	MetricDownloads = "fpd_mcp_document_downloads_total"
	// MetricRegistrations 集中代理注册次数 (Counter)
	MetricRegistrations = "fpd_mcp_centralized_registrations_total"

	LabelOutcome = "outcome"

	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeNotFound    = "not_found"
	OutcomeFailure     = "failure"
	OutcomeFallback    = "fallback"
)
