package extract

const (
	// MetricExtractions 文本提取次数，标签: method
	MetricExtractions = "fpd_mcp_extractions_total"

	// MetricOCRCost OCR 累计费用（美元）
	MetricOCRCost = "fpd_mcp_ocr_cost_usd_total"

	LabelMethod = "method"
)
