package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
)

type guidanceSection struct {
	name string
	text string
}

// guidanceSections 按展示顺序排列，第一项为默认
var guidanceSections = []guidanceSection{
	{"overview", `# USPTO Final Petition Decisions - Guidance

Quick reference:
- Find petitions by company or art unit: tools
- Identify petition red flags: red_flags
- Download petition documents: documents
- Correlate petitions with prosecution: workflows_pfw
- Analyze petition and PTAB patterns: workflows_ptab
- Citation quality and petition correlation: workflows_citations
- Complete portfolio due diligence: workflows_complete
- Research CFR rules with an assistant: workflows_assistant
- Ultra-minimal workflows: ultra_context
- Reduce extraction costs: cost
`},
	{"workflows_pfw", `# Petitions and prosecution history

1. Search_petitions_by_application(application_number=X) lists every petition of the application.
2. Compare petitionMailDate with the office action timeline of the same application.
3. Revival petitions (37 CFR 1.137) mark abandonment; check what deadline was missed.
4. Supervisory review petitions (37 CFR 1.181) mark disputes with the examiner.
`},
	{"workflows_ptab", `# Petitions and post-grant challenges

1. Search_petitions_balanced(decision_type="DENIED", technology_center=X) for denied petitions.
2. Keep records with a patentNumber; these patents may face post-grant challenges.
3. A denied petition followed by a granted patent is a signal worth checking against PTAB trials.
`},
	{"workflows_citations", `# Petitions and citation quality

1. Search_petitions_by_art_unit(art_unit=X) to measure petition frequency per art unit.
2. Art units with many supervisory review petitions often show citation quality issues.
3. Use Get_petition_details to read the issues considered for each outlier.
`},
	{"workflows_complete", `# Portfolio due diligence

1. For every application in the portfolio call Search_petitions_by_application.
2. Flag revivals, denials and supervisory reviews.
3. Download the decisions of flagged petitions with FPD_get_document_download.
4. Extract decision text with FPD_get_document_content_with_mistral_ocr for the final report.
`},
	{"workflows_assistant", `# CFR research

1. Collect the ruleBag and statuteBag values from Get_petition_details.
2. Research each cited rule (for example 37 CFR 1.137, 1.181, 1.182) in the MPEP.
3. Compare the Director's reasoning in the decision text with the rule requirements.
`},
	{"tools", `# Tool catalog

- Search_petitions_minimal: discovery, default limit 50, 9 convenience parameters.
- Search_petitions_balanced: analysis, default limit 10, adds petition_type_code, art_unit,
  technology_center, prosecution_status and entity_status.
- Search_petitions_by_art_unit: art unit pattern analysis, optional date_range YYYY-MM-DD:YYYY-MM-DD.
- Search_petitions_by_application: complete petition history of one application.
- Get_petition_details: full record with documentBag.
- FPD_get_document_download: browser download link through the local proxy.
- FPD_get_document_content_with_mistral_ocr: document text, local parse first, OCR fallback.
- FPD_get_resilience_status: circuit breaker and cache status.
Limits are clamped to 1-200.
`},
	{"red_flags", `# Red flags

- 37 CFR 1.137 (revival): the application was abandoned.
- 37 CFR 1.181 (supervisory review): dispute with an examiner action.
- 37 CFR 1.182 (questions not specifically provided for): unusual procedural issue.
- DENIED: the Director upheld the office; arguments were weak or procedurally flawed.
- Several petitions on one application: difficult prosecution.
`},
	{"documents", `# Documents

- Get_petition_details lists documents in documentBag with their documentIdentifier.
- FPD_get_document_download returns proxy_download_url. The proxy runs on localhost (default
  port 8081, FPD_PROXY_PORT or PROXY_PORT) and adds the API key server-side.
- The proxy allows 5 downloads per 10 seconds per client.
- When a centralized proxy is detected (CENTRALIZED_PROXY_PORT, or probing port 8080), the
  document is registered there and the link points to it.
`},
	{"ultra_context", `# Ultra-minimal workflows

- Start with Search_petitions_minimal and a small limit.
- Move to Search_petitions_balanced only for the petitions the user selects.
- Request documents only for petitions that will actually be read.
`},
	{"cost", `# Extraction cost

- Local parsing is free and works for most electronically filed decisions.
- OCR costs $0.001 per page and is used only when local parsing fails the quality check.
- auto_optimize=false forces OCR; use it only for scanned documents.
`},
}

type guidanceArgs struct {
	Section string `json:"section"`
}

func (s *Server) registerStatusTools() {
	names := make([]string, len(guidanceSections))
	for i, sec := range guidanceSections {
		names[i] = sec.name
	}
	s.addTool("FPD_get_guidance",
		"Workflow guidance for this server, one section at a time.",
		schema(map[string]any{
			"section": map[string]any{
				"type":        "string",
				"description": "Guidance section",
				"enum":        names,
				"default":     "overview",
			},
		}),
		s.guidance)

	s.addTool("FPD_get_resilience_status",
		"Circuit breaker states, response cache statistics and download proxy status.",
		schema(map[string]any{}),
		s.resilienceStatus)
}

// GuidanceResponse FPD_get_guidance 的返回
type GuidanceResponse struct {
	Section string `json:"section"`
	Content string `json:"content"`
}

func (s *Server) guidance(_ context.Context, raw json.RawMessage) (any, error) {
	var args guidanceArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(args.Section)
	if name == "" {
		name = guidanceSections[0].name
	}
	names := make([]string, 0, len(guidanceSections))
	for _, sec := range guidanceSections {
		if sec.name == name {
			return &GuidanceResponse{Section: sec.name, Content: sec.text}, nil
		}
		names = append(names, sec.name)
	}
	return nil, validation("Section '%s' not found. Available sections: %s", name, strings.Join(names, ", "))
}
