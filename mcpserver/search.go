package mcpserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ceyewan/fpdmcp/uspto"
)

var minimalParameters = []string{
	"applicant_name", "application_number", "patent_number",
	"decision_type", "deciding_office",
	"petition_date_start", "petition_date_end",
	"decision_date_start", "decision_date_end",
}

var balancedParameters = append(append([]string{}, minimalParameters...),
	"petition_type_code", "art_unit", "technology_center",
	"prosecution_status", "entity_status",
)

// searchArgs 两个层级共用的参数，minimal 层级不声明 balanced 专属字段
type searchArgs struct {
	uspto.Criteria
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// QueryInfo 返回给调用方的实际查询说明
type QueryInfo struct {
	FinalQuery          string            `json:"final_query"`
	ParametersUsed      map[string]string `json:"convenience_parameters_used"`
	Tier                string            `json:"tier"`
	AvailableParameters []string          `json:"available_parameters"`
}

// Guidance 附加在结果上的下一步建议
type Guidance struct {
	Workflow  string            `json:"workflow"`
	NextSteps []string          `json:"next_steps"`
	RedFlags  map[string]string `json:"red_flags,omitempty"`
}

// SearchResponse 检索类工具的返回
type SearchResponse struct {
	Success   bool                         `json:"success"`
	Count     int                          `json:"count"`
	Petitions []map[string]json.RawMessage `json:"petitionDecisionDataBag"`
	uspto.Meta
	QueryInfo *QueryInfo `json:"query_info,omitempty"`
	Guidance  Guidance   `json:"llm_guidance"`
}

var redFlags = map[string]string{
	"revival_37cfr1137": "ruleBag containing '37 CFR 1.137' means the application was abandoned and revived",
	"dispute_37cfr1181": "ruleBag containing '37 CFR 1.181' means supervisory review of an examiner action",
	"denied_petition":   "decisionTypeCodeDescriptionText 'DENIED' means the Director upheld the office",
}

func (s *Server) registerSearchTools() {
	criteria := map[string]any{
		"query":               str("Free-form USPTO query, combined with the other parameters using AND"),
		"applicant_name":      str("First applicant name (quoted phrase match)"),
		"application_number":  str("Application number, e.g. 17896175 or 15/123,456"),
		"patent_number":       str("Patent number"),
		"decision_type":       str("GRANTED, DENIED or DISMISSED"),
		"deciding_office":     str("Final deciding office name"),
		"petition_date_start": str("Petition mail date lower bound, YYYY-MM-DD"),
		"petition_date_end":   str("Petition mail date upper bound, YYYY-MM-DD"),
		"decision_date_start": str("Decision date lower bound, YYYY-MM-DD"),
		"decision_date_end":   str("Decision date upper bound, YYYY-MM-DD"),
		"offset":              integer("Pagination offset", 0),
	}

	minimal := cloneProps(criteria)
	minimal["limit"] = integer("Maximum results (1-200)", defaultMinimalLimit)
	s.addTool("Search_petitions_minimal",
		"Discovery search over Final Petition Decisions. Returns a small field set per petition. "+
			"Use for finding candidate petitions before detailed analysis.",
		schema(minimal), s.searchTool(uspto.TierMinimal, defaultMinimalLimit))

	balanced := cloneProps(criteria)
	balanced["limit"] = integer("Maximum results (1-200)", defaultBalancedLimit)
	balanced["petition_type_code"] = str("Petition type code, e.g. 551")
	balanced["art_unit"] = str("Group art unit number, e.g. 2128")
	balanced["technology_center"] = str("Technology center, e.g. 2100")
	balanced["prosecution_status"] = str("Prosecution status description")
	balanced["entity_status"] = str("Business entity status, e.g. Small")
	s.addTool("Search_petitions_balanced",
		"Analysis search over Final Petition Decisions with art unit, technology center, "+
			"CFR rules and statutes in the result.",
		schema(balanced), s.searchTool(uspto.TierBalanced, defaultBalancedLimit))

	s.addTool("Search_petitions_by_art_unit",
		"All petitions for one art unit, optionally within a petition mail date range.",
		schema(map[string]any{
			"art_unit":   str("Art unit number, e.g. 2128"),
			"date_range": str("Optional range YYYY-MM-DD:YYYY-MM-DD"),
			"limit":      integer("Maximum results (1-200)", uspto.DefaultArtUnitLimit),
		}, "art_unit"),
		s.searchByArtUnit)

	s.addTool("Search_petitions_by_application",
		"All petitions filed for one application number.",
		schema(map[string]any{
			"application_number": str("Application number, e.g. 17896175 or 15/123,456"),
			"include_documents":  boolean("Include documentBag in the result", false),
		}, "application_number"),
		s.searchByApplication)

	s.addTool("Get_petition_details",
		"Full record of one petition decision, including its documents.",
		schema(map[string]any{
			"petition_id":       str("petitionDecisionRecordIdentifier"),
			"include_documents": boolean("Include documentBag in the result", true),
		}, "petition_id"),
		s.petitionDetails)
}

const (
	defaultMinimalLimit  = 50
	defaultBalancedLimit = 10
)

func cloneProps(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+6)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Server) searchTool(tier uspto.Tier, defaultLimit int) handlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args searchArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		if args.Offset < 0 {
			return nil, validation("Offset must be non-negative")
		}

		query, used, err := uspto.BuildQuery(args.Criteria, tier)
		if err != nil {
			return nil, err
		}

		fields := tier.Fields()
		res, e := s.deps.USPTO.Search(ctx, uspto.SearchParams{
			Query:  query,
			Fields: fields,
			Limit:  uspto.ClampLimit(args.Limit, defaultLimit),
			Offset: args.Offset,
		})
		if e != nil {
			return nil, e
		}

		params := minimalParameters
		guidance := Guidance{
			Workflow: "Discovery -> User Selection -> Balanced Analysis -> Document Retrieval",
			NextSteps: []string{
				"Present top results to the user for selection",
				"Use Search_petitions_balanced for detailed analysis of selected petitions",
				"Use Search_petitions_by_application for the full petition history of one application",
				"Use Get_petition_details to list documents of a petition",
			},
			RedFlags: redFlags,
		}
		if tier == uspto.TierBalanced {
			params = balancedParameters
			guidance.Workflow = "Balanced Analysis -> Document Retrieval"
			guidance.NextSteps = []string{
				"Use Get_petition_details for full details and documents",
				"Use Search_petitions_by_art_unit for examiner patterns",
				"Use FPD_get_document_download to access petition and decision PDFs",
			}
		}

		resp, err := project(res, fields)
		if err != nil {
			return nil, err
		}
		resp.QueryInfo = &QueryInfo{
			FinalQuery:          query,
			ParametersUsed:      used,
			Tier:                tier.String(),
			AvailableParameters: params,
		}
		resp.Guidance = guidance
		return resp, nil
	}
}

type artUnitArgs struct {
	ArtUnit   string `json:"art_unit"`
	DateRange string `json:"date_range"`
	Limit     int    `json:"limit"`
}

func (s *Server) searchByArtUnit(ctx context.Context, raw json.RawMessage) (any, error) {
	var args artUnitArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.ArtUnit) == "" {
		return nil, validation("Art unit cannot be empty")
	}

	res, e := s.deps.USPTO.SearchByArtUnit(ctx, args.ArtUnit, args.DateRange, args.Limit)
	if e != nil {
		return nil, e
	}
	resp, err := project(res, uspto.BalancedFields)
	if err != nil {
		return nil, err
	}
	resp.Guidance = Guidance{
		Workflow: "Art Unit Discovery -> Examiner Mapping -> Outcome Review",
		NextSteps: []string{
			"Group petitions by examiner to identify individual patterns",
			"Check GRANTED/DENIED outcomes to assess Director overturn rates",
			"Use Get_petition_details on outliers",
		},
		RedFlags: map[string]string{
			"high_denial_rate":    "Weak prosecution practices",
			"revival_clustering":  "Multiple 37 CFR 1.137 petitions point to docketing problems",
			"temporal_clustering": "Process breakdown in specific periods",
		},
	}
	return resp, nil
}

type applicationArgs struct {
	ApplicationNumber string `json:"application_number"`
	IncludeDocuments  bool   `json:"include_documents"`
}

func (s *Server) searchByApplication(ctx context.Context, raw json.RawMessage) (any, error) {
	var args applicationArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.ApplicationNumber) == "" {
		return nil, validation("Application number cannot be empty")
	}

	res, e := s.deps.USPTO.SearchByApplication(ctx, args.ApplicationNumber, args.IncludeDocuments)
	if e != nil {
		return nil, e
	}
	// 带文档时返回完整记录
	var fields []string
	if !args.IncludeDocuments {
		fields = uspto.BalancedFields
	}
	resp, err := project(res, fields)
	if err != nil {
		return nil, err
	}
	resp.Guidance = Guidance{
		Workflow: "Application Petition Check -> Timeline Correlation",
		NextSteps: []string{
			"No petitions usually means prosecution without Director intervention",
			"Multiple petitions may indicate missed deadlines or examiner conflicts",
			"Use FPD_get_document_download to read the decisions",
		},
	}
	return resp, nil
}

type detailsArgs struct {
	PetitionID       string `json:"petition_id"`
	IncludeDocuments *bool  `json:"include_documents"`
}

// DetailsResponse Get_petition_details 的返回
type DetailsResponse struct {
	Success   bool            `json:"success"`
	Count     int             `json:"count"`
	Petitions []uspto.Petition `json:"petitionDecisionDataBag"`
	uspto.Meta
	Guidance Guidance `json:"llm_guidance"`
}

func (s *Server) petitionDetails(ctx context.Context, raw json.RawMessage) (any, error) {
	var args detailsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.PetitionID) == "" {
		return nil, validation("Petition ID cannot be empty")
	}
	include := args.IncludeDocuments == nil || *args.IncludeDocuments

	petition, meta, e := s.deps.USPTO.GetPetition(ctx, args.PetitionID, include)
	if e != nil {
		return nil, e
	}
	return &DetailsResponse{
		Success:   true,
		Count:     1,
		Petitions: []uspto.Petition{*petition},
		Meta:      meta,
		Guidance: Guidance{
			Workflow: "Petition Details -> Document Access",
			NextSteps: []string{
				"Review decision outcome and legal basis (ruleBag, statuteBag)",
				"Use FPD_get_document_download with a documentIdentifier from documentBag",
				"Use FPD_get_document_content_with_mistral_ocr to read a decision as text",
			},
		},
	}, nil
}

// project 按字段裁剪每条记录，fields 为空时保留全部字段
func project(res *uspto.SearchResult, fields []string) (*SearchResponse, error) {
	bag := make([]map[string]json.RawMessage, 0, len(res.Petitions))
	for i := range res.Petitions {
		p, err := res.Petitions[i].Project(fields)
		if err != nil {
			return nil, err
		}
		bag = append(bag, p)
	}
	return &SearchResponse{
		Success:   true,
		Count:     res.Total(),
		Petitions: bag,
		Meta:      res.Meta,
	}, nil
}
