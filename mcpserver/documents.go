package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/extract"
	"github.com/ceyewan/fpdmcp/proxy"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// 提取结果中 auto_optimization 的取值
const (
	OptimizationLocal    = "Local parse succeeded - no OCR needed"
	OptimizationFallback = "Local parse failed - Mistral OCR used"
	OptimizationDisabled = "Disabled - Mistral OCR used directly"
)

func (s *Server) registerDocumentTools() {
	doc := map[string]any{
		"petition_id":         str("petitionDecisionRecordIdentifier"),
		"document_identifier": str("documentIdentifier from documentBag"),
	}
	s.addTool("FPD_get_document_download",
		"Browser download link for one petition document. The link goes through a local proxy "+
			"that keeps the USPTO API key server-side.",
		schema(doc, "petition_id", "document_identifier"),
		s.documentDownload)

	content := cloneProps(doc)
	content["auto_optimize"] = boolean("Try free local extraction first and use OCR only when it fails", true)
	s.addTool("FPD_get_document_content_with_mistral_ocr",
		"Extract the text of one petition document. Local parsing is free; OCR costs $0.001 per page.",
		schema(content, "petition_id", "document_identifier"),
		s.documentContent)
}

type documentArgs struct {
	PetitionID         string `json:"petition_id"`
	DocumentIdentifier string `json:"document_identifier"`
	AutoOptimize       *bool  `json:"auto_optimize"`
}

func (a *documentArgs) validate() error {
	a.PetitionID = strings.TrimSpace(a.PetitionID)
	a.DocumentIdentifier = strings.TrimSpace(a.DocumentIdentifier)
	if a.PetitionID == "" {
		return validation("Petition ID cannot be empty")
	}
	if a.DocumentIdentifier == "" {
		return validation("Document identifier cannot be empty")
	}
	return nil
}

// DocumentInfo 文档的下载相关信息
type DocumentInfo struct {
	Filename          string `json:"filename"`
	MimeType          string `json:"mime_type"`
	PageCount         int    `json:"page_count"`
	ApplicationNumber string `json:"application_number"`
	PatentNumber      string `json:"patent_number"`
}

// DownloadResponse FPD_get_document_download 的返回
type DownloadResponse struct {
	Success            bool              `json:"success"`
	PetitionID         string            `json:"petition_id"`
	DocumentIdentifier string            `json:"document_identifier"`
	ProxyDownloadURL   string            `json:"proxy_download_url"`
	DirectURL          string            `json:"direct_url"`
	DocumentInfo       DocumentInfo      `json:"document_info"`
	ProxyInfo          *proxy.Link       `json:"proxy_info"`
	AccessInstructions map[string]string `json:"access_instructions"`
	Guidance           Guidance          `json:"llm_guidance"`
}

func (s *Server) documentDownload(ctx context.Context, raw json.RawMessage) (any, error) {
	var args documentArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := args.validate(); err != nil {
		return nil, err
	}

	d, e := s.deps.USPTO.Document(ctx, args.PetitionID, args.DocumentIdentifier)
	if e != nil {
		return nil, e
	}

	var (
		link *proxy.Link
		err  error
	)
	if s.deps.Centralized != nil {
		link, err = s.deps.Centralized.Link(ctx, d, s.deps.Proxy)
	} else {
		link, err = proxy.LocalLink(ctx, d, s.deps.Proxy)
	}
	if err != nil {
		return nil, err
	}

	filename := d.Filename.String()
	markdown := fmt.Sprintf("**[Download %s (%d pages)](%s)** | Raw URL: `%s`", filename, d.PageCount, link.URL, link.URL)
	return &DownloadResponse{
		Success:            true,
		PetitionID:         d.PetitionID,
		DocumentIdentifier: d.DocumentIdentifier,
		ProxyDownloadURL:   link.URL,
		DirectURL:          d.DownloadURL,
		DocumentInfo: DocumentInfo{
			Filename:          filename,
			MimeType:          d.MimeType,
			PageCount:         d.PageCount,
			ApplicationNumber: d.ApplicationNumber(),
			PatentNumber:      d.PatentNumber(),
		},
		ProxyInfo: link,
		AccessInstructions: map[string]string{
			"method":     "Proxy server download (recommended)",
			"proxy_url":  link.URL,
			"proxy_note": fmt.Sprintf("Proxy handles USPTO API authentication (%s proxy on port %d)", link.Type, link.Port),
			"file_type":  "PDF document",
			"pages":      fmt.Sprintf("%d pages", d.PageCount),
		},
		Guidance: Guidance{
			Workflow: "Document Download",
			NextSteps: []string{
				"Present the download link to the user as: " + markdown,
				"direct_url requires the USPTO API key and is not usable from a browser",
			},
		},
	}, nil
}

// ContentResponse FPD_get_document_content_with_mistral_ocr 的返回
type ContentResponse struct {
	Success            bool   `json:"success"`
	PetitionID         string `json:"petition_id"`
	DocumentIdentifier string `json:"document_identifier"`
	DocumentCode       string `json:"document_code,omitempty"`
	*extract.Result
	CostBreakdown    string   `json:"cost_breakdown"`
	AutoOptimization string   `json:"auto_optimization"`
	RequestID        string   `json:"request_id,omitempty"`
	Guidance         Guidance `json:"llm_guidance"`
}

func (s *Server) documentContent(ctx context.Context, raw json.RawMessage) (any, error) {
	var args documentArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := args.validate(); err != nil {
		return nil, err
	}
	auto := args.AutoOptimize == nil || *args.AutoOptimize
	if !auto && !s.cfg.OCREnabled {
		return nil, xerrors.E(xerrors.KindExtractionConfig, "OCR feature is currently disabled").
			WithStatus(http.StatusServiceUnavailable)
	}

	d, e := s.deps.USPTO.Document(ctx, args.PetitionID, args.DocumentIdentifier)
	if e != nil {
		return nil, e
	}
	pdf, e := s.deps.USPTO.DownloadBytes(ctx, d, s.cfg.MaxDocumentBytes)
	if e != nil {
		return nil, e
	}

	var (
		res          *extract.Result
		optimization string
	)
	if auto {
		res, e = s.extract(ctx, pdf, d.PageCount)
		if e == nil {
			optimization = OptimizationLocal
			if res.Method == extract.MethodOCR {
				optimization = OptimizationFallback
			}
		}
	} else {
		res, e = s.deps.Extractor.ExtractOCR(ctx, pdf, d.PageCount)
		optimization = OptimizationDisabled
	}
	if e != nil {
		return nil, e
	}

	s.logger.InfoContext(ctx, "document content extracted",
		clog.String("petition_id", d.PetitionID),
		clog.String("document_identifier", d.DocumentIdentifier),
		clog.String("method", string(res.Method)),
		clog.Float64("cost_usd", res.CostUSD))

	return &ContentResponse{
		Success:            true,
		PetitionID:         d.PetitionID,
		DocumentIdentifier: d.DocumentIdentifier,
		DocumentCode:       d.Filename.Code,
		Result:             res,
		CostBreakdown:      costBreakdown(res),
		AutoOptimization:   optimization,
		RequestID:          clog.RequestID(ctx),
		Guidance: Guidance{
			Workflow: "Text Extraction -> Legal Analysis",
			NextSteps: []string{
				"Analyze extracted content for key legal arguments",
				"Search for CFR citations such as '37 CFR 1.137' or '37 CFR 1.181'",
				"Identify the reasoning behind the petition outcome in the decision text",
			},
		},
	}, nil
}

// extract 混合提取；OCR 开关关闭时组合根不会注入 OCR，本地解析失败直接报错
func (s *Server) extract(ctx context.Context, pdf []byte, pages int) (*extract.Result, *xerrors.Error) {
	res, e := s.deps.Extractor.Extract(ctx, pdf, pages)
	if e != nil && e.Kind == xerrors.KindExtractionConfig && !s.cfg.OCREnabled {
		return nil, xerrors.E(xerrors.KindExtractionConfig,
			"Local extraction failed - document may be scanned. OCR feature is currently disabled").
			WithStatus(http.StatusServiceUnavailable).WithCause(e)
	}
	return res, e
}

func costBreakdown(res *extract.Result) string {
	if res.Method != extract.MethodOCR {
		return "Free local extraction"
	}
	return fmt.Sprintf("$%.4f for %d pages at $0.001/page", res.CostUSD, res.PagesProcessed)
}
