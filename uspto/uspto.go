// Package uspto 是 USPTO 最终申诉决定（FPD）接口的类型化客户端。
//
// 所有请求都经过 resilient.Client，因此自带熔断、重试与缓存降级。方法返回
// *xerrors.Error 而不是 error，调用方可以直接把它序列化为工具的错误响应。
package uspto

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/resilient"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// DefaultBaseURL USPTO Open Data Portal 的申诉决定接口
const DefaultBaseURL = "https://api.uspto.gov/api/v1/petition/decisions"

// 默认检索条数
const (
	DefaultArtUnitLimit     = 50
	DefaultApplicationLimit = 100
	DefaultSearchLimit      = 25
)

// ErrAPINil 弹性客户端为空
var ErrAPINil = xerrors.New("uspto: api client is nil")

// Option 客户端选项
type Option func(*Client)

// WithLogger 设置日志记录器
func WithLogger(l clog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l.WithNamespace("uspto")
		}
	}
}

// Client FPD 接口客户端，并发安全
type Client struct {
	api    *resilient.Client
	logger clog.Logger
}

// New 创建客户端
func New(api *resilient.Client, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, ErrAPINil
	}
	c := &Client{api: api, logger: clog.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// API 底层弹性客户端
func (c *Client) API() *resilient.Client { return c.api }

// SortField 排序条件
type SortField struct {
	Field string `json:"field"`
	Order string `json:"order"`
}

// Filter 精确值过滤
type Filter struct {
	Name  string   `json:"name"`
	Value []string `json:"value"`
}

// RangeFilter 区间过滤
type RangeFilter struct {
	Field     string `json:"field"`
	ValueFrom string `json:"valueFrom"`
	ValueTo   string `json:"valueTo"`
}

// SearchParams 检索参数
type SearchParams struct {
	Query        string
	Filters      []Filter
	RangeFilters []RangeFilter
	Fields       []string
	// Sort 形如 "petitionMailDate desc"
	Sort   string
	Offset int
	Limit  int
}

type pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type searchBody struct {
	Pagination   pagination    `json:"pagination"`
	Q            string        `json:"q,omitempty"`
	Filters      []Filter      `json:"filters,omitempty"`
	RangeFilters []RangeFilter `json:"rangeFilters,omitempty"`
	Fields       []string      `json:"fields,omitempty"`
	Sort         []SortField   `json:"sort,omitempty"`
}

func (p SearchParams) body() searchBody {
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	b := searchBody{
		Pagination:   pagination{Limit: ClampLimit(p.Limit, DefaultSearchLimit), Offset: offset},
		Q:            strings.TrimSpace(p.Query),
		Filters:      p.Filters,
		RangeFilters: p.RangeFilters,
		Fields:       p.Fields,
	}
	if parts := strings.Fields(p.Sort); len(parts) == 2 {
		b.Sort = []SortField{{Field: parts[0], Order: strings.ToLower(parts[1])}}
	}
	return b
}

// Search 检索申诉决定
func (c *Client) Search(ctx context.Context, p SearchParams) (*SearchResult, *xerrors.Error) {
	resp := c.api.Do(ctx, resilient.Request{
		Method:    http.MethodPost,
		Endpoint:  "search",
		Body:      p.body(),
		Operation: "search",
	})

	var result SearchResult
	if err := resp.Decode(&result); err != nil {
		return nil, xerrors.From(err)
	}
	result.Meta = metaOf(resp)
	return &result, nil
}

// SearchByArtUnit 按审查单元检索，dateRange 形如 "2020-01-01:2024-12-31"
func (c *Client) SearchByArtUnit(ctx context.Context, artUnit, dateRange string, limit int) (*SearchResult, *xerrors.Error) {
	unit, err := validateString("art_unit", artUnit, 10)
	if err != nil {
		return nil, xerrors.From(err)
	}
	if unit == "" {
		return nil, xerrors.E(xerrors.KindValidation, "art_unit is required")
	}

	p := SearchParams{
		Query:  FieldArtUnit + ":" + unit,
		Fields: BalancedFields,
		Limit:  ClampLimit(limit, DefaultArtUnitLimit),
	}
	if dateRange = strings.TrimSpace(dateRange); dateRange != "" {
		from, to, ok := strings.Cut(dateRange, ":")
		if !ok {
			return nil, xerrors.E(xerrors.KindValidation, "date_range must be 'YYYY-MM-DD:YYYY-MM-DD'")
		}
		if from, err = ValidateDate(from); err != nil {
			return nil, xerrors.From(err)
		}
		if to, err = ValidateDate(to); err != nil {
			return nil, xerrors.From(err)
		}
		p.RangeFilters = []RangeFilter{{Field: FieldPetitionMailDate, ValueFrom: from, ValueTo: to}}
	}
	return c.Search(ctx, p)
}

// SearchByApplication 检索某个申请号下的全部申诉，includeDocuments 为 false 时不返回文档列表
func (c *Client) SearchByApplication(ctx context.Context, applicationNumber string, includeDocuments bool) (*SearchResult, *xerrors.Error) {
	app, err := ValidateApplicationNumber(applicationNumber)
	if err != nil {
		return nil, xerrors.From(err)
	}
	if app == "" {
		return nil, xerrors.E(xerrors.KindValidation, "application_number is required")
	}

	p := SearchParams{
		Query: FieldApplicationNumber + ":" + app,
		Limit: DefaultApplicationLimit,
	}
	if !includeDocuments {
		p.Fields = applicationFields
	}
	return c.Search(ctx, p)
}

var applicationFields = []string{
	FieldRecordIdentifier,
	FieldApplicationNumber,
	FieldPatentNumber,
	FieldFirstApplicantName,
	FieldDecisionType,
	FieldPetitionMailDate,
	FieldDecisionDate,
	FieldDecidingOffice,
	FieldPetitionTypeCode,
	FieldPetitionTypeText,
	FieldArtUnit,
	FieldTechnologyCenter,
	FieldProsecutionStatus,
	FieldIssuesConsidered,
	FieldRuleBag,
	FieldStatuteBag,
}

// GetPetition 获取单条申诉决定
func (c *Client) GetPetition(ctx context.Context, petitionID string, includeDocuments bool) (*Petition, Meta, *xerrors.Error) {
	petitionID = strings.TrimSpace(petitionID)
	if petitionID == "" {
		return nil, Meta{}, xerrors.E(xerrors.KindValidation, "petition_id is required")
	}

	var query url.Values
	if includeDocuments {
		query = url.Values{"includeDocuments": {"true"}}
	}
	resp := c.api.Do(ctx, resilient.Request{
		Method:    http.MethodGet,
		Endpoint:  url.PathEscape(petitionID),
		Query:     query,
		Operation: "get_petition",
	})

	var result SearchResult
	if err := resp.Decode(&result); err != nil {
		return nil, metaOf(resp), xerrors.From(err)
	}
	meta := metaOf(resp)
	if len(result.Petitions) == 0 {
		return nil, meta, xerrors.E(xerrors.KindNotFound, "Petition data not found").WithRequestID(meta.RequestID)
	}
	return &result.Petitions[0], meta, nil
}

// Document 解析下载一份文档所需的信息
func (c *Client) Document(ctx context.Context, petitionID, documentIdentifier string) (*DocumentDescriptor, *xerrors.Error) {
	documentIdentifier = strings.TrimSpace(documentIdentifier)
	if documentIdentifier == "" {
		return nil, xerrors.E(xerrors.KindValidation, "document_identifier is required")
	}

	petition, meta, e := c.GetPetition(ctx, petitionID, true)
	if e != nil {
		return nil, e
	}
	return Describe(petition, documentIdentifier, meta.RequestID)
}

// Describe 从已获取的申诉记录中组装文档描述
func Describe(p *Petition, documentIdentifier, requestID string) (*DocumentDescriptor, *xerrors.Error) {
	doc, ok := p.Document(documentIdentifier)
	if !ok {
		return nil, xerrors.E(xerrors.KindNotFound, "Document with identifier '%s' not found", documentIdentifier).
			WithRequestID(requestID)
	}
	pdf, ok := doc.PDF()
	if !ok {
		return nil, xerrors.E(xerrors.KindNotFound, "PDF not available for this document").WithRequestID(requestID)
	}
	if strings.TrimSpace(pdf.URL) == "" {
		return nil, xerrors.E(xerrors.KindNotFound, "Download URL not available").WithRequestID(requestID)
	}

	pages := pdf.PageCount
	if pages == 0 {
		pages = doc.PageCount
	}
	return &DocumentDescriptor{
		PetitionID:         p.ID,
		DocumentIdentifier: doc.Identifier,
		DownloadURL:        pdf.URL,
		MimeType:           pdf.MimeType,
		PageCount:          pages,
		Filename: FilenameParts{
			PetitionMailDate:  p.PetitionMailDate,
			ApplicationNumber: p.ApplicationNumber,
			PatentNumber:      p.PatentNumber,
			Description:       doc.Description,
			Code:              doc.Code,
		},
	}, nil
}

// Open 打开文档的下载流，调用方负责关闭
func (c *Client) Open(ctx context.Context, d *DocumentDescriptor) (*resilient.Stream, *xerrors.Error) {
	return c.api.Open(ctx, d.DownloadURL, "application/pdf")
}

// DownloadBytes 下载整份文档，超过 maxBytes 时返回校验错误
func (c *Client) DownloadBytes(ctx context.Context, d *DocumentDescriptor, maxBytes int64) ([]byte, *xerrors.Error) {
	stream, e := c.Open(ctx, d)
	if e != nil {
		return nil, e
	}
	defer stream.Close()

	data, err := io.ReadAll(io.LimitReader(stream.Body, maxBytes+1))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.E(xerrors.KindTimeout, "Download timeout - please try again").
				WithRequestID(stream.RequestID).WithCause(err)
		}
		return nil, xerrors.E(xerrors.KindUpstream, "Download failed: %v", err).
			WithRequestID(stream.RequestID).WithCause(err)
	}
	if int64(len(data)) > maxBytes {
		return nil, xerrors.E(xerrors.KindValidation, "Document exceeds %d bytes", maxBytes).
			WithRequestID(stream.RequestID)
	}
	c.logger.InfoContext(ctx, "document downloaded",
		clog.String("petition_id", d.PetitionID),
		clog.String("document_identifier", d.DocumentIdentifier),
		clog.Int("bytes", len(data)))
	return data, nil
}

func metaOf(resp *resilient.Response) Meta {
	return Meta{
		RequestID:   resp.RequestID,
		Stale:       resp.Stale,
		CircuitOpen: resp.CircuitOpen,
		Warning:     resp.Warning,
	}
}
