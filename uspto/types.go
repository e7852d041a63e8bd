package uspto

import (
	"encoding/json"
	"strings"
)

// USPTO 响应中用到的字段名
const (
	FieldDataBag            = "petitionDecisionDataBag"
	FieldRecordIdentifier   = "petitionDecisionRecordIdentifier"
	FieldApplicationNumber  = "applicationNumberText"
	FieldPatentNumber       = "patentNumber"
	FieldFirstApplicantName = "firstApplicantName"
	FieldDecisionType       = "decisionTypeCodeDescriptionText"
	FieldPetitionMailDate   = "petitionMailDate"
	FieldDecisionDate       = "decisionDate"
	FieldDecidingOffice     = "finalDecidingOfficeName"
	FieldPetitionTypeCode   = "decisionPetitionTypeCode"
	FieldPetitionTypeText   = "decisionPetitionTypeCodeDescriptionText"
	FieldArtUnit            = "groupArtUnitNumber"
	FieldTechnologyCenter   = "technologyCenter"
	FieldEntityStatus       = "businessEntityStatusCategory"
	FieldProsecutionStatus  = "prosecutionStatusCodeDescriptionText"
	FieldInventionTitle     = "inventionTitle"
	FieldIssuesConsidered   = "petitionIssueConsideredTextBag"
	FieldRuleBag            = "ruleBag"
	FieldStatuteBag         = "statuteBag"
	FieldDocumentBag        = "documentBag"
)

// MinimalFields 发现阶段返回的字段
var MinimalFields = []string{
	FieldRecordIdentifier,
	FieldApplicationNumber,
	FieldPatentNumber,
	FieldFirstApplicantName,
	FieldDecisionType,
	FieldPetitionMailDate,
	FieldDecisionDate,
	FieldDecidingOffice,
}

// BalancedFields 分析阶段返回的字段
var BalancedFields = append(append([]string{}, MinimalFields...),
	FieldPetitionTypeCode,
	FieldPetitionTypeText,
	FieldArtUnit,
	FieldTechnologyCenter,
	FieldEntityStatus,
	FieldProsecutionStatus,
	FieldInventionTitle,
	FieldIssuesConsidered,
	FieldRuleBag,
	FieldStatuteBag,
)

// Meta 响应的弹性元数据
type Meta struct {
	RequestID   string `json:"request_id,omitempty"`
	Stale       bool   `json:"_cached,omitempty"`
	CircuitOpen bool   `json:"_circuit_open,omitempty"`
	Warning     string `json:"_warning,omitempty"`
}

// SearchResult 检索结果
type SearchResult struct {
	Count     int        `json:"count"`
	Petitions []Petition `json:"petitionDecisionDataBag"`

	// 部分接口用 recordTotalQuantity 表示总数
	RecordTotalQuantity int `json:"recordTotalQuantity,omitempty"`

	Meta Meta `json:"-"`
}

// Total 结果总数
func (r *SearchResult) Total() int {
	if r.Count > 0 {
		return r.Count
	}
	if r.RecordTotalQuantity > 0 {
		return r.RecordTotalQuantity
	}
	return len(r.Petitions)
}

// Petition 申诉决定记录
//
// 只解析下载与文件名需要的字段，完整记录保留在 Raw 中，序列化时原样输出。
type Petition struct {
	ID                 string     `json:"petitionDecisionRecordIdentifier"`
	ApplicationNumber  string     `json:"applicationNumberText"`
	PatentNumber       string     `json:"patentNumber"`
	FirstApplicantName string     `json:"firstApplicantName"`
	DecisionType       string     `json:"decisionTypeCodeDescriptionText"`
	PetitionMailDate   string     `json:"petitionMailDate"`
	DecisionDate       string     `json:"decisionDate"`
	Documents          []Document `json:"documentBag"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON 解析已知字段并保留原始记录
func (p *Petition) UnmarshalJSON(data []byte) error {
	type alias Petition
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = Petition(a)
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON 优先输出原始记录
func (p Petition) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	type alias Petition
	return json.Marshal(alias(p))
}

// Project 只保留指定字段，fields 为空时返回全部字段
func (p *Petition) Project(fields []string) (map[string]json.RawMessage, error) {
	raw := p.Raw
	if len(raw) == 0 {
		var err error
		if raw, err = p.MarshalJSON(); err != nil {
			return nil, err
		}
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return all, nil
	}
	out := make(map[string]json.RawMessage, len(fields))
	for _, f := range fields {
		if v, ok := all[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

// Document 查找指定 ID 的文档
func (p *Petition) Document(identifier string) (*Document, bool) {
	for i := range p.Documents {
		if p.Documents[i].Identifier == identifier {
			return &p.Documents[i], true
		}
	}
	return nil, false
}

// Document 申诉附带的文档
type Document struct {
	Identifier      string           `json:"documentIdentifier"`
	Code            string           `json:"documentCode"`
	Description     string           `json:"documentCodeDescriptionText"`
	FileName        string           `json:"documentFileName"`
	PageCount       int              `json:"pageCount,omitempty"`
	DownloadOptions []DownloadOption `json:"downloadOptionBag"`
}

// PDF 返回 PDF 下载选项
func (d *Document) PDF() (*DownloadOption, bool) {
	for i := range d.DownloadOptions {
		if strings.EqualFold(d.DownloadOptions[i].MimeType, "PDF") {
			return &d.DownloadOptions[i], true
		}
	}
	return nil, false
}

// DownloadOption 文档的一种下载格式
type DownloadOption struct {
	MimeType  string `json:"mimeTypeIdentifier"`
	URL       string `json:"downloadUrl"`
	PageCount int    `json:"pageTotalQuantity"`
}

// DocumentDescriptor 一次下载所需的全部信息，按请求组装，不持久化
type DocumentDescriptor struct {
	PetitionID         string
	DocumentIdentifier string
	DownloadURL        string
	MimeType           string
	PageCount          int
	Filename           FilenameParts
}

// ApplicationNumber 申请号，缺失时为 "UNKNOWN"
func (d *DocumentDescriptor) ApplicationNumber() string {
	if n := strings.TrimSpace(d.Filename.ApplicationNumber); n != "" {
		return n
	}
	return "UNKNOWN"
}

// PatentNumber 专利号，缺失时为 "NONE"
func (d *DocumentDescriptor) PatentNumber() string {
	if n := strings.TrimSpace(d.Filename.PatentNumber); n != "" {
		return n
	}
	return "NONE"
}
