package uspto

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ceyewan/fpdmcp/xerrors"
)

// 检索限制
const (
	MinSearchLimit = 1
	MaxSearchLimit = 200
	MaxQueryLength = 2000
)

// Tier 检索工具的层级，决定可用的便捷参数与返回字段
type Tier int

const (
	TierMinimal Tier = iota
	TierBalanced
)

func (t Tier) String() string {
	if t == TierBalanced {
		return "balanced"
	}
	return "minimal"
}

// Fields 该层级返回的字段
func (t Tier) Fields() []string {
	if t == TierBalanced {
		return BalancedFields
	}
	return MinimalFields
}

// Criteria 便捷检索参数，与自由查询 Query 以 AND 组合
type Criteria struct {
	Query string `json:"query,omitempty"`

	ApplicantName     string `json:"applicant_name,omitempty"`
	ApplicationNumber string `json:"application_number,omitempty"`
	PatentNumber      string `json:"patent_number,omitempty"`
	DecisionType      string `json:"decision_type,omitempty"`
	DecidingOffice    string `json:"deciding_office,omitempty"`
	PetitionDateStart string `json:"petition_date_start,omitempty"`
	PetitionDateEnd   string `json:"petition_date_end,omitempty"`
	DecisionDateStart string `json:"decision_date_start,omitempty"`
	DecisionDateEnd   string `json:"decision_date_end,omitempty"`

	// 以下仅 balanced 层级可用
	PetitionTypeCode  string `json:"petition_type_code,omitempty"`
	ArtUnit           string `json:"art_unit,omitempty"`
	TechnologyCenter  string `json:"technology_center,omitempty"`
	ProsecutionStatus string `json:"prosecution_status,omitempty"`
	EntityStatus      string `json:"entity_status,omitempty"`
}

func (c Criteria) hasBalancedParams() bool {
	return c.PetitionTypeCode != "" || c.ArtUnit != "" || c.TechnologyCenter != "" ||
		c.ProsecutionStatus != "" || c.EntityStatus != ""
}

// BuildQuery 把便捷参数组合为 USPTO 查询串
//
// 返回的 map 记录实际使用的参数。所有参数都为空时返回校验错误。
func BuildQuery(c Criteria, tier Tier) (string, map[string]string, error) {
	var (
		parts []string
		used  = map[string]string{}
	)
	add := func(name, value, clause string) {
		parts = append(parts, clause)
		used[name] = value
	}

	if q := strings.TrimSpace(c.Query); q != "" {
		add("base_query", q, "("+q+")")
	}

	type stringParam struct {
		name, value string
		max         int
		format      func(v string) string
	}
	params := []stringParam{
		{"applicant_name", c.ApplicantName, 200, quoted(FieldFirstApplicantName)},
		{"patent_number", c.PatentNumber, 15, plain(FieldPatentNumber)},
		{"decision_type", c.DecisionType, 50, plain(FieldDecisionType)},
		{"deciding_office", c.DecidingOffice, 200, quoted(FieldDecidingOffice)},
	}

	// 申请号在姓名之后、专利号之前
	v, err := validateString(params[0].name, params[0].value, params[0].max)
	if err != nil {
		return "", nil, err
	}
	if v != "" {
		add(params[0].name, v, params[0].format(v))
	}
	app, err := ValidateApplicationNumber(c.ApplicationNumber)
	if err != nil {
		return "", nil, err
	}
	if app != "" {
		add("application_number", app, FieldApplicationNumber+":"+app)
	}
	for _, p := range params[1:] {
		v, err := validateString(p.name, p.value, p.max)
		if err != nil {
			return "", nil, err
		}
		if v != "" {
			add(p.name, v, p.format(v))
		}
	}

	for _, r := range []struct {
		name, field, start, end string
	}{
		{"petition_date_range", FieldPetitionMailDate, c.PetitionDateStart, c.PetitionDateEnd},
		{"decision_date_range", FieldDecisionDate, c.DecisionDateStart, c.DecisionDateEnd},
	} {
		clause, rng, err := dateRange(r.field, r.start, r.end)
		if err != nil {
			return "", nil, err
		}
		if clause != "" {
			add(r.name, rng, clause)
		}
	}

	if tier == TierBalanced {
		for _, p := range []stringParam{
			{"petition_type_code", c.PetitionTypeCode, 10, plain(FieldPetitionTypeCode)},
			{"art_unit", c.ArtUnit, 10, plain(FieldArtUnit)},
			{"technology_center", c.TechnologyCenter, 10, plain(FieldTechnologyCenter)},
			{"prosecution_status", c.ProsecutionStatus, 200, quoted(FieldProsecutionStatus)},
			{"entity_status", c.EntityStatus, 50, quoted(FieldEntityStatus)},
		} {
			v, err := validateString(p.name, p.value, p.max)
			if err != nil {
				return "", nil, err
			}
			if v != "" {
				add(p.name, v, p.format(v))
			}
		}
	} else if c.hasBalancedParams() {
		return "", nil, xerrors.E(xerrors.KindValidation,
			"Parameters petition_type_code, art_unit, technology_center, prosecution_status, "+
				"and entity_status are only available in Search_petitions_balanced")
	}

	if len(parts) == 0 {
		return "", nil, xerrors.E(xerrors.KindValidation,
			"Must provide either 'query' parameter or at least one convenience parameter")
	}

	query := strings.Join(parts, " AND ")
	if len(query) > MaxQueryLength {
		return "", nil, xerrors.E(xerrors.KindValidation, "Combined query too long (max %d characters)", MaxQueryLength)
	}
	return query, used, nil
}

func plain(field string) func(string) string {
	return func(v string) string { return field + ":" + v }
}

func quoted(field string) func(string) string {
	return func(v string) string { return field + `:"` + v + `"` }
}

func dateRange(field, start, end string) (string, string, error) {
	s, err := ValidateDate(start)
	if err != nil {
		return "", "", err
	}
	e, err := ValidateDate(end)
	if err != nil {
		return "", "", err
	}
	if s == "" && e == "" {
		return "", "", nil
	}
	if s == "" {
		s = "*"
	}
	if e == "" {
		e = "*"
	}
	rng := s + " TO " + e
	return fmt.Sprintf("%s:[%s]", field, rng), rng, nil
}

var (
	datePattern       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	suspiciousPattern = regexp.MustCompile(`[<>"'\\/\x00-\x1f]`)
)

// ValidateDate 校验 YYYY-MM-DD 日期，年份在 1990 到今年 +5 之间；空串返回空串
func ValidateDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if !datePattern.MatchString(s) {
		return "", xerrors.E(xerrors.KindValidation, "Date must be in YYYY-MM-DD format (e.g., '2024-01-01')")
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return "", xerrors.E(xerrors.KindValidation, "Invalid date. Please check year, month, and day values.")
	}
	maxYear := time.Now().Year() + 5
	if t.Year() < 1990 || t.Year() > maxYear {
		return "", xerrors.E(xerrors.KindValidation, "Date year must be between 1990 and %d", maxYear)
	}
	return s, nil
}

// ValidateApplicationNumber 去除空格与斜杠后要求 6 到 10 位数字；空串返回空串
func ValidateApplicationNumber(s string) (string, error) {
	clean := strings.NewReplacer("/", "", " ", "").Replace(strings.TrimSpace(s))
	if clean == "" {
		return "", nil
	}
	if len(clean) < 6 || len(clean) > 10 {
		return "", xerrors.E(xerrors.KindValidation, "Application number should be 6-10 digits")
	}
	for _, r := range clean {
		if r < '0' || r > '9' {
			return "", xerrors.E(xerrors.KindValidation, "Application number should contain only digits")
		}
	}
	return clean, nil
}

// validateString 去除首尾空白并检查长度与可疑字符；空串返回空串
func validateString(name, value string, max int) (string, error) {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return "", nil
	}
	if len(clean) > max {
		return "", xerrors.E(xerrors.KindValidation, "%s too long. Maximum %d characters.", name, max)
	}
	if suspiciousPattern.MatchString(clean) {
		return "", xerrors.E(xerrors.KindValidation, "%s contains invalid characters.", name)
	}
	return clean, nil
}

// ClampLimit 把 limit 限制在 [MinSearchLimit, MaxSearchLimit]，0 使用默认值
func ClampLimit(limit, def int) int {
	if limit == 0 {
		limit = def
	}
	if limit < MinSearchLimit {
		return MinSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}
