package testkit

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
)

// PetitionSpec 生成假申诉记录的参数，零值字段由 gofakeit 填充
type PetitionSpec struct {
	ID                string
	ApplicationNumber string
	PatentNumber      string
	ApplicantName     string
	PetitionMailDate  string
	DecisionType      string
	// Documents 附带的文档数量，每份都有 PDF 下载选项
	Documents int
	// PDF 文档内容，默认 BuildPDF 生成的一页 PDF
	PDF []byte
}

// FakePetition 已登记的假申诉
type FakePetition struct {
	ID                string
	ApplicationNumber string
	PatentNumber      string
	PetitionMailDate  string
	DocumentIDs       []string
}

// USPTO 进程内的 USPTO 申诉决定接口替身
//
//	POST /search           返回全部申诉，遵守 pagination.limit
//	GET  /{id}             返回单条申诉，includeDocuments=true 时带文档
//	GET  /download/{doc}   返回 PDF
//
// 所有请求都要求 X-API-KEY 等于 APIKey。
type USPTO struct {
	*httptest.Server

	mu        sync.Mutex
	petitions []map[string]any
	byID      map[string]map[string]any
	pdfs      map[string][]byte
	bodies    []map[string]any
	failures  []int

	requests  atomic.Int64
	downloads atomic.Int64
}

// NewUSPTO 启动替身，测试结束时自动关闭
func NewUSPTO(t *testing.T) *USPTO {
	t.Helper()
	u := &USPTO{
		byID: make(map[string]map[string]any),
		pdfs: make(map[string][]byte),
	}
	u.Server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.Close)
	return u
}

// AddPetition 登记一条申诉
func (u *USPTO) AddPetition(spec PetitionSpec) FakePetition {
	if spec.ID == "" {
		spec.ID = gofakeit.UUID()
	}
	if spec.ApplicationNumber == "" {
		spec.ApplicationNumber = gofakeit.Numerify("1#######")
	}
	if spec.ApplicantName == "" {
		spec.ApplicantName = gofakeit.Company()
	}
	if spec.PetitionMailDate == "" {
		spec.PetitionMailDate = "2024-03-15"
	}
	if spec.DecisionType == "" {
		spec.DecisionType = "GRANTED"
	}
	if spec.PDF == nil {
		spec.PDF = BuildPDF(gofakeit.Paragraph(1, 4, 12, " "))
	}

	fp := FakePetition{
		ID:                spec.ID,
		ApplicationNumber: spec.ApplicationNumber,
		PatentNumber:      spec.PatentNumber,
		PetitionMailDate:  spec.PetitionMailDate,
	}

	docs := make([]map[string]any, 0, spec.Documents)
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := 0; i < spec.Documents; i++ {
		docID := strings.ToUpper(gofakeit.LetterN(4)) + gofakeit.Numerify("######")
		fp.DocumentIDs = append(fp.DocumentIDs, docID)
		u.pdfs[docID] = spec.PDF
		docs = append(docs, map[string]any{
			"documentIdentifier":          docID,
			"documentCode":                "PET.DEC",
			"documentCodeDescriptionText": "Petition Decision",
			"documentFileName":            docID + ".pdf",
			"downloadOptionBag": []map[string]any{{
				"mimeTypeIdentifier": "PDF",
				"downloadUrl":        u.URL + "/download/" + docID,
				"pageTotalQuantity":  2,
			}},
		})
	}

	record := map[string]any{
		"petitionDecisionRecordIdentifier": spec.ID,
		"applicationNumberText":            spec.ApplicationNumber,
		"firstApplicantName":               spec.ApplicantName,
		"decisionTypeCodeDescriptionText":  spec.DecisionType,
		"petitionMailDate":                 spec.PetitionMailDate,
		"decisionDate":                     spec.PetitionMailDate,
		"finalDecidingOfficeName":          "OFFICE OF PETITIONS",
		"groupArtUnitNumber":               "2128",
		"documentBag":                      docs,
	}
	if spec.PatentNumber != "" {
		record["patentNumber"] = spec.PatentNumber
	}
	u.petitions = append(u.petitions, record)
	u.byID[spec.ID] = record
	return fp
}

// SetDocument 直接修改某条申诉的文档列表，用于构造缺少 PDF 等边界情况
func (u *USPTO) SetDocument(petitionID string, docs []map[string]any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if rec, ok := u.byID[petitionID]; ok {
		rec["documentBag"] = docs
	}
}

// FailNext 让接下来的请求依次返回给定状态码
func (u *USPTO) FailNext(statuses ...int) {
	u.mu.Lock()
	u.failures = append(u.failures, statuses...)
	u.mu.Unlock()
}

// Requests 收到的请求总数
func (u *USPTO) Requests() int64 { return u.requests.Load() }

// Downloads 成功的 PDF 下载次数
func (u *USPTO) Downloads() int64 { return u.downloads.Load() }

// LastSearch 最近一次检索请求体
func (u *USPTO) LastSearch() map[string]any {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.bodies) == 0 {
		return nil
	}
	return u.bodies[len(u.bodies)-1]
}

func (u *USPTO) serve(w http.ResponseWriter, r *http.Request) {
	u.requests.Add(1)
	if r.Header.Get("X-API-KEY") != APIKey {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "Forbidden"})
		return
	}

	u.mu.Lock()
	if len(u.failures) > 0 {
		status := u.failures[0]
		u.failures = u.failures[1:]
		u.mu.Unlock()
		writeJSON(w, status, map[string]any{"message": http.StatusText(status)})
		return
	}
	u.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodPost && path == "search":
		u.search(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "download/"):
		u.download(w, strings.TrimPrefix(path, "download/"))
	case r.Method == http.MethodGet:
		u.petition(w, r, path)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	}
}

func (u *USPTO) search(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	data, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(data, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}

	u.mu.Lock()
	u.bodies = append(u.bodies, body)
	bag := append([]map[string]any(nil), u.petitions...)
	u.mu.Unlock()

	if p, ok := body["pagination"].(map[string]any); ok {
		if limit, ok := p["limit"].(float64); ok && int(limit) < len(bag) {
			bag = bag[:int(limit)]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(bag), "petitionDecisionDataBag": bag})
}

func (u *USPTO) petition(w http.ResponseWriter, r *http.Request, id string) {
	u.mu.Lock()
	rec, ok := u.byID[id]
	var out map[string]any
	if ok {
		out = make(map[string]any, len(rec))
		for k, v := range rec {
			if k == "documentBag" && r.URL.Query().Get("includeDocuments") != "true" {
				continue
			}
			out[k] = v
		}
	}
	u.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"count": 0, "petitionDecisionDataBag": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": 1, "petitionDecisionDataBag": []any{out}})
}

func (u *USPTO) download(w http.ResponseWriter, docID string) {
	u.mu.Lock()
	pdf, ok := u.pdfs[docID]
	u.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		return
	}
	u.downloads.Add(1)
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
