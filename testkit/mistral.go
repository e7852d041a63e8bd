package testkit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// Mistral 进程内的 Mistral OCR 接口替身
//
//	POST /v1/files            multipart 上传，purpose 必须为 ocr
//	GET  /v1/files/{id}/url   返回签名 URL
//	POST /v1/ocr              返回每页 markdown 与 usage_info.pages_processed
type Mistral struct {
	*httptest.Server

	// Pages OCR 返回的每页 markdown
	Pages []string

	mu         sync.Mutex
	ocrStatus  int
	lastOCR    map[string]any
	uploads    atomic.Int64
	ocrCalls   atomic.Int64
	fileSerial atomic.Int64
}

// NewMistral 启动替身，测试结束时自动关闭
func NewMistral(t *testing.T) *Mistral {
	t.Helper()
	m := &Mistral{Pages: []string{"# Decision on Petition", "The petition is GRANTED."}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/files", m.upload)
	mux.HandleFunc("GET /v1/files/{id}/url", m.signedURL)
	mux.HandleFunc("POST /v1/ocr", m.ocr)
	m.Server = httptest.NewServer(m.auth(mux))
	t.Cleanup(m.Close)
	return m
}

// BaseURL 以 /v1 结尾的接口地址
func (m *Mistral) BaseURL() string { return m.URL + "/v1" }

// FailOCR 让之后的 OCR 请求返回给定状态码，0 表示恢复
func (m *Mistral) FailOCR(status int) {
	m.mu.Lock()
	m.ocrStatus = status
	m.mu.Unlock()
}

// Uploads 文件上传次数
func (m *Mistral) Uploads() int64 { return m.uploads.Load() }

// OCRCalls OCR 请求次数
func (m *Mistral) OCRCalls() int64 { return m.ocrCalls.Load() }

// LastOCR 最近一次 OCR 请求体
func (m *Mistral) LastOCR() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOCR
}

func (m *Mistral) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+MistralKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Mistral) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid multipart body"})
		return
	}
	if r.FormValue("purpose") != "ocr" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "purpose must be ocr"})
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "file is required"})
		return
	}
	_ = file.Close()

	m.uploads.Add(1)
	id := fmt.Sprintf("file-%d", m.fileSerial.Add(1))
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "object": "file", "purpose": "ocr"})
}

func (m *Mistral) signedURL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"url": m.URL + "/signed/" + r.PathValue("id")})
}

func (m *Mistral) ocr(w http.ResponseWriter, r *http.Request) {
	m.ocrCalls.Add(1)
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}

	m.mu.Lock()
	m.lastOCR = body
	status := m.ocrStatus
	m.mu.Unlock()
	if status != 0 {
		writeJSON(w, status, map[string]any{"message": http.StatusText(status)})
		return
	}

	pages := make([]map[string]any, 0, len(m.Pages))
	for i, md := range m.Pages {
		pages = append(pages, map[string]any{"index": i, "markdown": md})
	}
	if doc, ok := body["document"].(map[string]any); !ok || !strings.Contains(fmt.Sprint(doc["document_url"]), "/signed/") {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "document_url is required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pages":      pages,
		"model":      body["model"],
		"usage_info": map[string]any{"pages_processed": len(pages)},
	})
}
