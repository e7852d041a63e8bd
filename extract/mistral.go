package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ceyewan/fpdmcp/breaker"
	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// Mistral OCR 默认值
const (
	DefaultMistralBaseURL = "https://api.mistral.ai/v1"
	DefaultMistralModel   = "mistral-ocr-latest"

	// PricePerPage 每页价格（美元）
	PricePerPage = 0.001
)

// MistralConfig Mistral OCR 客户端配置
type MistralConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxConcurrent 同时进行的 OCR 任务数（默认：2）
	MaxConcurrent int64 `mapstructure:"max_concurrent"`
}

func (c *MistralConfig) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultMistralBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = DefaultMistralModel
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
}

// Mistral 调用 Mistral OCR 的客户端，实现 OCR 接口
//
// 一次识别包含三个请求：上传文件、获取签名 URL、提交 OCR。整个过程受
// mistral_ocr 熔断器保护，Timeout 覆盖全部三个请求。OCR 按页计费，不做重试。
type Mistral struct {
	cfg        *MistralConfig
	httpClient *http.Client
	breaker    *breaker.CircuitBreaker
	sem        *semaphore.Weighted
	logger     clog.Logger
}

// MistralOption Mistral 客户端选项
type MistralOption func(*Mistral)

// WithMistralLogger 设置日志记录器
func WithMistralLogger(l clog.Logger) MistralOption {
	return func(m *Mistral) {
		if l != nil {
			m.logger = l.WithNamespace("mistral")
		}
	}
}

// WithMistralBreaker 设置熔断器
func WithMistralBreaker(cb *breaker.CircuitBreaker) MistralOption {
	return func(m *Mistral) {
		m.breaker = cb
	}
}

// WithMistralHTTPClient 使用自定义 http.Client
func WithMistralHTTPClient(c *http.Client) MistralOption {
	return func(m *Mistral) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// NewMistral 创建客户端；APIKey 为空时 Configured 返回 false
func NewMistral(cfg *MistralConfig, opts ...MistralOption) (*Mistral, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()

	m := &Mistral{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:     clog.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Configured API key 是否已配置
func (m *Mistral) Configured() bool {
	return m != nil && m.cfg.APIKey != ""
}

// Breaker 使用的熔断器，可能为 nil
func (m *Mistral) Breaker() *breaker.CircuitBreaker { return m.breaker }

// Recognize 上传 PDF 并识别前 maxPages 页
func (m *Mistral) Recognize(ctx context.Context, pdf []byte, maxPages int) (*OCRResult, error) {
	if !m.Configured() {
		return nil, xerrors.E(xerrors.KindExtractionConfig, "MISTRAL_API_KEY required for OCR extraction")
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, xerrors.From(err)
	}
	defer m.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	var (
		result *OCRResult
		failed *xerrors.Error
	)
	run := func(ctx context.Context) error {
		result, failed = m.recognize(ctx, pdf, maxPages)
		if failed != nil && countsAsFailure(failed) {
			return failed
		}
		return nil
	}

	var err error
	if m.breaker != nil {
		err = m.breaker.Execute(ctx, run)
	} else {
		err = run(ctx)
	}

	switch {
	case errors.Is(err, breaker.ErrOpen):
		return nil, xerrors.E(xerrors.KindCircuitOpen,
			"Service temporarily unavailable: Mistral OCR circuit breaker is open").WithCause(err)
	case failed != nil:
		m.logger.ErrorContext(ctx, "OCR failed", clog.String("kind", string(failed.Kind)), clog.Error(failed))
		return nil, failed
	case err != nil:
		return nil, xerrors.From(err)
	}
	return result, nil
}

// countsAsFailure 只有服务端故障计入熔断，认证与计费问题不计入
func countsAsFailure(e *xerrors.Error) bool {
	switch e.Kind {
	case xerrors.KindUpstreamAuth, xerrors.KindPaymentRequired, xerrors.KindExtractionConfig:
		return false
	case xerrors.KindUpstream:
		return e.StatusCode() >= 500
	}
	return true
}

func (m *Mistral) recognize(ctx context.Context, pdf []byte, maxPages int) (*OCRResult, *xerrors.Error) {
	fileID, e := m.upload(ctx, pdf)
	if e != nil {
		return nil, e
	}

	var signed struct {
		URL string `json:"url"`
	}
	if e := m.call(ctx, http.MethodGet, "/files/"+fileID+"/url?expiry=24", nil, "", &signed); e != nil {
		return nil, e
	}
	if signed.URL == "" {
		return nil, xerrors.E(xerrors.KindUpstream, "Failed to obtain signed URL from Mistral OCR service")
	}

	payload := map[string]any{
		"model":                m.cfg.Model,
		"document":             map[string]any{"type": "document_url", "document_url": signed.URL},
		"include_image_base64": false,
	}
	if maxPages > 0 {
		pages := make([]int, maxPages)
		for i := range pages {
			pages[i] = i
		}
		payload["pages"] = pages
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.E(xerrors.KindInternal, "encode OCR request").WithCause(err)
	}

	var out struct {
		Pages []struct {
			Index    int    `json:"index"`
			Markdown string `json:"markdown"`
		} `json:"pages"`
		UsageInfo struct {
			PagesProcessed int `json:"pages_processed"`
		} `json:"usage_info"`
	}
	if e := m.call(ctx, http.MethodPost, "/ocr", bytes.NewReader(body), "application/json", &out); e != nil {
		return nil, e
	}

	parts := make([]string, 0, len(out.Pages))
	for _, p := range out.Pages {
		if strings.TrimSpace(p.Markdown) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("=== PAGE %d ===\n%s", p.Index+1, p.Markdown))
	}
	processed := out.UsageInfo.PagesProcessed
	return &OCRResult{
		Text:           strings.Join(parts, "\n\n"),
		PagesProcessed: processed,
		CostUSD:        float64(processed) * PricePerPage,
	}, nil
}

func (m *Mistral) upload(ctx context.Context, pdf []byte) (string, *xerrors.Error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", "ocr"); err != nil {
		return "", xerrors.E(xerrors.KindInternal, "build upload body").WithCause(err)
	}
	part, err := w.CreateFormFile("file", "document.pdf")
	if err != nil {
		return "", xerrors.E(xerrors.KindInternal, "build upload body").WithCause(err)
	}
	if _, err := part.Write(pdf); err != nil {
		return "", xerrors.E(xerrors.KindInternal, "build upload body").WithCause(err)
	}
	if err := w.Close(); err != nil {
		return "", xerrors.E(xerrors.KindInternal, "build upload body").WithCause(err)
	}

	var uploaded struct {
		ID string `json:"id"`
	}
	if e := m.call(ctx, http.MethodPost, "/files", &buf, w.FormDataContentType(), &uploaded); e != nil {
		return "", e
	}
	if uploaded.ID == "" {
		return "", xerrors.E(xerrors.KindUpstream, "Failed to upload file to Mistral OCR service")
	}
	return uploaded.ID, nil
}

func (m *Mistral) call(ctx context.Context, method, path string, body io.Reader, contentType string, out any) *xerrors.Error {
	req, err := http.NewRequestWithContext(ctx, method, m.cfg.BaseURL+path, body)
	if err != nil {
		return xerrors.E(xerrors.KindInternal, "build OCR request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return xerrors.E(xerrors.KindTimeout,
				"OCR operation timed out after %s - PDF may be too large or complex", m.cfg.Timeout).WithCause(err)
		}
		if errors.Is(err, context.Canceled) {
			return xerrors.E(xerrors.KindTimeout, "OCR request canceled").WithCause(err)
		}
		return xerrors.E(xerrors.KindUpstream, "Mistral API request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return xerrors.E(xerrors.KindUpstream, "read Mistral API response").WithCause(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return xerrors.E(xerrors.KindUpstreamAuth, "Mistral API authentication failed - check MISTRAL_API_KEY")
	case resp.StatusCode == http.StatusPaymentRequired:
		return xerrors.E(xerrors.KindPaymentRequired, "Mistral API payment required - insufficient credits")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		text := string(data)
		if len(text) > 500 {
			text = text[:500]
		}
		return xerrors.E(xerrors.KindUpstream, "Mistral API error %d: %s", resp.StatusCode, text).
			WithStatus(resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return xerrors.E(xerrors.KindUpstream, "invalid JSON from Mistral API").WithCause(err)
	}
	return nil
}
