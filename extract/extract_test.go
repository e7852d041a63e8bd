package extract

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fpdmcp/breaker"
	"github.com/ceyewan/fpdmcp/testkit"
	"github.com/ceyewan/fpdmcp/xerrors"
)

type fakeParser struct {
	text  string
	pages int
	err   error
}

func (p fakeParser) Parse(context.Context, []byte) (string, int, error) {
	return p.text, p.pages, p.err
}

type countingOCR struct {
	calls    atomic.Int32
	maxPages atomic.Int32
	result   *OCRResult
	err      error
}

func (o *countingOCR) Recognize(_ context.Context, _ []byte, maxPages int) (*OCRResult, error) {
	o.calls.Add(1)
	o.maxPages.Store(int32(maxPages))
	return o.result, o.err
}

func (o *countingOCR) Configured() bool { return true }

var cleanText = strings.Repeat("The Office of Petitions grants the petition under 37 CFR 1.137. ", 4)

func TestExtract(t *testing.T) {
	ctx := context.Background()

	t.Run("本地解析通过时不调用 OCR", func(t *testing.T) {
		ocr := &countingOCR{}
		ex, err := New(&Config{}, WithParser(fakeParser{text: cleanText, pages: 3}), WithOCR(ocr))
		require.NoError(t, err)

		res, xerr := ex.Extract(ctx, []byte("%PDF"), 0)
		require.Nil(t, xerr)
		assert.Equal(t, MethodLocalParse, res.Method)
		assert.Zero(t, res.CostUSD)
		assert.Equal(t, 3, res.PageCount)
		assert.Equal(t, cleanText, res.Text)
		assert.Zero(t, ocr.calls.Load())
	})

	t.Run("质量不足时回退到 OCR", func(t *testing.T) {
		ocr := &countingOCR{result: &OCRResult{Text: "=== PAGE 1 ===\nscan", PagesProcessed: 2, CostUSD: 0.002}}
		ex, err := New(&Config{}, WithParser(fakeParser{text: "", pages: 2}), WithOCR(ocr))
		require.NoError(t, err)

		res, xerr := ex.Extract(ctx, []byte("%PDF"), 80)
		require.Nil(t, xerr)
		assert.Equal(t, MethodOCR, res.Method)
		assert.InDelta(t, 0.002, res.CostUSD, 1e-9)
		assert.True(t, res.LocalRejected)
		assert.EqualValues(t, 1, ocr.calls.Load())
		assert.EqualValues(t, 50, ocr.maxPages.Load(), "页数上限为 50")
	})

	t.Run("解析出错也回退到 OCR", func(t *testing.T) {
		ocr := &countingOCR{result: &OCRResult{Text: "ok", PagesProcessed: 1, CostUSD: 0.001}}
		ex, err := New(&Config{}, WithParser(fakeParser{text: cleanText, err: errors.New("broken xref")}), WithOCR(ocr))
		require.NoError(t, err)

		res, xerr := ex.Extract(ctx, []byte("%PDF"), 1)
		require.Nil(t, xerr)
		assert.Equal(t, MethodOCR, res.Method)
	})

	t.Run("未配置 OCR", func(t *testing.T) {
		ex, err := New(&Config{}, WithParser(fakeParser{text: "garbage"}))
		require.NoError(t, err)
		assert.False(t, ex.OCRAvailable())

		_, xerr := ex.Extract(ctx, []byte("%PDF"), 1)
		require.NotNil(t, xerr)
		assert.Equal(t, xerrors.KindExtractionConfig, xerr.Kind)
		assert.Equal(t, http.StatusBadRequest, xerr.StatusCode())
		assert.Contains(t, xerr.Message, "MISTRAL_API_KEY")
	})

	t.Run("OCR 错误原样返回", func(t *testing.T) {
		ocr := &countingOCR{err: xerrors.E(xerrors.KindPaymentRequired, "Mistral API payment required - insufficient credits")}
		ex, err := New(&Config{}, WithParser(fakeParser{}), WithOCR(ocr))
		require.NoError(t, err)

		_, xerr := ex.Extract(ctx, []byte("%PDF"), 1)
		require.NotNil(t, xerr)
		assert.Equal(t, xerrors.KindPaymentRequired, xerr.Kind)
		assert.Equal(t, http.StatusPaymentRequired, xerr.StatusCode())
	})

	t.Run("直接 OCR", func(t *testing.T) {
		ocr := &countingOCR{result: &OCRResult{Text: "ocr", PagesProcessed: 1, CostUSD: 0.001}}
		ex, err := New(&Config{}, WithParser(fakeParser{text: cleanText}), WithOCR(ocr))
		require.NoError(t, err)

		res, xerr := ex.ExtractOCR(ctx, []byte("%PDF"), 0)
		require.Nil(t, xerr)
		assert.Equal(t, MethodOCR, res.Method)
		assert.EqualValues(t, 0, ocr.maxPages.Load())
	})
}

func TestExtractWithPDFCPU(t *testing.T) {
	ex, err := New(&Config{}, WithLogger(testkit.NewLogger()), WithMeter(testkit.NewMeter()))
	require.NoError(t, err)

	res, xerr := ex.Extract(context.Background(), testkit.BuildPDF(cleanText), 0)
	require.Nil(t, xerr)
	assert.Equal(t, MethodLocalParse, res.Method)
	assert.Equal(t, 1, res.PageCount)
	assert.Contains(t, res.Text, "Office of Petitions")
}

func newMistral(t *testing.T, srv *testkit.Mistral, key string, cb *breaker.CircuitBreaker) *Mistral {
	t.Helper()
	m, err := NewMistral(&MistralConfig{APIKey: key, BaseURL: srv.BaseURL(), Timeout: 5 * time.Second},
		WithMistralBreaker(cb), WithMistralLogger(testkit.NewLogger()))
	require.NoError(t, err)
	return m
}

func TestMistral(t *testing.T) {
	ctx := context.Background()
	pdf := testkit.BuildScannedPDF()

	t.Run("上传、签名并识别", func(t *testing.T) {
		srv := testkit.NewMistral(t)
		srv.Pages = []string{"# Decision", "  ", "GRANTED"}
		m := newMistral(t, srv, testkit.MistralKey, nil)

		out, err := m.Recognize(ctx, pdf, 3)
		require.NoError(t, err)
		assert.Equal(t, "=== PAGE 1 ===\n# Decision\n\n=== PAGE 3 ===\nGRANTED", out.Text)
		assert.Equal(t, 3, out.PagesProcessed)
		assert.InDelta(t, 0.003, out.CostUSD, 1e-9)
		assert.EqualValues(t, 1, srv.Uploads())

		body := srv.LastOCR()
		assert.Equal(t, DefaultMistralModel, body["model"])
		assert.Equal(t, []any{float64(0), float64(1), float64(2)}, body["pages"])
		assert.Equal(t, false, body["include_image_base64"])
	})

	t.Run("不限页数时不发送 pages", func(t *testing.T) {
		srv := testkit.NewMistral(t)
		m := newMistral(t, srv, testkit.MistralKey, nil)
		_, err := m.Recognize(ctx, pdf, 0)
		require.NoError(t, err)
		assert.NotContains(t, srv.LastOCR(), "pages")
	})

	t.Run("认证失败", func(t *testing.T) {
		srv := testkit.NewMistral(t)
		m := newMistral(t, srv, "WrongKey0123456789abcdefghijklmn", nil)
		_, err := m.Recognize(ctx, pdf, 1)
		require.Error(t, err)
		assert.Equal(t, xerrors.KindUpstreamAuth, xerrors.KindOf(err))
		assert.NotContains(t, err.Error(), "WrongKey")
	})

	t.Run("余额不足", func(t *testing.T) {
		srv := testkit.NewMistral(t)
		srv.FailOCR(http.StatusPaymentRequired)
		m := newMistral(t, srv, testkit.MistralKey, nil)
		_, err := m.Recognize(ctx, pdf, 1)
		assert.Equal(t, xerrors.KindPaymentRequired, xerrors.KindOf(err))
	})

	t.Run("未配置 key", func(t *testing.T) {
		srv := testkit.NewMistral(t)
		m := newMistral(t, srv, "", nil)
		assert.False(t, m.Configured())
		_, err := m.Recognize(ctx, pdf, 1)
		assert.Equal(t, xerrors.KindExtractionConfig, xerrors.KindOf(err))
		assert.Zero(t, srv.Uploads())
	})

	t.Run("服务端错误打开熔断器", func(t *testing.T) {
		srv := testkit.NewMistral(t)
		srv.FailOCR(http.StatusInternalServerError)
		cb, err := breaker.New(&breaker.Config{Name: "mistral_ocr", FailureThreshold: 2, RecoveryTimeout: time.Minute})
		require.NoError(t, err)
		m := newMistral(t, srv, testkit.MistralKey, cb)

		for i := 0; i < 2; i++ {
			_, err := m.Recognize(ctx, pdf, 1)
			assert.Equal(t, xerrors.KindUpstream, xerrors.KindOf(err))
		}
		assert.Equal(t, breaker.StateOpen, cb.State())

		_, err = m.Recognize(ctx, pdf, 1)
		assert.Equal(t, xerrors.KindCircuitOpen, xerrors.KindOf(err))
		assert.EqualValues(t, 2, srv.OCRCalls())
	})

	t.Run("计费错误不计入熔断", func(t *testing.T) {
		srv := testkit.NewMistral(t)
		srv.FailOCR(http.StatusPaymentRequired)
		cb, err := breaker.New(&breaker.Config{Name: "mistral_ocr", FailureThreshold: 1, RecoveryTimeout: time.Minute})
		require.NoError(t, err)
		m := newMistral(t, srv, testkit.MistralKey, cb)

		_, _ = m.Recognize(ctx, pdf, 1)
		assert.Equal(t, breaker.StateClosed, cb.State())
	})
}
