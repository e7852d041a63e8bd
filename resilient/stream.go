package resilient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ceyewan/fpdmcp/breaker"
	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/idgen"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// Stream 流式下载的响应，调用方负责 Close
type Stream struct {
	Status        int
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
	RequestID     string
}

// Close 关闭响应体
func (s *Stream) Close() error {
	if s == nil || s.Body == nil {
		return nil
	}
	return s.Body.Close()
}

// Open 发起流式 GET 请求，用于 PDF 下载
//
// 只有建立连接到收到响应头的阶段受熔断器保护，不重试也不占用并发信号量；
// 响应体的读取时长由 ctx 控制。5xx 与传输错误计为熔断失败。
func (c *Client) Open(ctx context.Context, rawURL, accept string) (*Stream, *xerrors.Error) {
	id := idgen.RequestID()
	ctx = clog.WithRequestID(ctx, id)
	start := time.Now()

	stream, e := c.open(ctx, id, rawURL, accept)

	labels := []metrics.Label{
		metrics.L(LabelClient, c.cfg.Name),
		metrics.L(LabelOperation, "download"),
	}
	c.duration.Record(ctx, time.Since(start).Seconds(), labels...)
	outcome := OutcomeSuccess
	if e != nil {
		outcome = outcomeOf(&Response{Err: e})
	}
	c.requests.Inc(ctx, append(labels, metrics.L(LabelOutcome, outcome))...)
	return stream, e
}

func (c *Client) open(ctx context.Context, id, rawURL, accept string) (*Stream, *xerrors.Error) {
	var (
		stream *Stream
		failed *xerrors.Error
	)
	err := c.execute(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(rawURL), nil)
		if err != nil {
			failed = xerrors.E(xerrors.KindValidation, "invalid download URL").WithCause(err)
			return nil
		}
		for k, v := range c.header {
			httpReq.Header[k] = v
		}
		if accept != "" {
			httpReq.Header.Set("Accept", accept)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if isTimeout(err) {
				failed = xerrors.E(xerrors.KindTimeout, "Download timeout - please try again").WithCause(err)
			} else {
				failed = xerrors.E(xerrors.KindUpstream, "Download failed: %v", err).WithCause(err)
			}
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetLimit))
			resp.Body.Close()
			failed = statusError(resp.StatusCode, body, resp.Header)
			if resp.StatusCode >= 500 {
				return failed
			}
			return nil
		}

		stream = &Stream{
			Status:        resp.StatusCode,
			Header:        resp.Header,
			ContentLength: resp.ContentLength,
			Body:          resp.Body,
			RequestID:     id,
		}
		return nil
	})

	switch {
	case errors.Is(err, breaker.ErrOpen):
		return nil, xerrors.E(xerrors.KindCircuitOpen,
			"Service temporarily unavailable: %s circuit breaker is open", c.cfg.Service).
			WithRequestID(id).WithCause(err)
	case failed != nil:
		c.logger.ErrorContext(ctx, "download failed", clog.Int("status", failed.StatusCode()), clog.Error(failed))
		return nil, failed.WithRequestID(id)
	case stream == nil:
		return nil, contextError(err).WithRequestID(id)
	}
	return stream, nil
}
