package resilient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ceyewan/fpdmcp/breaker"
	"github.com/ceyewan/fpdmcp/cache"
	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/idgen"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// ErrConfigNil 配置为空
var ErrConfigNil = xerrors.New("resilient: config is nil")

// ErrBodyTooLarge 响应体超过 MaxBodyBytes
var ErrBodyTooLarge = xerrors.New("resilient: response body too large")

// errorSnippetLimit 错误消息中保留的上游响应体长度
const errorSnippetLimit = 500

// Client 弹性 HTTP 客户端，并发安全
type Client struct {
	cfg        *Config
	httpClient *http.Client
	header     http.Header
	breaker    *breaker.CircuitBreaker
	cache      *cache.ResponseCache
	sem        *semaphore.Weighted
	logger     clog.Logger

	jitterMin time.Duration
	jitterMax time.Duration
	sleep     func(ctx context.Context, d time.Duration) error

	requests metrics.Counter
	retries  metrics.Counter
	duration metrics.Histogram
}

// New 创建客户端
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = NewHTTPClient(PoolConfig{})
	}

	requests, err := o.meter.Counter(MetricRequests, "Total number of upstream API requests")
	if err != nil {
		return nil, xerrors.Wrap(err, "resilient: create request counter")
	}
	retries, err := o.meter.Counter(MetricRetries, "Total number of upstream API retries")
	if err != nil {
		return nil, xerrors.Wrap(err, "resilient: create retry counter")
	}
	duration, err := o.meter.Histogram(MetricDuration, "Upstream API request duration in seconds, retries included",
		metrics.WithUnit("s"), metrics.WithBuckets(metrics.DefaultDurationBuckets))
	if err != nil {
		return nil, xerrors.Wrap(err, "resilient: create duration histogram")
	}

	return &Client{
		cfg:        cfg,
		httpClient: o.httpClient,
		header:     o.header,
		breaker:    o.breaker,
		cache:      o.cache,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:     o.logger.With(clog.String("client", cfg.Name)),
		jitterMin:  o.jitterMin,
		jitterMax:  o.jitterMax,
		sleep:      sleepContext,
		requests:   requests,
		retries:    retries,
		duration:   duration,
	}, nil
}

// Name 客户端名称
func (c *Client) Name() string { return c.cfg.Name }

// Breaker 客户端使用的熔断器，可能为 nil
func (c *Client) Breaker() *breaker.CircuitBreaker { return c.breaker }

// Do 执行请求
//
// 返回值永不为 nil。只有成功（或缓存降级）时 Err 为 nil。
func (c *Client) Do(ctx context.Context, req Request) *Response {
	id := idgen.RequestID()
	ctx = clog.WithRequestID(ctx, id)
	start := time.Now()

	resp := c.do(ctx, id, req)

	labels := []metrics.Label{
		metrics.L(LabelClient, c.cfg.Name),
		metrics.L(LabelOperation, req.operation()),
	}
	c.duration.Record(ctx, time.Since(start).Seconds(), labels...)
	c.requests.Inc(ctx, append(labels, metrics.L(LabelOutcome, outcomeOf(resp)))...)
	return resp
}

func (c *Client) do(ctx context.Context, id string, req Request) *Response {
	c.logger.InfoContext(ctx, "starting request",
		clog.String("method", req.Method), clog.String("operation", req.operation()))

	var resp *Response
	err := c.execute(ctx, func(ctx context.Context) error {
		var failure error
		resp, failure = c.retry(ctx, id, req)
		return failure
	})

	switch {
	case errors.Is(err, breaker.ErrOpen):
		return c.fallback(ctx, id, req)
	case resp == nil:
		// 未进入熔断器，例如 ctx 已取消
		return errorResponse(id, contextError(err))
	}

	if resp.Err == nil && c.cache != nil {
		if c.cache.Set(req.Method, req.Endpoint, resp.Body, req.cacheArgs()) {
			c.logger.DebugContext(ctx, "response cached")
		}
	}
	return resp
}

func (c *Client) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.breaker == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

// fallback 熔断打开时从缓存降级
func (c *Client) fallback(ctx context.Context, id string, req Request) *Response {
	c.logger.WarnContext(ctx, "circuit open, attempting cache fallback")

	if c.cache != nil {
		if body, ok := c.cache.Get(req.Method, req.Endpoint, req.cacheArgs()); ok {
			c.logger.InfoContext(ctx, "serving stale cached response")
			return &Response{
				Status:      http.StatusOK,
				Body:        body,
				Stale:       true,
				CircuitOpen: true,
				Warning:     c.cfg.FallbackWarning(),
				RequestID:   id,
			}
		}
	}

	c.logger.ErrorContext(ctx, "no cached fallback available")
	resp := errorResponse(id, xerrors.E(xerrors.KindCircuitOpen,
		"Service temporarily unavailable: %s circuit breaker is open", c.cfg.Service).WithCause(breaker.ErrOpen))
	resp.CircuitOpen = true
	return resp
}

// attemptError 一次尝试的失败
type attemptError struct {
	status  int
	body    []byte
	timeout bool
	err     error
}

// retry 重试循环，返回的 error 非 nil 表示应计为一次熔断失败
func (c *Client) retry(ctx context.Context, id string, req Request) (*Response, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return errorResponse(id, contextError(err)), err
	}
	defer c.sem.Release(1)

	var last attemptError
	for attempt := 0; attempt < c.cfg.Attempts; attempt++ {
		status, header, body, err := c.once(ctx, req)
		switch {
		case err == nil && status >= 200 && status < 300:
			c.logger.InfoContext(ctx, "request successful", clog.Int("attempt", attempt+1))
			return &Response{Status: status, Body: body, RequestID: id}, nil
		case err == nil && status < 500:
			c.logger.ErrorContext(ctx, "upstream client error", clog.Int("status", status))
			return errorResponse(id, statusError(status, body, header)), nil
		case err == nil:
			last = attemptError{status: status, body: body}
		case xerrors.Is(err, ErrBodyTooLarge):
			c.logger.ErrorContext(ctx, "upstream response too large", clog.Int64("limit", c.cfg.MaxBodyBytes))
			return errorResponse(id, xerrors.E(xerrors.KindUpstream,
				"Upstream response exceeds %d bytes", c.cfg.MaxBodyBytes).WithCause(err)), nil
		default:
			last = attemptError{timeout: isTimeout(err), err: err}
		}

		if ctx.Err() != nil {
			// 调用方放弃，不再重试
			return errorResponse(id, contextError(ctx.Err())), ctx.Err()
		}

		if attempt < c.cfg.Attempts-1 {
			delay := c.backoff(attempt)
			c.retries.Inc(ctx, metrics.L(LabelClient, c.cfg.Name), metrics.L(LabelOperation, req.operation()))
			c.logger.WarnContext(ctx, "request failed, retrying",
				clog.Int("attempt", attempt+1),
				clog.Int("attempts", c.cfg.Attempts),
				clog.Duration("delay", delay),
				clog.Int("status", last.status),
				clog.Error(last.err))
			if err := c.sleep(ctx, delay); err != nil {
				return errorResponse(id, contextError(err)), err
			}
		}
	}

	e := c.exhausted(last)
	c.logger.ErrorContext(ctx, "request failed after all attempts",
		clog.Int("attempts", c.cfg.Attempts), clog.Int("status", e.StatusCode()))
	return errorResponse(id, e), e
}

// exhausted 重试耗尽后的错误：超时 408，HTTP 错误透传状态码，其余 500
func (c *Client) exhausted(last attemptError) *xerrors.Error {
	switch {
	case last.timeout:
		return xerrors.E(xerrors.KindTimeout, "Request timeout - please try again").WithCause(last.err)
	case last.err == nil:
		return statusError(last.status, last.body, nil)
	default:
		return xerrors.E(xerrors.KindUpstream, "Request failed: %v", last.err).
			WithStatus(http.StatusInternalServerError).WithCause(last.err)
	}
}

// backoff 第 attempt 次失败后的等待时间：BaseDelay·2^attempt + U(jitterMin, jitterMax)
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.cfg.BaseDelay << uint(attempt)
	jitter := c.jitterMin
	if span := c.jitterMax - c.jitterMin; span > 0 {
		jitter += time.Duration(rand.Int64N(int64(span) + 1))
	}
	return delay + jitter
}

// once 执行一次 HTTP 请求并读取完整响应体
func (c *Client) once(ctx context.Context, req Request) (int, http.Header, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return 0, nil, nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return 0, nil, nil, err
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		return 0, nil, nil, ErrBodyTooLarge
	}
	return resp.StatusCode, resp.Header, body, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := c.url(req.Endpoint)
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, xerrors.Wrap(err, "encode request body")
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.header {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

func (c *Client) url(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	endpoint = strings.TrimLeft(endpoint, "/")
	if endpoint == "" {
		return base
	}
	return base + "/" + endpoint
}

// statusError 把上游非 2xx 状态转换为错误描述，4xx 保留上游状态码
func statusError(status int, body []byte, header http.Header) *xerrors.Error {
	msg := "API error: " + snippet(body)
	var e *xerrors.Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = xerrors.E(xerrors.KindUpstreamAuth, "%s", msg)
	case status == http.StatusNotFound:
		e = xerrors.E(xerrors.KindNotFound, "%s", msg)
	case status == http.StatusTooManyRequests:
		e = xerrors.E(xerrors.KindRateLimit, "%s", msg).WithRetryAfter(retryAfter(header))
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e = xerrors.E(xerrors.KindValidation, "%s", msg)
	default:
		e = xerrors.E(xerrors.KindUpstream, "%s", msg)
	}
	return e.WithStatus(status)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "empty response"
	}
	if len(s) > errorSnippetLimit {
		s = s[:errorSnippetLimit] + "..."
	}
	return s
}

func retryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(header.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// contextError 把 ctx 错误转换为错误描述
func contextError(err error) *xerrors.Error {
	if errors.Is(err, context.Canceled) {
		return xerrors.E(xerrors.KindTimeout, "request canceled").WithCause(err)
	}
	return xerrors.From(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func outcomeOf(resp *Response) string {
	switch {
	case resp.Err == nil && resp.Stale:
		return OutcomeFallback
	case resp.Err == nil:
		return OutcomeSuccess
	case resp.Err.Kind == xerrors.KindCircuitOpen:
		return OutcomeCircuitOpen
	case errors.Is(resp.Err, context.Canceled):
		return OutcomeCanceled
	case resp.Err.StatusCode() < 500 && resp.Err.Kind != xerrors.KindTimeout:
		return OutcomeClientError
	default:
		return OutcomeFailure
	}
}
