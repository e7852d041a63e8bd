package xerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ceyewan/fpdmcp/redact"
)

// Kind 对外可见的错误分类，决定 HTTP 状态码与调用方的处理方式
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindRateLimit        Kind = "rate_limit"
	KindUpstreamAuth     Kind = "upstream_auth"
	KindUpstream         Kind = "upstream"
	KindTimeout          Kind = "timeout"
	KindCircuitOpen      Kind = "circuit_open"
	KindExtractionConfig Kind = "extraction_config"
	KindPaymentRequired  Kind = "payment_required"
	KindInternal         Kind = "internal"
)

// Status 返回该分类的默认 HTTP 状态码
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindExtractionConfig:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindUpstreamAuth, KindUpstream:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindPaymentRequired:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// Error 结构化错误描述
//
// Message 在构造时已脱敏，可以原样返回给调用方；Cause 仅用于日志与 errors.Is。
type Error struct {
	Kind       Kind
	Message    string
	Status     int
	RequestID  string
	RetryAfter time.Duration
	Cause      error
}

// E 创建指定分类的错误，消息经过脱敏
func E(kind Kind, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Message: redact.String(msg), Status: kind.Status()}
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.RequestID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode 返回 HTTP 状态码，未显式设置时取分类默认值
func (e *Error) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.Status()
}

// WithStatus 覆盖状态码，用于透传上游 4xx
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithRequestID 设置关联 ID
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// WithRetryAfter 设置建议的重试等待时间（限流错误）
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithCause 记录底层错误
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// Payload 对外统一的 JSON 错误结构
type Payload struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	Success    bool   `json:"success"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// Payload 转换为 {error, status_code, success:false, request_id?}
func (e *Error) Payload() Payload {
	p := Payload{
		Error:      e.Message,
		StatusCode: e.StatusCode(),
		RequestID:  e.RequestID,
	}
	if e.RetryAfter > 0 {
		p.RetryAfter = int((e.RetryAfter + time.Second - 1) / time.Second)
	}
	return p
}

// From 将任意错误归一为 *Error
//
// 已是 *Error 的原样返回；超时归为 KindTimeout；其余归为 KindInternal，
// 并使用通用消息，原始错误只保留在 Cause 中。
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return E(KindTimeout, "request timeout - please try again").WithCause(err)
	}
	return E(KindInternal, "internal error").WithCause(err)
}

// KindOf 返回错误的分类，nil 返回空串
func KindOf(err error) Kind {
	if e := From(err); e != nil {
		return e.Kind
	}
	return ""
}

// Guard 在最外层边界执行一个可能失败的操作
//
// 预期错误以 *Error 返回，未知错误与 panic 统一转换为 KindInternal。
func Guard[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (result T, xerr *Error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			xerr = E(KindInternal, "internal error").WithCause(fmt.Errorf("panic: %v", r))
		}
	}()

	v, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, From(err)
	}
	return v, nil
}
