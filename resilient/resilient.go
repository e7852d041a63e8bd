// Package resilient 提供带熔断、重试与缓存降级的上游 HTTP 客户端。
//
// 一次 Do 调用的执行顺序：
//
//	熔断器 Execute
//	  └─ 并发信号量（等待而非失败）
//	       └─ 重试循环：5xx、超时与传输错误重试，4xx 直接返回
//
// 熔断器打开时不会触达网络，转而按相同的 key 查询响应缓存；命中时返回标记为
// Stale 的旧数据，未命中时返回 503。预期内的失败都放在 Response.Err 中，Do
// 本身不返回 error。
//
// 基本使用：
//
//	client, _ := resilient.New(&resilient.Config{Name: "uspto", BaseURL: base},
//		resilient.WithBreaker(cb),
//		resilient.WithCache(rc),
//		resilient.WithHeader("X-API-KEY", apiKey),
//	)
//	resp := client.Do(ctx, resilient.Request{Method: http.MethodPost, Endpoint: "search", Body: body})
//	if resp.Err != nil {
//		return resp.Err
//	}
package resilient

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/ceyewan/fpdmcp/xerrors"
)

// Config 客户端配置
type Config struct {
	// Name 客户端名称，用于日志与指标标签，默认 "uspto"
	Name string `mapstructure:"name"`

	// Service 面向用户的服务名，出现在降级提示与错误消息中，默认 "USPTO API"
	Service string `mapstructure:"service"`

	BaseURL string `mapstructure:"base_url"`

	// Timeout 单次尝试的超时（默认：30s）
	Timeout time.Duration `mapstructure:"timeout"`

	// Attempts 总尝试次数（默认：3）
	Attempts int `mapstructure:"attempts"`

	// BaseDelay 第 n 次重试前等待 BaseDelay·2^n 加随机抖动（默认：1s）
	BaseDelay time.Duration `mapstructure:"base_delay"`

	// MaxConcurrent 同时在途的请求上限（默认：10）
	MaxConcurrent int64 `mapstructure:"max_concurrent"`

	// MaxBodyBytes 响应体读取上限（默认：32 MiB）
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "uspto"
	}
	if c.Service == "" {
		c.Service = "USPTO API"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 32 << 20
	}
}

// FallbackWarning 降级响应附带的提示
func (c *Config) FallbackWarning() string {
	return fmt.Sprintf("Serving cached data - %s temporarily unavailable", c.Service)
}

// Request 一次上游请求
type Request struct {
	Method string
	// Endpoint 相对 BaseURL 的路径
	Endpoint string
	Query    url.Values
	// Body 非 nil 时以 JSON 编码发送
	Body any

	// Operation 指标与日志中的操作名，例如 "search"；为空时使用 "request"
	Operation string
}

func (r Request) operation() string {
	if r.Operation == "" {
		return "request"
	}
	return r.Operation
}

// cacheArgs 参与缓存 key 计算的参数
func (r Request) cacheArgs() map[string]any {
	args := map[string]any{}
	if len(r.Query) > 0 {
		args["query"] = r.Query
	}
	if r.Body != nil {
		args["body"] = r.Body
	}
	return args
}

// Response Do 的结果
type Response struct {
	// Status 上游状态码；降级响应为 200，本地生成的错误为错误自身的状态码
	Status int
	Body   []byte

	// Stale 为 true 表示数据来自缓存
	Stale bool
	// CircuitOpen 为 true 表示熔断器处于打开状态
	CircuitOpen bool
	Warning     string

	RequestID string
	Err       *xerrors.Error
}

// OK 是否成功拿到数据（包括降级数据）
func (r *Response) OK() bool {
	return r != nil && r.Err == nil
}

// Decode 将响应体解码为 v
func (r *Response) Decode(v any) error {
	if r.Err != nil {
		return r.Err
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return xerrors.E(xerrors.KindUpstream, "invalid JSON from upstream").
			WithRequestID(r.RequestID).WithCause(err)
	}
	return nil
}

func errorResponse(id string, e *xerrors.Error) *Response {
	e.WithRequestID(id)
	return &Response{Status: e.StatusCode(), RequestID: id, Err: e}
}
