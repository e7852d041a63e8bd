// Package mcpserver 通过 MCP 协议暴露 USPTO 申诉决定工具。
//
// 每个工具调用都经过同一条路径：令牌桶限流、参数解码、业务调用、错误归一。
// 失败时返回 IsError 结果，正文为 {error, status_code, success:false, request_id} JSON。
//
//	srv, _ := mcpserver.New(&mcpserver.Config{Version: version}, mcpserver.Deps{
//		USPTO:     usptoClient,
//		Extractor: extractor,
//		Proxy:     handle,
//	}, mcpserver.WithLogger(logger))
//	err := srv.Run(ctx, &mcp.StdioTransport{})
package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ceyewan/fpdmcp/breaker"
	"github.com/ceyewan/fpdmcp/cache"
	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/extract"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/proxy"
	"github.com/ceyewan/fpdmcp/ratelimit"
	"github.com/ceyewan/fpdmcp/uspto"
	"github.com/ceyewan/fpdmcp/xerrors"
)

var (
	// ErrUSPTONil 未提供 USPTO 客户端
	ErrUSPTONil = xerrors.New("mcpserver: uspto client is nil")
	// ErrExtractorNil 未提供文本提取器
	ErrExtractorNil = xerrors.New("mcpserver: extractor is nil")
	// ErrProxyNil 未提供本地代理句柄
	ErrProxyNil = xerrors.New("mcpserver: proxy handle is nil")
)

// Config MCP 服务配置
type Config struct {
	// Name 对客户端展示的实现名（默认 "fpd-mcp"）
	Name string `mapstructure:"name"`
	// Version 实现版本
	Version string `mapstructure:"version"`
	// OCREnabled OCR 功能开关；关闭时拒绝直接 OCR 请求
	OCREnabled bool `mapstructure:"ocr_enabled"`
	// MaxDocumentBytes 提取文本时允许下载的最大 PDF（默认 100 MiB）
	MaxDocumentBytes int64 `mapstructure:"max_document_bytes"`
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "fpd-mcp"
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.MaxDocumentBytes <= 0 {
		c.MaxDocumentBytes = 100 << 20
	}
}

// Deps 工具依赖的组件，由组合根构建
type Deps struct {
	USPTO     *uspto.Client
	Extractor *extract.Extractor
	// Proxy 本地下载代理
	Proxy *proxy.Handle
	// Centralized 为 nil 时只使用本地代理
	Centralized *proxy.Centralized
	// Tools 工具调用令牌桶，为 nil 时不限流
	Tools *ratelimit.Bucket
	// Cache 只用于状态查询
	Cache *cache.ResponseCache
	// Breakers 状态查询中展示的熔断器
	Breakers []*breaker.CircuitBreaker
}

// Server MCP 服务
type Server struct {
	cfg    *Config
	deps   Deps
	mcp    *mcp.Server
	logger clog.Logger

	calls    metrics.Counter
	duration metrics.Histogram
}

// New 创建服务并注册全部工具
func New(cfg *Config, deps Deps, opts ...Option) (*Server, error) {
	switch {
	case deps.USPTO == nil:
		return nil, ErrUSPTONil
	case deps.Extractor == nil:
		return nil, ErrExtractorNil
	case deps.Proxy == nil:
		return nil, ErrProxyNil
	}
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	calls, err := o.meter.Counter(MetricToolCalls, "Total number of MCP tool calls")
	if err != nil {
		return nil, xerrors.Wrap(err, "mcpserver: create calls counter")
	}
	duration, err := o.meter.Histogram(MetricToolDuration, "MCP tool call duration in seconds",
		metrics.WithUnit("s"), metrics.WithBuckets(metrics.DefaultDurationBuckets))
	if err != nil {
		return nil, xerrors.Wrap(err, "mcpserver: create duration histogram")
	}

	s := &Server{
		cfg:      &c,
		deps:     deps,
		logger:   o.logger,
		calls:    calls,
		duration: duration,
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: c.Name, Version: c.Version}, &mcp.ServerOptions{
		Instructions: instructions,
	})
	s.registerSearchTools()
	s.registerDocumentTools()
	s.registerStatusTools()
	return s, nil
}

// MCP 返回底层 MCP server，便于测试接入内存传输
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Run 在 transport 上提供服务直到 ctx 取消或对端断开
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	s.logger.Info("mcp server running", clog.String("name", s.cfg.Name), clog.String("version", s.cfg.Version))
	return s.mcp.Run(ctx, t)
}

const instructions = "USPTO Final Petition Decisions. Start with Search_petitions_minimal for discovery, " +
	"narrow with Search_petitions_balanced, then Get_petition_details for documents. " +
	"Call FPD_get_guidance for workflow help."
