// Package proxy 实现本地 PDF 下载代理。
//
// 代理只监听 127.0.0.1，把 USPTO 的 PDF 以流的形式转发给浏览器，请求里不出现 API Key：
//
//	GET /                                         健康检查
//	GET /download/:petition_id/:document_identifier  下载 PDF
//	GET /rate-limit/:client_id                    查询某客户端的限流状态
//
// 代理在第一次生成下载链接时由 Handle 懒启动，之后一直运行到进程退出：
//
//	srv, _ := proxy.New(&proxy.Config{Port: 8081}, usptoClient, limiter, proxy.WithLogger(logger))
//	handle := proxy.NewHandle(srv)
//	port, err := handle.EnsureStarted(ctx)
//	defer handle.Stop(context.Background())
package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/ratelimit"
	"github.com/ceyewan/fpdmcp/resilient"
	"github.com/ceyewan/fpdmcp/uspto"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// ServiceName 健康检查返回的服务名
const ServiceName = "USPTO FPD Proxy"

var (
	// ErrSourceNil 未提供文档来源
	ErrSourceNil = xerrors.New("proxy: document source is nil")
	// ErrLimiterNil 未提供限流器
	ErrLimiterNil = xerrors.New("proxy: rate limiter is nil")
)

// DocumentSource 解析并打开申诉文档，*uspto.Client 实现该接口
type DocumentSource interface {
	Document(ctx context.Context, petitionID, documentIdentifier string) (*uspto.DocumentDescriptor, *xerrors.Error)
	Open(ctx context.Context, d *uspto.DocumentDescriptor) (*resilient.Stream, *xerrors.Error)
}

// Config 代理配置
type Config struct {
	// Host 监听地址（默认 127.0.0.1）
	Host string `mapstructure:"host"`
	// Port 监听端口，0 表示由系统分配；配置层默认 8081
	Port int `mapstructure:"port"`
	// MaxBodyBytes 请求体上限（默认 1 MiB）
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
	// ChunkSize 转发 PDF 时每次写出的字节数（默认 8192）
	ChunkSize int `mapstructure:"chunk_size"`
	// AllowedOrigins CORS 允许的来源
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// DownloadTimeout 单次下载的总时长上限（默认 60s）
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

// DefaultAllowedOrigins 本地前端常用的开发端口
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8080",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:8080",
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 8192
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = DefaultAllowedOrigins
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 60 * time.Second
	}
}

// Server 下载代理
type Server struct {
	cfg     *Config
	source  DocumentSource
	limiter *ratelimit.Window
	engine  *gin.Engine
	logger  clog.Logger

	downloads   metrics.Counter
	httpMetrics *metrics.HTTPServerMetrics
}

// New 创建代理，limiter 由调用方持有并负责关闭
func New(cfg *Config, source DocumentSource, limiter *ratelimit.Window, opts ...Option) (*Server, error) {
	if source == nil {
		return nil, ErrSourceNil
	}
	if limiter == nil {
		return nil, ErrLimiterNil
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

	downloads, err := o.meter.Counter(MetricDownloads, "Total number of proxied document downloads")
	if err != nil {
		return nil, xerrors.Wrap(err, "proxy: create downloads counter")
	}
	httpMetrics, err := metrics.NewHTTPServerMetrics(o.meter, "fpd-proxy")
	if err != nil {
		return nil, xerrors.Wrap(err, "proxy: create http metrics")
	}

	s := &Server{
		cfg:         &c,
		source:      source,
		limiter:     limiter,
		logger:      o.logger,
		downloads:   downloads,
		httpMetrics: httpMetrics,
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	// 只监听回环地址，客户端 IP 直接取 RemoteAddr
	_ = r.SetTrustedProxies(nil)
	r.Use(
		gin.Recovery(),
		metrics.GinHTTPMiddleware(s.httpMetrics),
		securityHeaders(),
		cors(s.cfg.AllowedOrigins),
		bodyLimit(s.cfg.MaxBodyBytes),
	)

	r.GET("/", s.health)
	r.GET("/download/:petition_id/:document_identifier", s.download)
	r.GET("/rate-limit/:client_id", s.rateLimitStatus)
	return r
}

// Handler 返回 HTTP 处理器，便于测试与嵌入
func (s *Server) Handler() http.Handler { return s.engine }

// Config 返回生效的配置副本
func (s *Server) Config() Config { return *s.cfg }

// Addr 配置的监听地址
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Serve 在 ln 上提供服务，ctx 取消后优雅关闭
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("proxy shutdown", clog.Error(err))
		}
	}()

	s.logger.Info("download proxy listening", clog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Wrap(err, "proxy: serve")
	}
	return nil
}
