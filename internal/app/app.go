// Package app 是 fpd-mcp 的组合根：按配置构建全部组件并管理它们的生命周期。
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ceyewan/fpdmcp/auth"
	"github.com/ceyewan/fpdmcp/breaker"
	"github.com/ceyewan/fpdmcp/cache"
	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/config"
	"github.com/ceyewan/fpdmcp/extract"
	"github.com/ceyewan/fpdmcp/mcpserver"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/proxy"
	"github.com/ceyewan/fpdmcp/ratelimit"
	"github.com/ceyewan/fpdmcp/resilient"
	"github.com/ceyewan/fpdmcp/uspto"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// DefaultReportSchedule 弹性状态报告的默认周期
const DefaultReportSchedule = "@every 5m"

// 熔断器名称，出现在状态查询与指标标签中
const (
	BreakerUSPTO   = "uspto_api"
	BreakerMistral = "mistral_ocr"
)

var (
	// ErrSettingsNil 未提供配置
	ErrSettingsNil = xerrors.New("app: settings is nil")
	// ErrLoggerNil 未提供日志记录器
	ErrLoggerNil = xerrors.New("app: logger is nil")
)

// Config 组合根配置
type Config struct {
	Settings *config.Settings
	// Loader 可选，提供时监听 log.level 的变化
	Loader config.Loader
	Logger clog.Logger
	// Version 对 MCP 客户端展示的版本
	Version string
	// ReportSchedule cron 表达式，默认 DefaultReportSchedule
	ReportSchedule string

	// httpClient 为 nil 时按 Settings.HTTP 创建连接池
	httpClient *http.Client
}

// App 持有全部运行期组件
type App struct {
	cfg    Config
	logger clog.Logger
	meter  metrics.Meter

	USPTO       *uspto.Client
	Extractor   *extract.Extractor
	Proxy       *proxy.Handle
	Centralized *proxy.Centralized
	Server      *mcpserver.Server

	breakers []*breaker.CircuitBreaker
	cache    *cache.ResponseCache
	cron     *cron.Cron

	life *lifecycle
}

// New 构建全部组件；任一步骤失败时已构建的组件会被释放
func New(cfg Config) (_ *App, err error) {
	if cfg.Settings == nil {
		return nil, ErrSettingsNil
	}
	if cfg.Logger == nil {
		return nil, ErrLoggerNil
	}
	if cfg.ReportSchedule == "" {
		cfg.ReportSchedule = DefaultReportSchedule
	}

	s := cfg.Settings
	a := &App{
		cfg:    cfg,
		logger: cfg.Logger,
		life:   newLifecycle(cfg.Logger.WithNamespace("app")),
	}
	defer func() {
		if err != nil {
			_ = a.life.stopAll(context.Background())
		}
	}()

	mc := s.Metrics
	mc.Enabled = s.Features.Metrics
	if mc.Version == "" {
		mc.Version = cfg.Version
	}
	a.meter, err = metrics.New(&mc, metrics.WithLogger(a.logger))
	if err != nil {
		return nil, xerrors.Wrap(err, "app: create meter")
	}
	a.life.register("metrics", a.meter.Shutdown)

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = resilient.NewHTTPClient(resilient.PoolConfig{
			MaxConnections:  s.HTTP.MaxConnections,
			MaxKeepalive:    s.HTTP.MaxKeepalive,
			KeepaliveExpiry: s.HTTP.KeepaliveExpiry,
		})
	}

	if err = a.buildUSPTO(httpClient); err != nil {
		return nil, err
	}
	if err = a.buildExtractor(httpClient); err != nil {
		return nil, err
	}
	if err = a.buildProxy(); err != nil {
		return nil, err
	}

	tools, err := ratelimit.NewBucket(&ratelimit.BucketConfig{
		Name:  "tools",
		Rate:  s.RateLimit.ToolRate,
		Burst: s.RateLimit.ToolBurst,
	}, ratelimit.WithLogger(a.logger), ratelimit.WithMeter(a.meter))
	if err != nil {
		return nil, xerrors.Wrap(err, "app: create tool rate limiter")
	}
	a.life.register("tool_limiter", closer(tools))

	a.Server, err = mcpserver.New(&mcpserver.Config{
		Version:    cfg.Version,
		OCREnabled: s.OCRAvailable(),
	}, mcpserver.Deps{
		USPTO:       a.USPTO,
		Extractor:   a.Extractor,
		Proxy:       a.Proxy,
		Centralized: a.Centralized,
		Tools:       tools,
		Cache:       a.cache,
		Breakers:    a.breakers,
	}, mcpserver.WithLogger(a.logger), mcpserver.WithMeter(a.meter))
	if err != nil {
		return nil, xerrors.Wrap(err, "app: create mcp server")
	}

	if err = a.buildReport(); err != nil {
		return nil, err
	}

	a.logger.Info("application initialized",
		clog.Bool("ocr_available", s.OCRAvailable()),
		clog.Bool("cache_enabled", s.Features.Cache),
		clog.Bool("centralized_proxy", a.Centralized != nil),
		clog.Bool("metrics_enabled", mc.Enabled))
	return a, nil
}

// buildUSPTO USPTO 熔断器、响应缓存、弹性客户端
func (a *App) buildUSPTO(httpClient *http.Client) error {
	s := a.cfg.Settings
	cb, err := breaker.New(&breaker.Config{Name: BreakerUSPTO, FailureThreshold: 5, RecoveryTimeout: 60 * time.Second},
		breaker.WithLogger(a.logger), breaker.WithMeter(a.meter))
	if err != nil {
		return xerrors.Wrap(err, "app: create uspto breaker")
	}
	a.breakers = append(a.breakers, cb)

	opts := []resilient.Option{
		resilient.WithLogger(a.logger),
		resilient.WithMeter(a.meter),
		resilient.WithBreaker(cb),
		resilient.WithHTTPClient(httpClient),
		resilient.WithHeader("X-API-KEY", s.USPTO.APIKey),
	}
	if s.Features.Cache {
		a.cache, err = cache.New(&cache.Config{
			Name:     "uspto",
			Capacity: s.Cache.Size,
			TTL:      s.Cache.TTL,
		}, cache.WithLogger(a.logger), cache.WithMeter(a.meter))
		if err != nil {
			return xerrors.Wrap(err, "app: create response cache")
		}
		a.life.register("cache", closer(a.cache))
		opts = append(opts, resilient.WithCache(a.cache))
	}

	api, err := resilient.New(&resilient.Config{
		Name:          "uspto",
		Service:       "USPTO API",
		BaseURL:       s.USPTO.BaseURL,
		Timeout:       s.USPTO.Timeout,
		Attempts:      s.Retry.Attempts,
		BaseDelay:     s.Retry.BaseDelay,
		MaxConcurrent: int64(s.USPTO.MaxConcurrent),
	}, opts...)
	if err != nil {
		return xerrors.Wrap(err, "app: create uspto api client")
	}
	a.USPTO, err = uspto.New(api, uspto.WithLogger(a.logger))
	if err != nil {
		return xerrors.Wrap(err, "app: create uspto client")
	}
	return nil
}

// buildExtractor 本地解析器加可选的 Mistral OCR
func (a *App) buildExtractor(httpClient *http.Client) error {
	s := a.cfg.Settings
	opts := []extract.Option{extract.WithLogger(a.logger), extract.WithMeter(a.meter)}

	// OCR 开关关闭时不注入 OCR，本地解析失败直接返回配置错误
	if s.Features.OCR {
		cb, err := breaker.New(&breaker.Config{Name: BreakerMistral, FailureThreshold: 3, RecoveryTimeout: 30 * time.Second},
			breaker.WithLogger(a.logger), breaker.WithMeter(a.meter))
		if err != nil {
			return xerrors.Wrap(err, "app: create mistral breaker")
		}
		a.breakers = append(a.breakers, cb)

		ocr, err := extract.NewMistral(&extract.MistralConfig{
			APIKey:        s.Mistral.APIKey,
			BaseURL:       s.Mistral.BaseURL,
			Model:         s.Mistral.Model,
			Timeout:       s.OCRTimeout(),
			MaxConcurrent: int64(s.Mistral.MaxConcurrent),
		},
			extract.WithMistralLogger(a.logger),
			extract.WithMistralBreaker(cb),
			extract.WithMistralHTTPClient(httpClient),
		)
		if err != nil {
			return xerrors.Wrap(err, "app: create mistral client")
		}
		opts = append(opts, extract.WithOCR(ocr))
	}

	var err error
	a.Extractor, err = extract.New(&extract.Config{MaxOCRPages: s.Mistral.MaxPages}, opts...)
	if err != nil {
		return xerrors.Wrap(err, "app: create extractor")
	}
	return nil
}

// buildProxy 本地下载代理（懒启动）与可选的集中代理
func (a *App) buildProxy() error {
	s := a.cfg.Settings
	limiter, err := ratelimit.NewWindow(&ratelimit.WindowConfig{
		Name:        "download",
		MaxRequests: s.RateLimit.Max,
		Window:      s.RateLimit.Window,
	}, ratelimit.WithLogger(a.logger), ratelimit.WithMeter(a.meter))
	if err != nil {
		return xerrors.Wrap(err, "app: create download rate limiter")
	}
	a.life.register("download_limiter", closer(limiter))

	srv, err := proxy.New(&proxy.Config{
		Port:            s.Proxy.Port,
		DownloadTimeout: s.USPTO.DownloadTimeout,
	}, a.USPTO, limiter, proxy.WithLogger(a.logger), proxy.WithMeter(a.meter))
	if err != nil {
		return xerrors.Wrap(err, "app: create download proxy")
	}
	a.Proxy = proxy.NewHandle(srv)
	a.life.register("proxy", a.Proxy.Stop)

	if !s.Features.CentralizedProxy || s.Centralized.Disabled {
		return nil
	}
	ac := s.Auth
	issuer, err := auth.New(&ac, auth.WithLogger(a.logger), auth.WithMeter(a.meter))
	if err != nil {
		return xerrors.Wrap(err, "app: create token issuer")
	}
	a.Centralized, err = proxy.NewCentralized(&proxy.CentralizedConfig{Port: s.Centralized.Port}, issuer,
		proxy.WithLogger(a.logger), proxy.WithMeter(a.meter))
	if err != nil {
		return xerrors.Wrap(err, "app: create centralized proxy client")
	}
	return nil
}

// buildReport 周期性记录熔断器状态与缓存命中率
func (a *App) buildReport() error {
	a.cron = cron.New()
	if _, err := a.cron.AddFunc(a.cfg.ReportSchedule, a.report); err != nil {
		return xerrors.Wrapf(err, "app: invalid report schedule %q", a.cfg.ReportSchedule)
	}
	a.life.register("cron", func(ctx context.Context) error {
		select {
		case <-a.cron.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return nil
}

// report 输出一次弹性状态
func (a *App) report() {
	st := a.Server.Status()
	logger := a.logger.WithNamespace("report")
	for _, snap := range st.CircuitBreakers {
		logger.Info("circuit breaker status",
			clog.String("breaker", snap.Name),
			clog.String("state", snap.State.String()),
			clog.Int("failure_count", int(snap.FailureCount)))
	}
	if st.Cache.Enabled {
		logger.Info("response cache status",
			clog.Int("size", st.Cache.Size),
			clog.Int("capacity", st.Cache.Capacity),
			clog.Float64("hit_ratio", st.Cache.HitRatio))
	}
	if st.Proxy.Running {
		logger.Info("download proxy status", clog.Int("port", st.Proxy.Port))
	}
}

// Run 在 transport 上提供 MCP 服务，同时运行状态报告与日志级别监听
//
// 任一任务失败或 ctx 取消时返回；组件资源由 Close 释放。
func (a *App) Run(ctx context.Context, t mcp.Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	a.cron.Start()
	g.Go(func() error {
		// MCP 服务退出（例如 stdin 关闭）时结束其余任务
		defer cancel()
		err := a.Server.Run(ctx, t)
		if err != nil && ctx.Err() == nil {
			return xerrors.Wrap(err, "app: mcp server")
		}
		return nil
	})
	if a.cfg.Loader != nil {
		levels, err := a.cfg.Loader.Watch(ctx, "log.level")
		if err != nil {
			cancel()
			_ = g.Wait()
			return xerrors.Wrap(err, "app: watch log level")
		}
		g.Go(func() error {
			a.watchLevel(levels)
			return nil
		})
	}
	return g.Wait()
}

// RunProxy 只运行下载代理直到 ctx 取消
func (a *App) RunProxy(ctx context.Context) error {
	port, err := a.Proxy.EnsureStarted(ctx)
	if err != nil {
		return xerrors.Wrap(err, "app: start download proxy")
	}
	a.logger.Info("proxy-only mode", clog.String("url", fmt.Sprintf("http://localhost:%d", port)))
	a.cron.Start()
	<-ctx.Done()
	return nil
}

// watchLevel 把配置文件中的 log.level 变化应用到日志记录器
func (a *App) watchLevel(events <-chan config.Event) {
	for ev := range events {
		raw := fmt.Sprint(ev.Value)
		level, err := clog.ParseLevel(raw)
		if err != nil {
			a.logger.Warn("ignoring invalid log level", clog.String("value", raw))
			continue
		}
		if err := a.logger.SetLevel(level); err != nil {
			a.logger.Warn("set log level failed", clog.Error(err))
			continue
		}
		a.logger.Info("log level changed", clog.String("level", level.String()))
	}
}

// Close 逆序释放全部组件
func (a *App) Close(ctx context.Context) error {
	return a.life.stopAll(ctx)
}

// shutdownTimeout 关闭组件的默认时限
const shutdownTimeout = 10 * time.Second

// Shutdown 使用默认时限关闭
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Close(ctx)
}
