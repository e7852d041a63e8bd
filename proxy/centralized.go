package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ceyewan/fpdmcp/auth"
	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/uspto"
	"github.com/ceyewan/fpdmcp/xerrors"
)

const (
	LinkCentralized = "centralized"
	LinkLocal       = "local"

	StatusCentralizedRegistered = "centralized_registered"
	StatusLocalFallback         = "local_fallback"
)

// ErrIssuerNil 未提供令牌签发器
var ErrIssuerNil = xerrors.New("proxy: token issuer is nil")

// CentralizedConfig 集中代理的发现与注册配置
type CentralizedConfig struct {
	// Host 集中代理主机（默认 localhost）
	Host string
	// Port 显式端口；nil 时按 PrimaryPort 与 AlternatePorts 探测
	Port *int
	// Disabled 为 true 时不探测也不注册，始终使用本地代理
	Disabled bool

	PrimaryPort    int   // 默认 8080
	AlternatePorts []int // 默认 8079, 8082, 8083，只在最后一轮探测

	ProbeAttempts int           // 默认 2
	ProbeTimeout  time.Duration // 默认 300ms
	ProbeDelay    time.Duration // 默认 500ms
	// DiscoveryTTL 探测结果的缓存时长（默认 1 分钟）
	DiscoveryTTL time.Duration

	RegisterTimeout time.Duration // 默认 5s
}

func (c *CentralizedConfig) setDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.PrimaryPort == 0 {
		c.PrimaryPort = 8080
	}
	if c.AlternatePorts == nil {
		c.AlternatePorts = []int{8079, 8082, 8083}
	}
	if c.ProbeAttempts <= 0 {
		c.ProbeAttempts = 2
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 300 * time.Millisecond
	}
	if c.ProbeDelay <= 0 {
		c.ProbeDelay = 500 * time.Millisecond
	}
	if c.DiscoveryTTL <= 0 {
		c.DiscoveryTTL = time.Minute
	}
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = 5 * time.Second
	}
}

// Starter 按需启动本地代理，*Handle 实现该接口
type Starter interface {
	EnsureStarted(ctx context.Context) (int, error)
}

// Link 生成的下载链接
type Link struct {
	URL    string `json:"-"`
	Type   string `json:"type"`
	Port   int    `json:"port"`
	Status string `json:"status"`
}

// Registration 注册到集中代理的请求体
type Registration struct {
	Source             string `json:"source"`
	PetitionID         string `json:"petition_id"`
	DocumentIdentifier string `json:"document_identifier"`
	DownloadURL        string `json:"download_url"`
	AccessToken        string `json:"access_token"`
	ApplicationNumber  string `json:"application_number"`
	EnhancedFilename   string `json:"enhanced_filename"`
}

// Centralized 集中代理客户端
//
// 集中代理由同一生态中的其它服务运行，负责统一限流；本服务只负责发现它并登记文档。
// 任一环节失败都回落到本地代理，不向调用方报错。
type Centralized struct {
	cfg        *CentralizedConfig
	issuer     *auth.Issuer
	httpClient *http.Client
	logger     clog.Logger
	sleep      func(ctx context.Context, d time.Duration) error

	registrations metrics.Counter

	mu         sync.Mutex
	port       int
	resolvedAt time.Time
}

// NewCentralized 创建集中代理客户端
func NewCentralized(cfg *CentralizedConfig, issuer *auth.Issuer, opts ...Option) (*Centralized, error) {
	if issuer == nil {
		return nil, ErrIssuerNil
	}
	if cfg == nil {
		cfg = &CentralizedConfig{}
	}
	c := *cfg
	c.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	registrations, err := o.meter.Counter(MetricRegistrations, "Total number of centralized proxy registration attempts")
	if err != nil {
		return nil, xerrors.Wrap(err, "proxy: create registrations counter")
	}

	return &Centralized{
		cfg:           &c,
		issuer:        issuer,
		httpClient:    &http.Client{},
		logger:        o.logger.WithNamespace("centralized"),
		sleep:         sleepContext,
		registrations: registrations,
	}, nil
}

// Disabled 是否完全禁用集中代理
func (c *Centralized) Disabled() bool { return c.cfg.Disabled }

// Discover 返回可用的集中代理端口，找不到时返回 0
func (c *Centralized) Discover(ctx context.Context) int {
	if c.cfg.Disabled {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resolvedAt.IsZero() && time.Since(c.resolvedAt) < c.cfg.DiscoveryTTL {
		return c.port
	}

	c.port = c.discover(ctx)
	c.resolvedAt = time.Now()
	if c.port == 0 {
		c.logger.Info("no centralized proxy detected, using local proxy")
	} else {
		c.logger.Info("centralized proxy detected", clog.Int("port", c.port))
	}
	return c.port
}

func (c *Centralized) discover(ctx context.Context) int {
	// 显式配置端口时只检查该端口，不做探测
	if c.cfg.Port != nil {
		if c.probe(ctx, *c.cfg.Port) {
			return *c.cfg.Port
		}
		c.logger.Warn("configured centralized proxy not responding", clog.Int("port", *c.cfg.Port))
		return 0
	}

	for attempt := 0; attempt < c.cfg.ProbeAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.cfg.ProbeDelay); err != nil {
				return 0
			}
		}
		if c.probe(ctx, c.cfg.PrimaryPort) {
			return c.cfg.PrimaryPort
		}
		if attempt == c.cfg.ProbeAttempts-1 {
			for _, port := range c.cfg.AlternatePorts {
				if c.probe(ctx, port) {
					return port
				}
			}
		}
	}
	return 0
}

// probe GET / 返回 200 视为代理存活
func (c *Centralized) probe(ctx context.Context, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL(port)+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Register 把文档登记到 port 上的集中代理
func (c *Centralized) Register(ctx context.Context, port int, d *uspto.DocumentDescriptor) error {
	token, err := c.issuer.Issue(ctx, auth.Grant{
		PetitionID:         d.PetitionID,
		DocumentIdentifier: d.DocumentIdentifier,
		ApplicationNumber:  d.ApplicationNumber(),
	})
	if err != nil {
		return xerrors.Wrap(err, "issue access token")
	}

	body, err := json.Marshal(Registration{
		Source:             "fpd",
		PetitionID:         d.PetitionID,
		DocumentIdentifier: d.DocumentIdentifier,
		DownloadURL:        d.DownloadURL,
		AccessToken:        token,
		ApplicationNumber:  d.ApplicationNumber(),
		EnhancedFilename:   d.Filename.String(),
	})
	if err != nil {
		return xerrors.Wrap(err, "marshal registration")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RegisterTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL(port)+"/register-fpd-document", bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(err, "build registration request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(err, "post registration")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return fmt.Errorf("registration rejected: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// Link 为文档生成下载链接
//
// 发现集中代理且登记成功时返回集中代理链接，否则启动本地代理并返回本地链接。
func (c *Centralized) Link(ctx context.Context, d *uspto.DocumentDescriptor, local Starter) (*Link, error) {
	if port := c.Discover(ctx); port != 0 {
		err := c.Register(ctx, port, d)
		if err == nil {
			c.registrations.Inc(ctx, metrics.L(LabelOutcome, OutcomeSuccess))
			c.logger.InfoContext(ctx, "document registered with centralized proxy",
				clog.String("petition_id", d.PetitionID),
				clog.String("document_identifier", d.DocumentIdentifier))
			return &Link{
				URL:    c.baseURL(port) + DownloadPath(d.PetitionID, d.DocumentIdentifier),
				Type:   LinkCentralized,
				Port:   port,
				Status: StatusCentralizedRegistered,
			}, nil
		}
		c.registrations.Inc(ctx, metrics.L(LabelOutcome, OutcomeFallback))
		c.logger.WarnContext(ctx, "centralized registration failed, falling back to local proxy", clog.Error(err))
	}

	return LocalLink(ctx, d, local)
}

// LocalLink 启动本地代理并返回本地下载链接
func LocalLink(ctx context.Context, d *uspto.DocumentDescriptor, local Starter) (*Link, error) {
	port, err := local.EnsureStarted(ctx)
	if err != nil {
		return nil, xerrors.E(xerrors.KindInternal, "Local download proxy unavailable").WithCause(err)
	}
	return &Link{
		URL:    "http://localhost:" + strconv.Itoa(port) + DownloadPath(d.PetitionID, d.DocumentIdentifier),
		Type:   LinkLocal,
		Port:   port,
		Status: StatusLocalFallback,
	}, nil
}

func (c *Centralized) baseURL(port int) string {
	return "http://" + c.cfg.Host + ":" + strconv.Itoa(port)
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
