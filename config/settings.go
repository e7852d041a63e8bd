package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ceyewan/fpdmcp/auth"
	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
)

// CentralizedDisabledSentinel CENTRALIZED_PROXY_PORT 取该值时跳过集中代理的注册与探测
const CentralizedDisabledSentinel = "none"

// Settings 启动时构建一次、之后只读传递的类型化配置
type Settings struct {
	USPTO     USPTOSettings     `mapstructure:"uspto"`
	Mistral   MistralSettings   `mapstructure:"mistral"`
	Proxy     ProxySettings     `mapstructure:"proxy"`
	HTTP      HTTPSettings      `mapstructure:"http"`
	Cache     CacheSettings     `mapstructure:"cache"`
	RateLimit RateLimitSettings `mapstructure:"ratelimit"`
	Retry     RetrySettings     `mapstructure:"retry"`
	Features  Features          `mapstructure:"features"`
	Auth      auth.Config       `mapstructure:"auth"`
	Log       clog.Config       `mapstructure:"log"`
	Metrics   metrics.Config    `mapstructure:"metrics"`

	// Centralized 由 proxy.centralized_port 解析而来
	Centralized CentralizedProxy `mapstructure:"-"`
}

// USPTOSettings USPTO Open Data Portal 访问配置
type USPTOSettings struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	// MaxConcurrent 同时在途的 USPTO 请求上限
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// MistralSettings Mistral OCR 配置，APIKey 为空表示 OCR 未配置
type MistralSettings struct {
	APIKey        string `mapstructure:"api_key"`
	BaseURL       string `mapstructure:"base_url"`
	Model         string `mapstructure:"model"`
	MaxPages      int    `mapstructure:"max_pages"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

// ProxySettings 本地下载代理配置
type ProxySettings struct {
	Port int `mapstructure:"port"`
	// CentralizedPort 原始值：空表示自动探测，"none" 表示禁用，其余为端口号
	CentralizedPort string `mapstructure:"centralized_port"`
}

// CentralizedProxy 集中代理的解析结果
type CentralizedProxy struct {
	// Port 显式指定的端口，nil 表示未指定
	Port *int
	// Disabled 为 true 时不做任何注册或探测
	Disabled bool
}

// Discover 是否需要探测集中代理端口
func (c CentralizedProxy) Discover() bool {
	return !c.Disabled && c.Port == nil
}

// HTTPSettings 出站连接池配置
type HTTPSettings struct {
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxKeepalive    int           `mapstructure:"max_keepalive"`
	KeepaliveExpiry time.Duration `mapstructure:"keepalive_expiry"`
}

// CacheSettings 响应缓存配置
type CacheSettings struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// RateLimitSettings 下载代理限流与工具调用限流配置
type RateLimitSettings struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`

	ToolRate  float64 `mapstructure:"tool_rate"`
	ToolBurst int     `mapstructure:"tool_burst"`
}

// RetrySettings 重试配置
type RetrySettings struct {
	Attempts  int           `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
}

// Features 功能开关
type Features struct {
	OCR              bool `mapstructure:"ocr"`
	Cache            bool `mapstructure:"cache"`
	CentralizedProxy bool `mapstructure:"centralized_proxy"`
	Metrics          bool `mapstructure:"metrics"`
}

// OCRTimeout OCR 操作超时，为下载超时的两倍
func (s *Settings) OCRTimeout() time.Duration {
	return 2 * s.USPTO.DownloadTimeout
}

// OCRAvailable OCR 开关打开且配置了 Mistral 密钥
func (s *Settings) OCRAvailable() bool {
	return s.Features.OCR && s.Mistral.APIKey != ""
}

// defaults 默认值
var defaults = map[string]any{
	"uspto.api_key":          "",
	"uspto.base_url":         "https://api.uspto.gov/api/v1/petition/decisions",
	"uspto.timeout":          30 * time.Second,
	"uspto.download_timeout": 60 * time.Second,
	"uspto.max_concurrent":   10,

	"mistral.api_key":        "",
	"mistral.base_url":       "https://api.mistral.ai/v1",
	"mistral.model":          "mistral-ocr-latest",
	"mistral.max_pages":      50,
	"mistral.max_concurrent": 2,

	"proxy.port":             8081,
	"proxy.centralized_port": "",

	"http.max_connections":  100,
	"http.max_keepalive":    20,
	"http.keepalive_expiry": 5 * time.Second,

	"cache.size": 100,
	"cache.ttl":  600 * time.Second,

	"ratelimit.max":        5,
	"ratelimit.window":     10 * time.Second,
	"ratelimit.tool_rate":  1.0,
	"ratelimit.tool_burst": 10,

	"retry.attempts":   3,
	"retry.base_delay": time.Second,

	"features.ocr":               true,
	"features.cache":             true,
	"features.centralized_proxy": true,
	"features.metrics":           false,

	"auth.secret_key": "",
	"auth.token_ttl":  10 * time.Minute,

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stderr",

	"metrics.service_name": "fpd-mcp",
	"metrics.path":         "/metrics",
	"metrics.port":         0,
}

// envAliases 与默认 key 映射规则（"." 替换为 "_"）不同的环境变量，靠前的优先
var envAliases = map[string][]string{
	"proxy.port":                 {"FPD_PROXY_PORT", "PROXY_PORT"},
	"proxy.centralized_port":     {"CENTRALIZED_PROXY_PORT"},
	"http.max_connections":       {"FPD_MAX_CONNECTIONS"},
	"http.max_keepalive":         {"FPD_MAX_KEEPALIVE"},
	"http.keepalive_expiry":      {"FPD_KEEPALIVE_EXPIRY"},
	"cache.size":                 {"FPD_CACHE_SIZE"},
	"cache.ttl":                  {"FPD_CACHE_TTL"},
	"ratelimit.max":              {"FPD_RATE_LIMIT_MAX"},
	"ratelimit.window":           {"FPD_RATE_LIMIT_WINDOW"},
	"ratelimit.tool_rate":        {"FPD_TOOL_RATE"},
	"ratelimit.tool_burst":       {"FPD_TOOL_BURST"},
	"retry.attempts":             {"FPD_RETRY_ATTEMPTS"},
	"retry.base_delay":           {"FPD_RETRY_BASE_DELAY"},
	"features.ocr":               {"FPD_OCR_ENABLED"},
	"features.cache":             {"FPD_CACHE_ENABLED"},
	"features.centralized_proxy": {"FPD_CENTRALIZED_PROXY_ENABLED"},
	"features.metrics":           {"FPD_METRICS_ENABLED"},
	"auth.secret_key":            {"FPD_TOKEN_SECRET"},
	"log.level":                  {"FPD_LOG_LEVEL"},
	"log.format":                 {"FPD_LOG_FORMAT"},
	"metrics.port":               {"FPD_METRICS_PORT"},
}

// LoadSettings 加载、解析并验证配置
//
// 返回的 Loader 可用于监听配置文件中 log.level 的变化。
func LoadSettings(ctx context.Context, opts ...Option) (*Settings, Loader, error) {
	l := newLoader(opts...)

	for key, value := range defaults {
		l.v.SetDefault(key, value)
	}

	if err := l.Load(ctx); err != nil {
		return nil, nil, err
	}
	applyEnvAliases(l)

	var s Settings
	if err := l.Unmarshal(&s); err != nil {
		return nil, nil, WrapLoadError(err, "unmarshal settings")
	}

	centralized, err := ParseCentralizedPort(s.Proxy.CentralizedPort)
	if err != nil {
		return nil, nil, WrapValidationError(err)
	}
	if !s.Features.CentralizedProxy {
		centralized = CentralizedProxy{Disabled: true}
	}
	s.Centralized = centralized
	s.Metrics.Enabled = s.Features.Metrics

	if err := s.Validate(); err != nil {
		return nil, nil, WrapValidationError(err)
	}
	return &s, l, nil
}

// applyEnvAliases 别名变量优先于自动映射的变量，例如 FPD_PROXY_PORT 优先于 PROXY_PORT
func applyEnvAliases(l *loader) {
	for key, envs := range envAliases {
		for _, env := range envs {
			if val, ok := os.LookupEnv(env); ok && strings.TrimSpace(val) != "" {
				l.v.Set(key, val)
				break
			}
		}
	}
}

// ParseCentralizedPort 解析集中代理端口设置
func ParseCentralizedPort(raw string) (CentralizedProxy, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return CentralizedProxy{}, nil
	case strings.EqualFold(raw, CentralizedDisabledSentinel):
		return CentralizedProxy{Disabled: true}, nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil || !validPort(port) {
		return CentralizedProxy{}, fmt.Errorf("invalid centralized proxy port %q", raw)
	}
	return CentralizedProxy{Port: &port}, nil
}

// Validate 检查取值范围
func (s *Settings) Validate() error {
	var errs []error
	if !validPort(s.Proxy.Port) {
		errs = append(errs, fmt.Errorf("proxy.port %d out of range", s.Proxy.Port))
	}
	if s.USPTO.Timeout <= 0 || s.USPTO.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("uspto timeouts must be positive"))
	}
	if s.USPTO.MaxConcurrent <= 0 || s.Mistral.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("max_concurrent must be positive"))
	}
	if s.Mistral.MaxPages <= 0 {
		errs = append(errs, errors.New("mistral.max_pages must be positive"))
	}
	if s.HTTP.MaxConnections <= 0 || s.HTTP.MaxKeepalive < 0 {
		errs = append(errs, errors.New("invalid http connection pool limits"))
	}
	if s.Cache.Size <= 0 || s.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache size and ttl must be positive"))
	}
	if s.RateLimit.Max <= 0 || s.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit max and window must be positive"))
	}
	if s.RateLimit.ToolRate <= 0 || s.RateLimit.ToolBurst <= 0 {
		errs = append(errs, errors.New("tool rate limit must be positive"))
	}
	if s.Retry.Attempts < 1 || s.Retry.BaseDelay < 0 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	if _, err := clog.ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

func parseSeconds(s string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}
