package auth

import (
	"time"

	"github.com/ceyewan/fpdmcp/xerrors"
)

// Config 令牌配置
//
//	auth:
//	  secret_key: "..."       # 与集中代理共享，至少 32 字符；留空则使用进程内随机密钥
//	  token_ttl: 600
type Config struct {
	SecretKey string        `mapstructure:"secret_key"`
	Issuer    string        `mapstructure:"issuer"`
	Audience  string        `mapstructure:"audience"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

func (c *Config) setDefaults() {
	if c.Issuer == "" {
		c.Issuer = "fpd-mcp"
	}
	if c.Audience == "" {
		c.Audience = "centralized-proxy"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 10 * time.Minute
	}
}

func (c *Config) validate() error {
	if len(c.SecretKey) < 32 {
		return xerrors.Wrapf(ErrInvalidConfig, "secret_key must be at least 32 characters")
	}
	if c.TokenTTL <= 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "token_ttl must be positive")
	}
	return nil
}
