package resilient

import (
	"net"
	"net/http"
	"time"
)

// PoolConfig 出站连接池配置
type PoolConfig struct {
	MaxConnections  int
	MaxKeepalive    int
	KeepaliveExpiry time.Duration
}

// NewTransport 按连接池配置创建 http.Transport
//
// 总连接数限制在每个主机上，上游只有 USPTO 与 Mistral 两个主机。
func NewTransport(cfg PoolConfig) *http.Transport {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	if cfg.MaxKeepalive < 0 {
		cfg.MaxKeepalive = 0
	}
	if cfg.KeepaliveExpiry <= 0 {
		cfg.KeepaliveExpiry = 5 * time.Second
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		DisableKeepAlives:     cfg.MaxKeepalive == 0,
		MaxConnsPerHost:       cfg.MaxConnections,
		MaxIdleConns:          cfg.MaxKeepalive,
		MaxIdleConnsPerHost:   cfg.MaxKeepalive,
		IdleConnTimeout:       cfg.KeepaliveExpiry,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// NewHTTPClient 创建不带整体超时的 http.Client，超时由每次尝试的 context 控制
func NewHTTPClient(cfg PoolConfig) *http.Client {
	return &http.Client{Transport: NewTransport(cfg)}
}
