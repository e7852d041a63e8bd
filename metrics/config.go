package metrics

// Config 指标系统配置
//
//	metrics:
//	  enabled: true
//	  service_name: "fpd-mcp"
//	  version: "v0.3.0"
//	  port: 9464
//	  path: "/metrics"
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter
	Enabled bool `mapstructure:"enabled"`

	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`

	// Port 大于 0 时在 127.0.0.1:Port 上暴露 Prometheus 抓取端点
	Port int `mapstructure:"port"`

	// Path 抓取路径，默认 /metrics
	Path string `mapstructure:"path"`
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "fpd-mcp"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}
