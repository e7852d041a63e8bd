package cache

import "time"

// Config 响应缓存配置
//
//	cache:
//	  capacity: 100
//	  ttl: 600s
type Config struct {
	// Name 缓存名称，用作指标标签（默认 "uspto"）
	Name string `mapstructure:"name"`

	// Capacity 最大条目数（默认 100）
	Capacity int `mapstructure:"capacity"`

	// TTL 写入后的存活时间（默认 600s）
	//
	// 需要长于熔断恢复时间，熔断期间缓存才能作为回退数据使用。
	TTL time.Duration `mapstructure:"ttl"`
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "uspto"
	}
	if c.Capacity <= 0 {
		c.Capacity = 100
	}
	if c.TTL <= 0 {
		c.TTL = 600 * time.Second
	}
}
