// Package config 为 fpdmcp 提供配置加载能力。
// 基于 Viper 实现，支持 YAML 文件、.env 文件与环境变量，并支持文件热更新。
//
// 配置优先级：环境变量 > .env > 环境特定配置（fpd.<FPD_ENV>.yaml）> 基础配置 > 默认值
//
// 基本使用：
//
//	settings, loader, err := config.LoadSettings(ctx,
//		config.WithConfigPaths(".", "./config"),
//		config.WithLogger(logger),
//	)
//
//	// 日志级别可以在运行时通过修改配置文件调整
//	ch, _ := loader.Watch(ctx, "log.level")
//	for event := range ch {
//		if level, err := clog.ParseLevel(fmt.Sprint(event.Value)); err == nil {
//			_ = logger.SetLevel(level)
//		}
//	}
package config

import (
	"context"
	"time"
)

// Loader 定义配置加载器的核心行为
type Loader interface {
	// Load 加载配置并开始监听配置文件
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// Unmarshal 将整个配置反序列化到结构体
	Unmarshal(v any) error

	// Watch 监听配置变化，通过 context 取消监听
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// ConfigFileUsed 返回实际加载的配置文件，未找到时为空
	ConfigFileUsed() string
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // "file"
	Timestamp time.Time
}
