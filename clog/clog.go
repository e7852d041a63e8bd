// Package clog 为 fpdmcp 提供基于 slog 的结构化日志组件。
//
// 特性：
//   - 抽象接口，不暴露底层实现（slog）
//   - 默认输出到 stderr，stdout 留给 MCP stdio 传输
//   - 所有消息与字符串字段在输出前经过 redact 脱敏
//   - 支持层级命名空间与 Context 字段提取（如 request_id）
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "json"})
//	logger.Info("proxy started", clog.Int("port", 8081))
//
// 带命名空间与 Context：
//
//	logger, _ := clog.New(nil, clog.WithNamespace("fpd"), clog.WithStandardContext())
//	ctx := clog.WithRequestID(context.Background(), "a1b2c3d4")
//	logger.InfoContext(ctx, "search petitions")
package clog

import "fmt"

// New 创建一个新的 Logger 实例，config 为 nil 时使用默认配置
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = &Config{}
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return newLogger(config, applyOptions(opts...))
}

// Must 类似 New，出错时 panic，仅用于初始化阶段
func Must(config *Config, opts ...Option) Logger {
	logger, err := New(config, opts...)
	if err != nil {
		panic(fmt.Sprintf("clog: %v", err))
	}
	return logger
}
