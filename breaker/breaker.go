// Package breaker 提供保护外部依赖的三态熔断器。
//
// 基于 github.com/sony/gobreaker/v2 实现状态机：
// - 闭合：连续失败达到 FailureThreshold 后打开
// - 打开：直接返回 ErrOpen，不调用被保护的函数；RecoveryTimeout 之后下一次调用成为探测
// - 半开：同一时刻只放行一个探测，连续 SuccessThreshold 次成功后闭合，任意一次失败重新打开
//
// 每个外部依赖使用独立实例（USPTO API、Mistral OCR），实例之间不共享任何状态。
//
// ## 基本使用
//
//	cb, _ := breaker.New(&breaker.Config{
//		Name:             "uspto_api",
//		FailureThreshold: 5,
//		RecoveryTimeout:  60 * time.Second,
//	}, breaker.WithLogger(logger), breaker.WithMeter(meter))
//
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//		return callUpstream(ctx)
//	})
//	if errors.Is(err, breaker.ErrOpen) {
//		// 快速失败，可以回退到缓存
//	}
package breaker

import (
	"encoding/json"
	"time"
)

// State 熔断器状态
type State int

const (
	// StateClosed 闭合状态（正常）
	StateClosed State = iota
	// StateHalfOpen 半开状态（探测恢复）
	StateHalfOpen
	// StateOpen 打开状态（熔断中）
	StateOpen
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// MarshalText 以字符串形式序列化
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config 熔断器配置
type Config struct {
	// Name 熔断器名称，用于日志和指标标签
	Name string `mapstructure:"name"`

	// FailureThreshold 闭合状态下触发熔断的连续失败次数（默认：5）
	FailureThreshold uint32 `mapstructure:"failure_threshold"`

	// RecoveryTimeout 打开状态持续时间（默认：60s）
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout"`

	// SuccessThreshold 半开状态下闭合所需的连续成功次数（默认：3）
	SuccessThreshold uint32 `mapstructure:"success_threshold"`
}

func (c *Config) setDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 3
	}
}

// Snapshot 熔断器状态快照
type Snapshot struct {
	Name             string
	State            State
	FailureCount     uint32
	SuccessCount     uint32
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	LastFailureTime  time.Time
	// TimeUntilRetry 打开状态下距离允许探测的剩余时间
	TimeUntilRetry time.Duration
}

type snapshotJSON struct {
	Name                   string     `json:"name"`
	State                  State      `json:"state"`
	FailureCount           uint32     `json:"failure_count"`
	SuccessCount           uint32     `json:"success_count"`
	FailureThreshold       uint32     `json:"failure_threshold"`
	RecoveryTimeoutSeconds float64    `json:"recovery_timeout_seconds"`
	LastFailureTime        *time.Time `json:"last_failure_time"`
	TimeUntilRetrySeconds  float64    `json:"time_until_retry_seconds"`
}

// MarshalJSON 时长以秒输出，未发生过失败时 last_failure_time 为 null
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		Name:                   s.Name,
		State:                  s.State,
		FailureCount:           s.FailureCount,
		SuccessCount:           s.SuccessCount,
		FailureThreshold:       s.FailureThreshold,
		RecoveryTimeoutSeconds: s.RecoveryTimeout.Seconds(),
		TimeUntilRetrySeconds:  s.TimeUntilRetry.Seconds(),
	}
	if !s.LastFailureTime.IsZero() {
		t := s.LastFailureTime
		out.LastFailureTime = &t
	}
	return json.Marshal(out)
}
