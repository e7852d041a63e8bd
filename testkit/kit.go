// Package testkit 提供测试用的上游替身与通用依赖。
//
// 上游替身基于 net/http/httptest，进程内运行，不需要任何外部服务：
//
//	usptoSrv := testkit.NewUSPTO(t)
//	pet := usptoSrv.AddPetition(testkit.PetitionSpec{Documents: 1})
//	mistral := testkit.NewMistral(t)
package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
)

// APIKey 假 USPTO 服务要求的 X-API-KEY，形状与真实 key 一致（30 个小写字母）
const APIKey = "testkeytestkeytestkeytestkeyab"

// MistralKey 假 Mistral 服务要求的 Bearer token
const MistralKey = "MistralTestKey0123456789abcdefAB"

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
}

// NewKit 返回一个包含默认依赖的测试工具包
func NewKit(t *testing.T) *Kit {
	t.Helper()
	meter := NewMeter()
	t.Cleanup(func() { _ = meter.Shutdown(context.Background()) })
	return &Kit{
		Ctx:    context.Background(),
		Logger: NewLogger(),
		Meter:  meter,
	}
}

// NewLogger 返回一个用于测试的 logger，输出到 stderr 的 console 格式
func NewLogger() clog.Logger {
	logger, err := clog.New(&clog.Config{Level: "debug", Format: "console", Output: "stderr"})
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回一个真实的 meter，不暴露抓取端口
func NewMeter() metrics.Meter {
	meter, err := metrics.New(&metrics.Config{Enabled: true, ServiceName: "fpd-mcp-test"})
	if err != nil {
		return metrics.Discard()
	}
	return meter
}

// NewContext 返回一个带有超时的测试上下文
func NewContext(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// NewID 返回一个唯一的测试 ID (UUID v4 前 8 位)
func NewID() string {
	return uuid.New().String()[0:8]
}
