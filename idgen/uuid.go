// Package idgen 生成请求关联 ID 与文档令牌 ID。
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// RequestIDLength 关联 ID 的长度，取 UUID v4 的前 8 个十六进制字符
const RequestIDLength = 8

// RequestID 生成短关联 ID，出现在日志、错误体与缓存降级响应中
//
//	id := idgen.RequestID() // "3f2a9c1e"
func RequestID() string {
	return uuid.New().String()[:RequestIDLength]
}

// NewUUIDV7 生成时间有序的 UUID v7，用作下载令牌的 jti
func NewUUIDV7() string {
	v7, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return v7.String()
}

// IsRequestID 判断字符串是否形如 RequestID 的输出
func IsRequestID(s string) bool {
	if len(s) != RequestIDLength {
		return false
	}
	return strings.Trim(s, "0123456789abcdef") == ""
}
