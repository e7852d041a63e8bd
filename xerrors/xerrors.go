// Package xerrors 是 fpd-mcp 的错误处理约定。
//
// 进程内部用 Wrap / Wrapf 逐层附加上下文（"uspto: search"、"app: create meter"）；
// 到了对外边界（MCP 工具结果、下载代理的 HTTP 响应）统一转换为 *Error，
// 由 Payload 输出 {error, status_code, success:false, request_id} 这一种结构，
// 消息在构造时已脱敏，API 密钥不会出现在返回给调用方的文本里。见 kind.go。
package xerrors

import (
	"errors"
	"fmt"
)

// Wrap 附加上下文，保留错误链供 errors.Is / errors.As 使用
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 同 Wrap，上下文可格式化
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Combine 合并多个清理步骤的错误，忽略 nil；只有一个时原样返回
func Combine(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return errors.Join(nonNil...)
	}
}

// 标准库函数再导出，业务包只需导入 xerrors
var (
	New  = errors.New
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)
