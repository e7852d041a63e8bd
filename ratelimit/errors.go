package ratelimit

import "github.com/ceyewan/fpdmcp/xerrors"

// ErrInvalidLimit 限流规则无效（负数的阈值或窗口）
var ErrInvalidLimit = xerrors.New("ratelimit: invalid limit")
