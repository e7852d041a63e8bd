package breaker

import "github.com/ceyewan/fpdmcp/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("breaker: config is nil")

	// ErrNameEmpty 熔断器名称为空
	ErrNameEmpty = xerrors.New("breaker: name is empty")

	// ErrOpen 熔断器处于打开状态，或半开状态下已有探测在进行
	ErrOpen = xerrors.New("breaker: circuit breaker is open")
)
