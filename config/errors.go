package config

import "github.com/ceyewan/fpdmcp/xerrors"

// ErrValidationFailed 配置验证失败
var ErrValidationFailed = xerrors.New("configuration validation failed")

// WrapValidationError 包装验证错误
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return xerrors.Wrap(xerrors.Join(ErrValidationFailed, err), "validation failed")
}

// WrapLoadError 包装加载错误
func WrapLoadError(err error, message string) error {
	if err == nil {
		return nil
	}
	return xerrors.Wrapf(err, "failed to load config: %s", message)
}
