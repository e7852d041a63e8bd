package clog

import "context"

type noopLogger struct{}

// Discard 创建一个静默的 Logger 实例，所有方法都是空操作
func Discard() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debug(string, ...Field)                          {}
func (l *noopLogger) Info(string, ...Field)                           {}
func (l *noopLogger) Warn(string, ...Field)                           {}
func (l *noopLogger) Error(string, ...Field)                          {}
func (l *noopLogger) Fatal(string, ...Field)                          {}
func (l *noopLogger) DebugContext(context.Context, string, ...Field) {}
func (l *noopLogger) InfoContext(context.Context, string, ...Field)  {}
func (l *noopLogger) WarnContext(context.Context, string, ...Field)  {}
func (l *noopLogger) ErrorContext(context.Context, string, ...Field) {}
func (l *noopLogger) FatalContext(context.Context, string, ...Field) {}

func (l *noopLogger) With(...Field) Logger          { return l }
func (l *noopLogger) WithNamespace(...string) Logger { return l }
func (l *noopLogger) SetLevel(Level) error           { return nil }
func (l *noopLogger) Flush()                         {}
