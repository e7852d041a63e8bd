package config

import (
	"path/filepath"
	"strings"

	"github.com/ceyewan/fpdmcp/clog"
)

// Option 配置选项模式
type Option func(*Options)

// Options 加载器选项
type Options struct {
	Name      string   // 配置文件名称（不含扩展名），默认 "fpd"
	Paths     []string // 配置文件搜索路径，默认 [".", "./config"]
	FileType  string   // 配置文件类型，默认 "yaml"
	EnvPrefix string   // 环境变量前缀，默认为空（直接读取 USPTO_API_KEY 等变量）
	Logger    clog.Logger
}

func defaultOptions() *Options {
	return &Options{
		Name:     "fpd",
		Paths:    []string{".", "./config"},
		FileType: "yaml",
		Logger:   clog.Discard(),
	}
}

// envSelector 选择环境特定配置文件的变量名
func (o *Options) envSelector() string {
	if o.EnvPrefix == "" {
		return "FPD_ENV"
	}
	return strings.ToUpper(o.EnvPrefix) + "_ENV"
}

// WithConfigName 设置配置文件名称（不带扩展名）
func WithConfigName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

// WithConfigPaths 设置配置文件搜索路径（覆盖默认值）
func WithConfigPaths(paths ...string) Option {
	return func(o *Options) {
		o.Paths = paths
	}
}

// WithConfigFile 指定配置文件的完整路径，等价于设置名称、类型与唯一搜索路径
func WithConfigFile(path string) Option {
	return func(o *Options) {
		base := filepath.Base(path)
		ext := filepath.Ext(base)
		o.Name = strings.TrimSuffix(base, ext)
		o.Paths = []string{filepath.Dir(path)}
		if ext != "" {
			o.FileType = strings.TrimPrefix(ext, ".")
		}
	}
}

// WithConfigType 设置配置文件类型 (yaml, json, etc.)
func WithConfigType(typ string) Option {
	return func(o *Options) {
		o.FileType = typ
	}
}

// WithEnvPrefix 设置环境变量前缀
func WithEnvPrefix(prefix string) Option {
	return func(o *Options) {
		o.EnvPrefix = prefix
	}
}

// WithLogger 设置日志记录器，自动添加 "config" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger.WithNamespace("config")
		}
	}
}
