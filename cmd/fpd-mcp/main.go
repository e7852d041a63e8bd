// fpd-mcp 通过 stdio 提供 USPTO Final Petition Decisions 的 MCP 工具。
//
// 默认模式下 MCP 协议占用 stdout，日志写到 stderr。--proxy-only 只运行本地下载代理，
// 供其他进程生成的下载链接使用。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/config"
	"github.com/ceyewan/fpdmcp/internal/app"
)

// version 发布时通过 -ldflags "-X main.version=..." 注入
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  string
		proxyOnly   bool
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("fpd-mcp", pflag.ContinueOnError)
	flagSet.StringVar(&configFile, "config", "", "path to fpd.yaml (default: search ., ./config)")
	flagSet.BoolVar(&proxyOnly, "proxy-only", false, "run only the local download proxy")
	flagSet.StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println("fpd-mcp", version)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	settings, loader, err := config.LoadSettings(ctx, opts...)
	if err != nil {
		return err
	}
	if logLevel != "" {
		if _, err := clog.ParseLevel(logLevel); err != nil {
			return err
		}
		settings.Log.Level = logLevel
	}

	logger, err := clog.New(&settings.Log, clog.WithNamespace("fpd"), clog.WithStandardContext())
	if err != nil {
		return err
	}
	defer logger.Flush()

	if settings.USPTO.APIKey == "" {
		logger.Warn("USPTO_API_KEY is not set, API calls will fail")
	}

	a, err := app.New(app.Config{
		Settings: settings,
		Loader:   loader,
		Logger:   logger,
		Version:  version,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Shutdown(); err != nil {
			logger.Error("shutdown failed", clog.Error(err))
		}
	}()

	if proxyOnly {
		return a.RunProxy(ctx)
	}
	return a.Run(ctx, &mcp.StdioTransport{})
}
