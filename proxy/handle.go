package proxy

import (
	"context"
	"net"
	"sync"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// Handle 代理的启动句柄，由组合根持有
//
// EnsureStarted 是幂等的：第一次调用同步绑定端口并在后台提供服务，之后直接返回端口。
// 后台服务异常退出后，下一次 EnsureStarted 会重新启动。
type Handle struct {
	srv    *Server
	logger clog.Logger

	mu      sync.Mutex
	running bool
	port    int
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewHandle 创建句柄，此时不监听端口
func NewHandle(srv *Server) *Handle {
	return &Handle{srv: srv, logger: srv.logger}
}

// EnsureStarted 确保代理正在运行，返回实际监听的端口
//
// ctx 只约束本次调用，代理本身的生命周期由 Stop 控制。
func (h *Handle) EnsureStarted(ctx context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return h.port, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.srv.Addr())
	if err != nil {
		return 0, xerrors.Wrapf(err, "proxy: listen %s", h.srv.Addr())
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.running = true
	h.port = ln.Addr().(*net.TCPAddr).Port
	h.cancel = cancel
	h.done = done
	h.lastErr = nil

	go func() {
		defer close(done)
		err := h.srv.Serve(runCtx, ln)

		h.mu.Lock()
		if h.done == done {
			h.running = false
			h.lastErr = err
		}
		h.mu.Unlock()
		if err != nil {
			h.logger.Error("download proxy crashed", clog.Error(err))
		}
	}()

	h.logger.Info("download proxy started", clog.Int("port", h.port))
	return h.port, nil
}

// Running 代理是否在运行
func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Port 实际监听端口，未启动时为 0
func (h *Handle) Port() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return 0
	}
	return h.port
}

// Err 最近一次后台服务退出的错误
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Stop 停止代理并等待后台服务退出；未启动时直接返回
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.running = false
	h.cancel = nil
	h.done = nil
	h.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		h.logger.Info("download proxy stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
