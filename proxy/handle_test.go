package proxy

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle(t *testing.T) {
	s := newServer(t, &Config{Port: 0}, &fakeSource{}, newLimiter(t, 5))
	h := NewHandle(s)
	ctx := context.Background()

	assert.False(t, h.Running())
	assert.Equal(t, 0, h.Port())
	require.NoError(t, h.Stop(ctx), "未启动时 Stop 直接返回")

	port, err := h.EnsureStarted(ctx)
	require.NoError(t, err)
	require.Greater(t, port, 0)
	t.Cleanup(func() { _ = h.Stop(context.Background()) })

	t.Run("重复启动返回同一端口", func(t *testing.T) {
		again, err := h.EnsureStarted(ctx)
		require.NoError(t, err)
		assert.Equal(t, port, again)
		assert.True(t, h.Running())
	})

	t.Run("真实端口可访问", func(t *testing.T) {
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	})

	t.Run("停止后可以重新启动", func(t *testing.T) {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		require.NoError(t, h.Stop(stopCtx))
		assert.False(t, h.Running())
		require.NoError(t, h.Err())

		port2, err := h.EnsureStarted(ctx)
		require.NoError(t, err)
		assert.Greater(t, port2, 0)
	})

	t.Run("已取消的 ctx", func(t *testing.T) {
		other := NewHandle(s)
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := other.EnsureStarted(canceled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, other.Running())
	})
}
