package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestWindow(t *testing.T, cfg *WindowConfig) (*Window, *fakeClock) {
	t.Helper()

	w, err := NewWindow(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	w.now = clock.Now
	return w, clock
}

func TestWindowDefaults(t *testing.T) {
	w, _ := newTestWindow(t, nil)
	assert.Equal(t, 5, w.Limit())
	assert.Equal(t, 10*time.Second, w.Window())
}

func TestWindowInvalidConfig(t *testing.T) {
	_, err := NewWindow(&WindowConfig{MaxRequests: -1})
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestWindowAllow(t *testing.T) {
	t.Run("窗口内最多放行 MaxRequests 次", func(t *testing.T) {
		w, clock := newTestWindow(t, &WindowConfig{MaxRequests: 5, Window: 10 * time.Second})

		allowed := 0
		for i := 0; i < 20; i++ {
			if w.Allow("10.0.0.1") {
				allowed++
			}
			clock.Advance(100 * time.Millisecond)
		}
		assert.Equal(t, 5, allowed)
		assert.Equal(t, 0, w.Remaining("10.0.0.1"))
	})

	t.Run("最早的时间戳过期后恢复", func(t *testing.T) {
		w, clock := newTestWindow(t, &WindowConfig{MaxRequests: 2, Window: 10 * time.Second})

		require.True(t, w.Allow("client"))
		clock.Advance(3 * time.Second)
		require.True(t, w.Allow("client"))
		require.False(t, w.Allow("client"))

		// 第一次请求在 10 秒后过期
		assert.Equal(t, 7*time.Second, w.RetryAfter("client"))
		clock.Advance(7 * time.Second)
		assert.False(t, w.Allow("client"), "恰好在边界上仍处于窗口内")

		clock.Advance(time.Millisecond)
		assert.True(t, w.Allow("client"))
		assert.False(t, w.Allow("client"))
	})

	t.Run("拒绝不追加时间戳", func(t *testing.T) {
		w, clock := newTestWindow(t, &WindowConfig{MaxRequests: 1, Window: time.Second})

		require.True(t, w.Allow("k"))
		for i := 0; i < 5; i++ {
			require.False(t, w.Allow("k"))
		}
		clock.Advance(time.Second + time.Millisecond)
		assert.True(t, w.Allow("k"))
	})

	t.Run("不同客户端互不影响", func(t *testing.T) {
		w, _ := newTestWindow(t, &WindowConfig{MaxRequests: 1, Window: time.Minute})

		assert.True(t, w.Allow("a"))
		assert.False(t, w.Allow("a"))
		assert.True(t, w.Allow("b"))
		assert.Equal(t, 1, w.Remaining("c"))
	})
}

func TestWindowResetTime(t *testing.T) {
	w, clock := newTestWindow(t, &WindowConfig{MaxRequests: 3, Window: 10 * time.Second})
	start := clock.Now()

	assert.Equal(t, start, w.ResetTime("ip"), "无请求时为当前时间")

	w.Allow("ip")
	clock.Advance(2 * time.Second)
	w.Allow("ip")

	assert.Equal(t, start.Add(10*time.Second), w.ResetTime("ip"))
	assert.Equal(t, 1, w.Remaining("ip"))
}

func TestWindowConcurrentAllow(t *testing.T) {
	w, _ := newTestWindow(t, &WindowConfig{MaxRequests: 50, Window: time.Hour})

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Allow("shared") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load(), "并发下不能丢失更新")
}

func TestWindowSweep(t *testing.T) {
	w, clock := newTestWindow(t, &WindowConfig{
		MaxRequests: 1,
		Window:      time.Second,
		IdleTimeout: 2 * time.Second,
	})

	w.Allow("idle")
	clock.Advance(3 * time.Second)
	w.Allow("active")

	assert.Equal(t, 1, w.sweep())
	_, ok := w.clients.Load("idle")
	assert.False(t, ok)
	_, ok = w.clients.Load("active")
	assert.True(t, ok)

	// 被清理的客户端重新获得完整配额
	assert.True(t, w.Allow("idle"))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 3, RetryAfterSeconds(2100*time.Millisecond))
	assert.Equal(t, 10, RetryAfterSeconds(10*time.Second))
}
