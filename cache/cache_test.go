package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, cfg *Config) *ResponseCache {
	t.Helper()
	rc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestKey(t *testing.T) {
	t.Run("参数顺序不影响键", func(t *testing.T) {
		a := map[string]any{"q": "patentNumber:123", "limit": 10, "filters": []string{"x"}}
		b := map[string]any{"filters": []string{"x"}, "limit": 10, "q": "patentNumber:123"}
		assert.Equal(t, Key("POST", "/search", a), Key("POST", "/search", b))
	})

	t.Run("结构体与等价 map 得到同一个键", func(t *testing.T) {
		type query struct {
			Q     string `json:"q"`
			Limit int    `json:"limit"`
		}
		assert.Equal(t,
			Key("POST", "/search", query{Q: "x", Limit: 5}),
			Key("POST", "/search", map[string]any{"limit": 5, "q": "x"}))
	})

	t.Run("method 与 endpoint 参与计算", func(t *testing.T) {
		args := map[string]string{"id": "1"}
		assert.NotEqual(t, Key("GET", "/a", args), Key("POST", "/a", args))
		assert.NotEqual(t, Key("GET", "/a", args), Key("GET", "/b", args))
		assert.NotEqual(t, Key("GET", "/a", nil), Key("GET", "/a", args))
	})

	t.Run("键为 64 位十六进制", func(t *testing.T) {
		assert.Len(t, Key("GET", "/x", nil), 64)
	})
}

func TestIsErrorShaped(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"正常对象", `{"count":1,"petitionDecisionDataBag":[]}`, false},
		{"数组", `[1,2,3]`, false},
		{"error 字段", `{"error":"boom","status_code":500}`, true},
		{"error 为 null", `{"error":null,"count":0}`, false},
		{"success 为 false", `{"success":false}`, true},
		{"success 为 true", `{"success":true}`, false},
		{"空", ``, true},
		{"非法 JSON", `{not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsErrorShaped([]byte(tt.body)))
		})
	}
}

func TestResponseCache(t *testing.T) {
	t.Run("写入后可读取并统计命中", func(t *testing.T) {
		rc := newTestCache(t, nil)
		args := map[string]any{"q": "art unit 3600"}

		_, ok := rc.Get("POST", "/search", args)
		require.False(t, ok)

		require.True(t, rc.Set("POST", "/search", []byte(`{"count":3}`), args))
		got, ok := rc.Get("POST", "/search", map[string]any{"q": "art unit 3600"})
		require.True(t, ok)
		assert.JSONEq(t, `{"count":3}`, string(got))

		stats := rc.Stats()
		assert.Equal(t, uint64(1), stats.Hits)
		assert.Equal(t, uint64(1), stats.Misses)
		assert.Equal(t, 100, stats.Capacity)
		assert.Equal(t, 600*time.Second, stats.TTL)
		assert.InDelta(t, 0.5, stats.HitRatio(), 0.001)
	})

	t.Run("拒绝错误形态的响应", func(t *testing.T) {
		rc := newTestCache(t, nil)
		assert.False(t, rc.Set("GET", "/p1", []byte(`{"error":"not found"}`), nil))
		_, ok := rc.Get("GET", "/p1", nil)
		assert.False(t, ok)
	})

	t.Run("存储副本不受调用方修改影响", func(t *testing.T) {
		rc := newTestCache(t, nil)
		body := []byte(`{"a":1}`)
		require.True(t, rc.Set("GET", "/x", body, nil))
		body[5] = '9'

		got, ok := rc.Get("GET", "/x", nil)
		require.True(t, ok)
		assert.Equal(t, `{"a":1}`, string(got))
	})

	t.Run("Clear 清空条目", func(t *testing.T) {
		rc := newTestCache(t, nil)
		rc.Set("GET", "/a", []byte(`{}`), nil)
		rc.Set("GET", "/b", []byte(`{}`), nil)
		rc.Clear()

		_, ok := rc.Get("GET", "/a", nil)
		assert.False(t, ok)
		_, ok = rc.Get("GET", "/b", nil)
		assert.False(t, ok)
	})

	t.Run("TTL 过期后不可读", func(t *testing.T) {
		rc := newTestCache(t, &Config{TTL: 100 * time.Millisecond})
		require.True(t, rc.Set("GET", "/ttl", []byte(`{"v":1}`), nil))

		assert.Eventually(t, func() bool {
			_, ok := rc.Get("GET", "/ttl", nil)
			return !ok
		}, 3*time.Second, 50*time.Millisecond)
	})

	t.Run("并发读写", func(t *testing.T) {
		rc := newTestCache(t, &Config{Capacity: 1000})
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				args := map[string]int{"i": i}
				rc.Set("GET", "/c", []byte(`{"ok":true}`), args)
				_, ok := rc.Get("GET", "/c", args)
				assert.True(t, ok)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, uint64(50), rc.Stats().Hits)
	})
}
