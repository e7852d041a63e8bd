package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSettingsDefaults(t *testing.T) {
	dir := t.TempDir()

	s, loader, err := LoadSettings(context.Background(), WithConfigPaths(dir))
	require.NoError(t, err)
	require.NotNil(t, loader)
	assert.Empty(t, loader.ConfigFileUsed())

	assert.Equal(t, "https://api.uspto.gov/api/v1/petition/decisions", s.USPTO.BaseURL)
	assert.Equal(t, 30*time.Second, s.USPTO.Timeout)
	assert.Equal(t, 60*time.Second, s.USPTO.DownloadTimeout)
	assert.Equal(t, 120*time.Second, s.OCRTimeout())
	assert.Equal(t, "mistral-ocr-latest", s.Mistral.Model)
	assert.Equal(t, 8081, s.Proxy.Port)
	assert.Equal(t, 100, s.HTTP.MaxConnections)
	assert.Equal(t, 20, s.HTTP.MaxKeepalive)
	assert.Equal(t, 5*time.Second, s.HTTP.KeepaliveExpiry)
	assert.Equal(t, 100, s.Cache.Size)
	assert.Equal(t, 600*time.Second, s.Cache.TTL)
	assert.Equal(t, 5, s.RateLimit.Max)
	assert.Equal(t, 10*time.Second, s.RateLimit.Window)
	assert.Equal(t, 3, s.Retry.Attempts)
	assert.Equal(t, time.Second, s.Retry.BaseDelay)
	assert.True(t, s.Features.OCR)
	assert.True(t, s.Features.Cache)
	assert.False(t, s.Features.Metrics)
	assert.False(t, s.Metrics.Enabled)
	assert.True(t, s.Centralized.Discover())
	assert.Equal(t, "info", s.Log.Level)
}

func TestLoadSettingsFromFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "fpd.yaml", `
uspto:
  timeout: 45
  download_timeout: 2m
proxy:
  port: 9090
cache:
  size: 10
  ttl: "300"
log:
  level: debug
`)

	s, loader, err := LoadSettings(context.Background(), WithConfigPaths(dir))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fpd.yaml"), loader.ConfigFileUsed())
	assert.Equal(t, 45*time.Second, s.USPTO.Timeout)
	assert.Equal(t, 2*time.Minute, s.USPTO.DownloadTimeout)
	assert.Equal(t, 4*time.Minute, s.OCRTimeout())
	assert.Equal(t, 9090, s.Proxy.Port)
	assert.Equal(t, 10, s.Cache.Size)
	assert.Equal(t, 300*time.Second, s.Cache.TTL)
	assert.Equal(t, "debug", s.Log.Level)
}

func TestLoadSettingsEnvironment(t *testing.T) {
	t.Run("环境变量覆盖文件", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "fpd.yaml", "proxy:\n  port: 9090\n")
		t.Setenv("USPTO_API_KEY", "env-key")
		t.Setenv("USPTO_TIMEOUT", "12")
		t.Setenv("PROXY_PORT", "9191")
		t.Setenv("FPD_CACHE_TTL", "30")
		t.Setenv("FPD_OCR_ENABLED", "false")
		t.Setenv("MISTRAL_API_KEY", "m-key")

		s, _, err := LoadSettings(context.Background(), WithConfigPaths(dir))
		require.NoError(t, err)
		assert.Equal(t, "env-key", s.USPTO.APIKey)
		assert.Equal(t, 12*time.Second, s.USPTO.Timeout)
		assert.Equal(t, 9191, s.Proxy.Port)
		assert.Equal(t, 30*time.Second, s.Cache.TTL)
		assert.False(t, s.Features.OCR)
		assert.False(t, s.OCRAvailable())
	})

	t.Run("API 密钥来自环境变量", func(t *testing.T) {
		t.Setenv("USPTO_API_KEY", "env-key")
		t.Setenv("MISTRAL_API_KEY", "m-key")

		s, _, err := LoadSettings(context.Background(), WithConfigPaths(t.TempDir()))
		require.NoError(t, err)
		assert.Equal(t, "env-key", s.USPTO.APIKey)
		assert.Equal(t, "m-key", s.Mistral.APIKey)
		assert.True(t, s.OCRAvailable())
	})

	t.Run("FPD_PROXY_PORT 优先于 PROXY_PORT", func(t *testing.T) {
		t.Setenv("FPD_PROXY_PORT", "7001")
		t.Setenv("PROXY_PORT", "7002")

		s, _, err := LoadSettings(context.Background(), WithConfigPaths(t.TempDir()))
		require.NoError(t, err)
		assert.Equal(t, 7001, s.Proxy.Port)
	})

	t.Run("环境特定配置文件", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "fpd.yaml", "cache:\n  size: 10\n")
		writeConfig(t, dir, "fpd.dev.yaml", "cache:\n  size: 20\n")
		t.Setenv("FPD_ENV", "dev")

		s, _, err := LoadSettings(context.Background(), WithConfigPaths(dir))
		require.NoError(t, err)
		assert.Equal(t, 20, s.Cache.Size)
	})

	t.Run("集中代理禁用", func(t *testing.T) {
		t.Setenv("CENTRALIZED_PROXY_PORT", "none")

		s, _, err := LoadSettings(context.Background(), WithConfigPaths(t.TempDir()))
		require.NoError(t, err)
		assert.True(t, s.Centralized.Disabled)
		assert.False(t, s.Centralized.Discover())
	})

	t.Run("集中代理功能开关关闭", func(t *testing.T) {
		t.Setenv("CENTRALIZED_PROXY_PORT", "8080")
		t.Setenv("FPD_CENTRALIZED_PROXY_ENABLED", "false")

		s, _, err := LoadSettings(context.Background(), WithConfigPaths(t.TempDir()))
		require.NoError(t, err)
		assert.True(t, s.Centralized.Disabled)
	})

	t.Run("非法值", func(t *testing.T) {
		t.Setenv("FPD_PROXY_PORT", "70000")

		_, _, err := LoadSettings(context.Background(), WithConfigPaths(t.TempDir()))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidationFailed)
	})
}

func TestParseCentralizedPort(t *testing.T) {
	cp, err := ParseCentralizedPort("")
	require.NoError(t, err)
	assert.True(t, cp.Discover())

	cp, err = ParseCentralizedPort("NONE")
	require.NoError(t, err)
	assert.True(t, cp.Disabled)

	cp, err = ParseCentralizedPort(" 8080 ")
	require.NoError(t, err)
	require.NotNil(t, cp.Port)
	assert.Equal(t, 8080, *cp.Port)
	assert.False(t, cp.Discover())

	for _, raw := range []string{"abc", "0", "65536", "-1"} {
		_, err := ParseCentralizedPort(raw)
		assert.Error(t, err, raw)
	}
}

func TestSecondsDurationHook(t *testing.T) {
	tests := []struct {
		in   any
		want time.Duration
	}{
		{"30", 30 * time.Second},
		{"1.5", 1500 * time.Millisecond},
		{"250ms", 250 * time.Millisecond},
		{"", 0},
		{10, 10 * time.Second},
		{int64(2), 2 * time.Second},
		{0.5, 500 * time.Millisecond},
		{3 * time.Second, 3 * time.Second},
	}
	for _, tt := range tests {
		got, err := secondsDurationHook(nil, durationType, tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := secondsDurationHook(nil, durationType, "soon")
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "fpd.yaml", "log:\n  level: info\n")

	_, loader, err := LoadSettings(context.Background(), WithConfigPaths(dir))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = loader.Watch(ctx, "")
	assert.Error(t, err)

	ch, err := loader.Watch(ctx, "log.level")
	require.NoError(t, err)

	// 给 fsnotify 注册留出时间
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

	select {
	case ev := <-ch:
		assert.Equal(t, "log.level", ev.Key)
		assert.Equal(t, "debug", ev.Value)
		assert.Equal(t, "info", ev.OldValue)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config change")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
