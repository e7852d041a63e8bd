package xerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))

	base := errors.New("base error")
	wrapped := Wrap(base, "context")
	assert.Equal(t, "context: base error", wrapped.Error())
	assert.True(t, errors.Is(wrapped, base))

	assert.Equal(t, "user 123: base error", Wrapf(base, "user %d", 123).Error())
}

func TestCombine(t *testing.T) {
	assert.Nil(t, Combine(nil, nil))

	a := errors.New("a")
	assert.Same(t, a, Combine(nil, a))

	b := errors.New("b")
	joined := Combine(a, b)
	assert.True(t, errors.Is(joined, a))
	assert.True(t, errors.Is(joined, b))
}

func TestKindStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:       http.StatusBadRequest,
		KindNotFound:         http.StatusNotFound,
		KindRateLimit:        http.StatusTooManyRequests,
		KindUpstreamAuth:     http.StatusBadGateway,
		KindUpstream:         http.StatusBadGateway,
		KindTimeout:          http.StatusRequestTimeout,
		KindCircuitOpen:      http.StatusServiceUnavailable,
		KindExtractionConfig: http.StatusBadRequest,
		KindPaymentRequired:  http.StatusPaymentRequired,
		KindInternal:         http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.Status(), string(kind))
	}
}

func TestErrorPayload(t *testing.T) {
	t.Run("限流错误携带重试时间", func(t *testing.T) {
		e := E(KindRateLimit, "rate limit exceeded").
			WithRequestID("a1b2c3d4").
			WithRetryAfter(1500 * time.Millisecond)

		p := e.Payload()
		assert.Equal(t, "rate limit exceeded", p.Error)
		assert.Equal(t, http.StatusTooManyRequests, p.StatusCode)
		assert.False(t, p.Success)
		assert.Equal(t, "a1b2c3d4", p.RequestID)
		assert.Equal(t, 2, p.RetryAfter)
	})

	t.Run("透传上游状态码", func(t *testing.T) {
		e := E(KindUpstream, "API error: %s", "bad query").WithStatus(http.StatusUnprocessableEntity)
		assert.Equal(t, http.StatusUnprocessableEntity, e.StatusCode())
		assert.Equal(t, "upstream: API error: bad query", e.Error())
	})

	t.Run("消息脱敏", func(t *testing.T) {
		key := strings.Repeat("abcdefghij", 3)
		e := E(KindUpstreamAuth, "rejected key %s", key)
		assert.NotContains(t, e.Message, key)
	})
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	original := E(KindNotFound, "petition not found")
	assert.Same(t, original, From(fmt.Errorf("wrapped: %w", original)))

	timeout := From(fmt.Errorf("dial: %w", context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, timeout.Kind)

	internal := From(errors.New("secret=hunter2hunter2 leaked"))
	assert.Equal(t, KindInternal, internal.Kind)
	assert.Equal(t, "internal error", internal.Message)
	assert.Equal(t, KindInternal, KindOf(internal))
}

func TestGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("成功", func(t *testing.T) {
		v, err := Guard(ctx, func(context.Context) (int, error) { return 7, nil })
		require.Nil(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("预期错误", func(t *testing.T) {
		_, err := Guard(ctx, func(context.Context) (int, error) {
			return 0, E(KindValidation, "petition_id is required")
		})
		require.NotNil(t, err)
		assert.Equal(t, KindValidation, err.Kind)
	})

	t.Run("panic 转为内部错误", func(t *testing.T) {
		v, err := Guard(ctx, func(context.Context) (string, error) { panic("boom") })
		require.NotNil(t, err)
		assert.Equal(t, KindInternal, err.Kind)
		assert.Equal(t, "", v)
	})
}
