package idgen

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := RequestID()
		require.True(t, IsRequestID(id), id)
		seen[id] = struct{}{}
	}
	assert.Greater(t, len(seen), 95)
}

func TestIsRequestID(t *testing.T) {
	assert.False(t, IsRequestID("short"))
	assert.False(t, IsRequestID("ZZZZZZZZ"))
	assert.True(t, IsRequestID("0a1b2c3d"))
}

func TestNewUUIDV7(t *testing.T) {
	id, err := uuid.Parse(NewUUIDV7())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}
