package manager

import (
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tm := NewTokenManager()
	tm.now = func() time.Time { return now }

	jt, err := tm.GenerateToken(time.Minute)
	require.NoError(t, err)
	assert.Len(t, jt.Token, 64)
	assert.Equal(t, now.Add(time.Minute), jt.ExpiresAt)
	assert.Equal(t, 1, tm.Active())

	assert.ErrorIs(t, tm.Consume("wrong"), errdefs.ErrUnauthorized)
	require.NoError(t, tm.Consume(jt.Token))
	assert.ErrorIs(t, tm.Consume(jt.Token), errdefs.ErrUnauthorized)
	assert.Equal(t, 0, tm.Active())
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tm := NewTokenManager()
	tm.now = func() time.Time { return now }

	jt, err := tm.GenerateToken(0)
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultJoinTokenTTL), jt.ExpiresAt)

	now = now.Add(DefaultJoinTokenTTL + time.Second)
	assert.ErrorIs(t, tm.Consume(jt.Token), errdefs.ErrUnauthorized)
}
