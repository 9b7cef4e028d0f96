package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	dup, err := m.IsDuplicate(ctx, "100")
	require.NoError(t, err)
	assert.False(t, dup)

	require.NoError(t, m.MarkProcessed(ctx, "100"))
	dup, err = m.IsDuplicate(ctx, "100")
	require.NoError(t, err)
	assert.True(t, dup)

	now = now.Add(2 * time.Minute)
	dup, err = m.IsDuplicate(ctx, "100")
	require.NoError(t, err)
	assert.False(t, dup, "expired entries are forgotten")
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	d, err := Open(Config{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, d)

	d, err = Open(Config{Driver: "none"})
	require.NoError(t, err)
	require.NoError(t, d.MarkProcessed(context.Background(), "x"))
	dup, _ := d.IsDuplicate(context.Background(), "x")
	assert.False(t, dup)

	_, err = Open(Config{Driver: "redis"})
	assert.Error(t, err)

	r, err := Open(Config{Driver: "redis", Addr: "127.0.0.1:6379"})
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, r)
	_ = r.Close()

	_, err = Open(Config{Driver: "etcd"})
	assert.Error(t, err)
}
