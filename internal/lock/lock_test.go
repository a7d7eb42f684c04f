package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemory_Exclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	lease, err := m.Acquire(ctx, "tx-1", time.Minute)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "tx-1", time.Minute)
	require.ErrorIs(t, err, ErrLocked)

	_, err = m.Acquire(ctx, "tx-2", time.Minute)
	require.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))

	_, err = m.Acquire(ctx, "tx-1", time.Minute)
	require.NoError(t, err)
}

func TestMemory_ExpiredLeaseIsTakenOver(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemory()
	m.now = func() time.Time { return now }

	stale, err := m.Acquire(ctx, "tx-1", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := m.Acquire(ctx, "tx-1", time.Second)
	require.NoError(t, err)

	// the stale holder must not release the new owner's lease
	require.NoError(t, stale.Release(ctx))
	_, err = m.Acquire(ctx, "tx-1", time.Second)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, fresh.Release(ctx))
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemory().Acquire(ctx, "tx-1", time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

// Skips unless REDIS_URL is provided.
func TestRedis_Exclusive(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping redis integration test")
	}
	ctx := context.Background()
	r, err := NewRedisFromURL(ctx, url, "threeds-test:")
	require.NoError(t, err)
	defer r.Close()

	key := uuid.New().String()
	lease, err := r.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)

	_, err = r.Acquire(ctx, key, 10*time.Second)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lease.Release(ctx))
	again, err := r.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
