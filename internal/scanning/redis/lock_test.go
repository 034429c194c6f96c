package redis

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client backed by miniredis, an
// in-memory mock that doesn't require a real Redis server.
func setupTestRedis(t *testing.T) *Redis {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, client.Ping(context.Background()).Err())

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedis(client)
}

func TestLockTicketExclusive(t *testing.T) {
	r := setupTestRedis(t)
	ctx := context.Background()

	ok, err := r.LockTicket(ctx, "TK1", "scan-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// a second scan of the same ticket is shut out
	ok, err = r.LockTicket(ctx, "TK1", "scan-b")
	require.NoError(t, err)
	assert.False(t, ok)

	// a different ticket is unaffected
	ok, err = r.LockTicket(ctx, "TK2", "scan-c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlockTicketOnlyByOwner(t *testing.T) {
	r := setupTestRedis(t)
	ctx := context.Background()

	ok, err := r.LockTicket(ctx, "TK1", "scan-a")
	require.NoError(t, err)
	require.True(t, ok)

	// a non-owner release is a no-op
	require.NoError(t, r.UnlockTicket(ctx, "TK1", "scan-b"))
	ok, err = r.LockTicket(ctx, "TK1", "scan-c")
	require.NoError(t, err)
	assert.False(t, ok, "lock must still be held after a non-owner release")

	// the owner releases, freeing the ticket
	require.NoError(t, r.UnlockTicket(ctx, "TK1", "scan-a"))
	ok, err = r.LockTicket(ctx, "TK1", "scan-c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlockTicketAlreadyReleased(t *testing.T) {
	r := setupTestRedis(t)
	assert.NoError(t, r.UnlockTicket(context.Background(), "TK1", "scan-a"))
}

func TestLockTicketContention(t *testing.T) {
	r := setupTestRedis(t)
	ctx := context.Background()

	const contenders = 8
	var wg sync.WaitGroup
	winners := make(chan string, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := string(rune('a' + i))
			ok, err := r.LockTicket(ctx, "TK1", token)
			if err == nil && ok {
				winners <- token
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	var count int
	for range winners {
		count++
	}
	assert.Equal(t, 1, count, "exactly one contender may hold the lock")
}
