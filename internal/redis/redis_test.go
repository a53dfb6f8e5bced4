package redis

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soultalk/internal/config"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	client, err := NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port, DB: db}})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Raw().FlushDB(ctx).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestJSONRoundTripAndMiss(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	type payload struct {
		Emotion string `json:"emotion"`
	}
	var out payload
	ok, err := client.GetJSON(ctx, "soultalk:test:missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.SetJSON(ctx, "soultalk:test:key", payload{Emotion: "JOY"}, time.Minute))
	ok, err = client.GetJSON(ctx, "soultalk:test:key", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "JOY", out.Emotion)

	ttl, err := client.TTL(ctx, "soultalk:test:key")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, client.Del(ctx, "soultalk:test:key"))
	ok, err = client.GetJSON(ctx, "soultalk:test:key", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockerSerializesHolders(t *testing.T) {
	client := newTestClient(t)
	locker := NewLocker(client, 5*time.Second, 5*time.Second)

	var (
		active  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), "soultalk:test:lock")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}

func TestLockerTimesOut(t *testing.T) {
	client := newTestClient(t)
	holder := NewLocker(client, 5*time.Second, time.Second)
	release, err := holder.Acquire(context.Background(), "soultalk:test:busy")
	require.NoError(t, err)
	defer release()

	waiter := NewLocker(client, 5*time.Second, 100*time.Millisecond)
	_, err = waiter.Acquire(context.Background(), "soultalk:test:busy")
	assert.ErrorIs(t, err, ErrLockTimeout)
}
