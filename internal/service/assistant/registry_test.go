package assistant

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"soultalk/internal/config"
	"soultalk/internal/emotion"
	"soultalk/internal/redis"
)

func TestRegistryLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(openTestStore(t), nil, 0, zaptest.NewLogger(t))

	first, err := r.Create(ctx, " a@example.com ")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := r.Create(ctx, "a@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	s, err := r.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", s.Email)
	assert.Nil(t, s.Emotion)
	assert.Nil(t, s.Title)

	list, err := r.List(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)

	_, ok, err := r.PinnedEmotion(ctx, first)
	require.NoError(t, err)
	assert.False(t, ok)

	label, pinned, err := r.PinEmotionIfUnset(ctx, first, emotion.Love)
	require.NoError(t, err)
	assert.True(t, pinned)
	assert.Equal(t, emotion.Love, label)

	label, pinned, err = r.PinEmotionIfUnset(ctx, first, emotion.Anger)
	require.NoError(t, err)
	assert.False(t, pinned)
	assert.Equal(t, emotion.Love, label)

	_, _, err = r.PinEmotionIfUnset(ctx, "missing", emotion.Joy)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryCachesPinnedSessions(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	store := openTestStore(t)
	r := NewRegistry(store, client, time.Minute, zaptest.NewLogger(t))

	sid, err := r.Create(ctx, user)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Del(context.Background(), sessionCachePrefix+sid) })

	_, err = r.Get(ctx, sid)
	require.NoError(t, err)
	var cached map[string]any
	hit, err := client.GetJSON(ctx, sessionCachePrefix+sid, &cached)
	require.NoError(t, err)
	assert.False(t, hit, "unpinned sessions must not be cached")

	_, _, err = r.PinEmotionIfUnset(ctx, sid, emotion.Sadness)
	require.NoError(t, err)
	label, ok, err := r.PinnedEmotion(ctx, sid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, emotion.Sadness, label)

	hit, err = client.GetJSON(ctx, sessionCachePrefix+sid, &cached)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "SADNESS", cached["emotion"])

	// served from cache even once the row is gone
	_, err = store.DB().ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sid)
	require.NoError(t, err)
	label, ok, err = r.PinnedEmotion(ctx, sid)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, emotion.Sadness, label)
}
