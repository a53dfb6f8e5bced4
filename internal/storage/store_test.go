package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"soultalk/internal/config"
	"soultalk/internal/emotion"
	"soultalk/internal/models"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}},
	}
	db, err := Open("sqlite3", cfg)
	require.NoError(t, err)
	require.NoError(t, Migrate(db, "sqlite3"))
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db, "sqlite3")
}

func newMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set TEST_MONGO_URI to run mongo-backed store tests")
	}
	dbName := fmt.Sprintf("soultalk_test_%d", time.Now().UnixNano())
	s, err := NewMongoStore(context.Background(), config.DatabaseConfig{URI: uri, DBName: dbName}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.sessions.Database().Drop(context.Background())
		s.Close()
	})
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return newSQLiteStore(t) })
}

func TestMongoStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return newMongoStore(t) })
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("create get list", func(t *testing.T) { testCreateGetList(t, newStore(t)) })
	t.Run("pin once", func(t *testing.T) { testPinOnce(t, newStore(t)) })
	t.Run("concurrent pin", func(t *testing.T) { testConcurrentPin(t, newStore(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, newStore(t)) })
}

func newSession(email string, created time.Time) *models.Session {
	return &models.Session{ID: uuid.NewString(), Email: email, CreatedAt: created}
}

func testCreateGetList(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	older := newSession("a@example.com", base.Add(-time.Minute))
	newer := newSession("a@example.com", base)
	other := newSession("b@example.com", base)
	for _, sess := range []*models.Session{older, newer, other} {
		require.NoError(t, s.CreateSession(ctx, sess))
	}

	got, err := s.GetSession(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)
	assert.Nil(t, got.Emotion)
	assert.Nil(t, got.Title)
	assert.True(t, got.CreatedAt.Equal(older.CreatedAt))

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListSessions(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	empty, err := s.ListSessions(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testPinOnce(t *testing.T, s Store) {
	ctx := context.Background()
	sess := newSession("a@example.com", time.Now().UTC())
	require.NoError(t, s.CreateSession(ctx, sess))

	label, pinned, err := s.PinEmotion(ctx, sess.ID, emotion.Sadness)
	require.NoError(t, err)
	assert.True(t, pinned)
	assert.Equal(t, emotion.Sadness, label)

	label, pinned, err = s.PinEmotion(ctx, sess.ID, emotion.Joy)
	require.NoError(t, err)
	assert.False(t, pinned)
	assert.Equal(t, emotion.Sadness, label)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Emotion)
	require.NotNil(t, got.Title)
	assert.Equal(t, emotion.Sadness, *got.Emotion)
	assert.Equal(t, "SADNESS", *got.Title)

	_, _, err = s.PinEmotion(ctx, "missing", emotion.Joy)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testConcurrentPin(t *testing.T, s Store) {
	ctx := context.Background()
	sess := newSession("a@example.com", time.Now().UTC())
	require.NoError(t, s.CreateSession(ctx, sess))

	candidates := []emotion.Label{emotion.Joy, emotion.Anger, emotion.Fear, emotion.Love, emotion.Surprise, emotion.Sadness}
	const n = 24
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		seen    = map[emotion.Label]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			label, pinned, err := s.PinEmotion(ctx, sess.ID, candidates[i%len(candidates)])
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if pinned {
				winners++
			}
			seen[label]++
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Len(t, seen, 1, "every caller must observe the same pinned label")
}

func testMessages(t *testing.T, s Store) {
	ctx := context.Background()
	sess := newSession("a@example.com", time.Now().UTC())
	require.NoError(t, s.CreateSession(ctx, sess))

	seq, ts, err := s.LastMessage(ctx, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, seq)
	assert.True(t, ts.IsZero())

	base := time.Now().UTC().Truncate(time.Millisecond)
	conf := 0.8
	for i := 1; i <= 3; i++ {
		msg := &models.Message{
			ID:          uuid.NewString(),
			SessionID:   sess.ID,
			Email:       sess.Email,
			UserMessage: fmt.Sprintf("hello %d", i),
			Emotion:     emotion.Joy,
			BotReply:    fmt.Sprintf("reply %d", i),
			Seq:         int64(i),
			Timestamp:   base.Add(time.Duration(i) * time.Millisecond),
		}
		if i == 1 {
			msg.Confidence = &conf
		}
		require.NoError(t, s.InsertMessage(ctx, msg))
	}

	dup := &models.Message{ID: uuid.NewString(), SessionID: sess.ID, Email: sess.Email, Emotion: emotion.Joy, Seq: 2, Timestamp: base}
	assert.ErrorIs(t, s.InsertMessage(ctx, dup), ErrConflict)

	orphan := &models.Message{ID: uuid.NewString(), SessionID: "missing", Email: sess.Email, Emotion: emotion.Joy, Seq: 1, Timestamp: base}
	assert.ErrorIs(t, s.InsertMessage(ctx, orphan), ErrNotFound)

	seq, ts, err = s.LastMessage(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)
	assert.True(t, ts.Equal(base.Add(3*time.Millisecond)))

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
		assert.Equal(t, fmt.Sprintf("hello %d", i+1), m.UserMessage)
	}
	require.NotNil(t, msgs[0].Confidence)
	assert.InDelta(t, 0.8, *msgs[0].Confidence, 1e-9)
	assert.Nil(t, msgs[1].Confidence)
}
