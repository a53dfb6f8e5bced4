package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"soultalk/internal/emotion"
	"soultalk/internal/models"
	"soultalk/internal/redis"
	"soultalk/internal/storage"
)

const sessionCachePrefix = "soultalk:session:"

// Registry owns session lifecycle and the pin-once emotion rule.
//
// When a redis client is supplied, sessions whose emotion is pinned are
// cached. A pinned session never changes, so entries are never invalidated,
// only expired.
type Registry struct {
	store  storage.Store
	cache  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRegistry(store storage.Store, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{store: store, cache: cache, ttl: ttl, logger: logger}
}

// Create stores a fresh unpinned session for owner and returns its id.
func (r *Registry) Create(ctx context.Context, owner string) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	session := &models.Session{
		ID:        uuid.NewString(),
		Email:     owner,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateSession(ctx, session); err != nil {
		return "", err
	}
	r.logger.Info("session created", zap.String("session_id", session.ID), zap.String("email", owner))
	return session.ID, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}
	if s, ok := r.cached(ctx, id); ok {
		return s, nil
	}
	s, err := r.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	if _, pinned := s.Pinned(); pinned {
		r.remember(ctx, s)
	}
	return s, nil
}

// List returns owner's sessions, newest first.
func (r *Registry) List(ctx context.Context, owner string) ([]models.Session, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	return r.store.ListSessions(ctx, owner)
}

func (r *Registry) PinnedEmotion(ctx context.Context, id string) (emotion.Label, bool, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return "", false, err
	}
	label, ok := s.Pinned()
	return label, ok, nil
}

// PinEmotionIfUnset sets emotion and title to label unless the session is
// already pinned, in which case the existing label is returned unchanged.
// The store applies it as one conditional update.
func (r *Registry) PinEmotionIfUnset(ctx context.Context, id string, label emotion.Label) (emotion.Label, bool, error) {
	effective, pinned, err := r.store.PinEmotion(ctx, id, label)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return "", false, err
	}
	return effective, pinned, nil
}

func (r *Registry) cached(ctx context.Context, id string) (*models.Session, bool) {
	if r.cache == nil {
		return nil, false
	}
	var s models.Session
	ok, err := r.cache.GetJSON(ctx, sessionCachePrefix+id, &s)
	if err != nil {
		r.logger.Warn("session cache read failed", zap.String("session_id", id), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &s, true
}

func (r *Registry) remember(ctx context.Context, s *models.Session) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetJSON(ctx, sessionCachePrefix+s.ID, s, r.ttl); err != nil {
		r.logger.Warn("session cache write failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}
