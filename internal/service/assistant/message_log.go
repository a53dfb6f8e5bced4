package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"soultalk/internal/models"
	"soultalk/internal/redis"
	"soultalk/internal/storage"
)

const (
	sessionLockPrefix = "soultalk:lock:session:"
	maxAppendAttempts = 5
)

// MessageLog is the append-only turn history of each session.
//
// Appends for one session are serialized in-process and, when a redis locker
// is configured, across processes. The store's unique (session, seq) index
// backs this up: a lost race surfaces as storage.ErrConflict and is retried.
type MessageLog struct {
	store  storage.Store
	locker *redis.Locker
	locks  *keyedMutex
	logger *zap.Logger
	now    func() time.Time
}

func NewMessageLog(store storage.Store, locker *redis.Locker, logger *zap.Logger) *MessageLog {
	return &MessageLog{
		store:  store,
		locker: locker,
		locks:  newKeyedMutex(),
		logger: logger,
		now:    time.Now,
	}
}

// Append assigns msg the next sequence number and a timestamp strictly after
// the previous turn's, then persists it. ID is generated when empty.
func (l *MessageLog) Append(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.SessionID == "" {
		return fmt.Errorf("%w: message and sessionId are required", ErrInvalidInput)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	unlock := l.locks.Lock(msg.SessionID)
	defer unlock()
	if l.locker != nil {
		release, err := l.locker.Acquire(ctx, sessionLockPrefix+msg.SessionID)
		if err != nil {
			return fmt.Errorf("lock session %s: %w", msg.SessionID, err)
		}
		defer release()
	}

	for attempt := 1; ; attempt++ {
		seq, last, err := l.store.LastMessage(ctx, msg.SessionID)
		if err != nil {
			return err
		}
		msg.Seq = seq + 1
		msg.Timestamp = nextTimestamp(l.now(), last)

		err = l.store.InsertMessage(ctx, msg)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("%w: %s", ErrSessionNotFound, msg.SessionID)
		case errors.Is(err, storage.ErrConflict) && attempt < maxAppendAttempts:
			l.logger.Debug("message seq taken, retrying",
				zap.String("session_id", msg.SessionID),
				zap.Int64("seq", msg.Seq),
				zap.Int("attempt", attempt))
			continue
		default:
			return fmt.Errorf("append message: %w", err)
		}
	}
}

// History returns every turn of the session in order.
func (l *MessageLog) History(ctx context.Context, sessionID string) ([]models.Message, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}
	if _, err := l.store.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}
	return l.store.ListMessages(ctx, sessionID)
}

// nextTimestamp is now at millisecond precision, bumped past last if needed.
func nextTimestamp(now, last time.Time) time.Time {
	ts := now.UTC().Truncate(time.Millisecond)
	if !last.IsZero() && !ts.After(last) {
		ts = last.Add(time.Millisecond).UTC().Truncate(time.Millisecond)
	}
	return ts
}
