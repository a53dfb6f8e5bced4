package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"soultalk/internal/config"
	"soultalk/internal/emotion"
	"soultalk/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by InsertMessage when the (session, seq) slot is taken.
	ErrConflict = errors.New("conflict")
)

// Store persists sessions and turns.
type Store interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// ListSessions returns the owner's sessions, newest first.
	ListSessions(ctx context.Context, email string) ([]models.Session, error)
	// PinEmotion sets emotion (and title) only if the session has none yet, as
	// one conditional write. It returns the session's emotion after the call
	// and whether this call was the one that set it.
	PinEmotion(ctx context.Context, id string, label emotion.Label) (emotion.Label, bool, error)
	// LastMessage returns the seq and timestamp of the newest turn, zero values when empty.
	LastMessage(ctx context.Context, sessionID string) (int64, time.Time, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
	// ListMessages returns turns in append order.
	ListMessages(ctx context.Context, sessionID string) ([]models.Message, error)
	Ping(ctx context.Context) error
	Close() error
}

// New opens the backend selected by cfg.Store and prepares its schema.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Store {
	case "mongo":
		return NewMongoStore(ctx, cfg.Databases["mongo"], logger)
	case "sqlite3", "mysql":
		db, err := Open(cfg.Store, cfg)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db, cfg.Store); err != nil {
			db.Close()
			return nil, err
		}
		return NewSQLStore(db, cfg.Store), nil
	default:
		return nil, fmt.Errorf("unsupported store: %s", cfg.Store)
	}
}
