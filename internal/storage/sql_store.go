package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"soultalk/internal/emotion"
	"soultalk/internal/models"
)

// SQLStore implements Store over sqlite3 or mysql.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// DB exposes the handle for tests and maintenance tooling.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, email, title, emotion, created_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Email, nullString(session.Title), nullLabel(session.Emotion), session.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, title, emotion, created_at FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, email string) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, title, emotion, created_at FROM sessions WHERE email = ? ORDER BY created_at DESC, id DESC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

func (s *SQLStore) PinEmotion(ctx context.Context, id string, label emotion.Label) (emotion.Label, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET emotion = ?, title = ? WHERE id = ? AND emotion IS NULL`,
		string(label), string(label), id,
	)
	if err != nil {
		return "", false, fmt.Errorf("pin emotion: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("pin emotion rows: %w", err)
	}
	if affected == 1 {
		return label, true, nil
	}

	var current sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT emotion FROM sessions WHERE id = ?`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, ErrNotFound
		}
		return "", false, fmt.Errorf("read pinned emotion: %w", err)
	}
	if !current.Valid {
		return "", false, fmt.Errorf("pin emotion: session %s left unpinned", id)
	}
	return emotion.Label(current.String), false, nil
}

func (s *SQLStore) LastMessage(ctx context.Context, sessionID string) (int64, time.Time, error) {
	var (
		seq int64
		ts  time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, created_at FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT 1`,
		sessionID,
	).Scan(&seq, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("last message: %w", err)
	}
	return seq, ts.UTC(), nil
}

func (s *SQLStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	var confidence sql.NullFloat64
	if msg.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *msg.Confidence, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, email, user_message, emotion, confidence, bot_reply, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Email, msg.UserMessage, string(msg.Emotion), confidence,
		msg.BotReply, msg.Seq, msg.Timestamp.UTC(),
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return ErrConflict
		case isForeignKeyViolation(err):
			return ErrNotFound
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLStore) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, email, user_message, emotion, confidence, bot_reply, seq, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			m          models.Message
			label      string
			confidence sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Email, &m.UserMessage, &label, &confidence,
			&m.BotReply, &m.Seq, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Emotion = emotion.Label(label)
		if confidence.Valid {
			v := confidence.Float64
			m.Confidence = &v
		}
		m.Timestamp = m.Timestamp.UTC()
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session models.Session
		title   sql.NullString
		label   sql.NullString
	)
	if err := row.Scan(&session.ID, &session.Email, &title, &label, &session.CreatedAt); err != nil {
		return nil, err
	}
	if title.Valid {
		t := title.String
		session.Title = &t
	}
	if label.Valid {
		l := emotion.Label(label.String)
		session.Emotion = &l
	}
	session.CreatedAt = session.CreatedAt.UTC()
	return &session, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullLabel(l *emotion.Label) sql.NullString {
	if l == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*l), Valid: true}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1452
	}
	return false
}
