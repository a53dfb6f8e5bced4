package models

import (
	"time"

	"soultalk/internal/emotion"
)

// Session groups a sequence of turns for one user. Emotion and Title stay nil
// until the first classified turn pins them, and never change afterwards.
type Session struct {
	ID        string         `json:"sessionId" bson:"sessionId"`
	Email     string         `json:"email" bson:"email"`
	Title     *string        `json:"title" bson:"title"`
	Emotion   *emotion.Label `json:"emotion" bson:"emotion"`
	CreatedAt time.Time      `json:"createdAt" bson:"createdAt"`
}

// Pinned reports the session's emotion, if any.
func (s *Session) Pinned() (emotion.Label, bool) {
	if s == nil || s.Emotion == nil {
		return "", false
	}
	return *s.Emotion, true
}
