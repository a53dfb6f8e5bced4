package models

import (
	"time"

	"soultalk/internal/emotion"
)

// VoicePlaceholder stands in for the user text of a voice turn.
const VoicePlaceholder = "🎤 Voice message"

// Message is one completed turn: the user input and the reply it produced.
type Message struct {
	ID          string        `json:"id" bson:"_id"`
	SessionID   string        `json:"sessionId" bson:"sessionId"`
	Email       string        `json:"email" bson:"email"`
	UserMessage string        `json:"user_message" bson:"user_message"`
	Emotion     emotion.Label `json:"emotion" bson:"emotion"`
	Confidence  *float64      `json:"confidence,omitempty" bson:"confidence,omitempty"`
	BotReply    string        `json:"bot_reply" bson:"bot_reply"`
	Seq         int64         `json:"seq" bson:"seq"`
	Timestamp   time.Time     `json:"timestamp" bson:"timestamp"`
}
