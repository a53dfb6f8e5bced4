package ai

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"soultalk/internal/emotion"
	"soultalk/internal/models"
)

const (
	DefaultMaxTurns = 20
	DefaultMaxChars = 12000
)

// ContextAssembler renders the reply prompt: prior turns oldest first, the
// persona instructions for the pinned emotion, then the new input as the
// last line.
//
// History is bounded twice: at most MaxTurns recent turns are kept, then the
// oldest are dropped until the prompt fits MaxChars (counted in runes). The
// instructions and the new input are never dropped. Zero disables a bound.
type ContextAssembler struct {
	MaxTurns int
	MaxChars int
}

func NewContextAssembler(maxTurns, maxChars int) *ContextAssembler {
	if maxTurns < 0 {
		maxTurns = DefaultMaxTurns
	}
	if maxChars < 0 {
		maxChars = DefaultMaxChars
	}
	return &ContextAssembler{MaxTurns: maxTurns, MaxChars: maxChars}
}

// Build assembles the prompt. history must not contain the turn being answered.
func (a *ContextAssembler) Build(history []models.Message, label emotion.Label, input string) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, fmt.Sprintf("User: %s\nSoulTalk: %s", flatten(m.UserMessage), flatten(m.BotReply)))
	}
	if a.MaxTurns > 0 && len(lines) > a.MaxTurns {
		lines = lines[len(lines)-a.MaxTurns:]
	}

	tail := "\n\n" + instructions(label) + "\n\nUser: " + flatten(input)
	if a.MaxChars > 0 {
		// lines are joined by n-1 newlines; tail already starts with its own
		size := utf8.RuneCountInString(tail) - 1
		for _, l := range lines {
			size += utf8.RuneCountInString(l) + 1
		}
		for len(lines) > 0 && size > a.MaxChars {
			size -= utf8.RuneCountInString(lines[0]) + 1
			lines = lines[1:]
		}
	}

	var b strings.Builder
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString(tail)
	return strings.TrimLeft(b.String(), "\n")
}

func instructions(label emotion.Label) string {
	feeling := "The user is feeling " + strings.ToLower(label.String()) + "."
	if label == emotion.Unknown || label == "" {
		feeling = "The user's feelings are not clear yet, so listen closely and follow their lead."
	}
	return strings.Join([]string{
		"You are SoulTalk, an empathetic and supportive AI companion. " + feeling,
		"Your role is to gently respond based on the full conversation. Keep the tone supportive and friendly.",
		"Instructions:",
		"- Be concise (2-3 lines).",
		"- Don't make the response very big, keep it crisp and concise.",
		"- Use emojis if needed.",
		"- Stay emotionally in tune with the user.",
		"- Never repeat previous responses.",
		"- Avoid generic filler like \"I'm sorry you feel that way\".",
	}, "\n")
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// flatten keeps each turn on its own line pair.
func flatten(s string) string {
	return strings.TrimSpace(lineBreaks.Replace(s))
}
