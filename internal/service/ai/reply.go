package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// ErrGeneration wraps every failure to produce a reply.
var ErrGeneration = errors.New("reply generation failed")

// ReplyGenerator sends an assembled prompt to a chat model.
type ReplyGenerator struct {
	chatModel model.BaseChatModel
	timeout   time.Duration
	logger    *zap.Logger
}

func NewReplyGenerator(chatModel model.BaseChatModel, timeout time.Duration, logger *zap.Logger) *ReplyGenerator {
	return &ReplyGenerator{chatModel: chatModel, timeout: timeout, logger: logger}
}

// Generate returns the trimmed reply. modelID may be empty to keep the
// model's configured default.
func (g *ReplyGenerator) Generate(ctx context.Context, prompt string, temperature float32, modelID string) (string, error) {
	if g.chatModel == nil {
		return "", fmt.Errorf("%w: no chat model configured", ErrGeneration)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	opts := []model.Option{model.WithTemperature(temperature)}
	if modelID != "" {
		opts = append(opts, model.WithModel(modelID))
	}

	start := time.Now()
	msg, err := g.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)}, opts...)
	if err != nil {
		g.logger.Error("reply generation failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if msg == nil {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}
	reply := strings.TrimSpace(msg.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}
	g.logger.Debug("reply generated", zap.Int("chars", len(reply)), zap.Duration("elapsed", time.Since(start)))
	return reply, nil
}
