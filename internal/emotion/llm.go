package emotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// LLMClassifier asks a chat model for the dominant emotion of a message.
type LLMClassifier struct {
	runnable compose.Runnable[map[string]any, *schema.Message]
	modelID  string
	timeout  time.Duration
}

// NewLLMClassifier compiles the classification chain. modelID may be empty to
// use the model's configured default.
func NewLLMClassifier(ctx context.Context, chatModel model.BaseChatModel, modelID string, timeout time.Duration) (*LLMClassifier, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	tpl := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage("Message:\n{text}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tpl)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile emotion classifier chain: %w", err)
	}
	return &LLMClassifier{runnable: runnable, modelID: modelID, timeout: timeout}, nil
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) (string, float64, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	opts := []model.Option{model.WithTemperature(0)}
	if c.modelID != "" {
		opts = append(opts, model.WithModel(c.modelID))
	}
	msg, err := c.runnable.Invoke(ctx, map[string]any{"text": strings.TrimSpace(text)},
		compose.WithChatModelOption(opts...))
	if err != nil {
		return "", 0, fmt.Errorf("invoke classifier: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", 0, errors.New("classifier returned empty output")
	}

	payload, err := parseClassifierOutput(msg.Content)
	if err != nil {
		return "", 0, fmt.Errorf("parse classifier output: %w", err)
	}
	label := strings.TrimSpace(payload.Emotion)
	if label == "" {
		return "", 0, errors.New("classifier output has no emotion")
	}

	confidence := payload.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}
	if confidence > 1 {
		confidence = 1
	}
	return label, confidence, nil
}

type classifierPayload struct {
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
}

// parseClassifierOutput takes the outermost JSON object, tolerating prose or
// code fences around it.
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, errors.New("missing json object")
	}
	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// literal braces are doubled for the FString template
const classifierSystemPrompt = "You classify the emotion of a chat message. " +
	"Choose exactly one of: joy, sadness, anger, fear, love, surprise, neutral. " +
	"Reply with a single JSON object and nothing else, for example " +
	`{{"emotion": "sadness", "confidence": 0.82}}` +
	". confidence is a number between 0 and 1."
