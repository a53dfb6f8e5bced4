package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"soultalk/internal/config"
)

type fakeChatModel struct {
	reply string
	err   error
	delay time.Duration
	input []*schema.Message
	opts  *model.Options
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	f.opts = model.GetCommonOptions(nil, opts...)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestGenerate(t *testing.T) {
	fake := &fakeChatModel{reply: "  That sounds wonderful! 🌞 What made today so good?  "}
	g := NewReplyGenerator(fake, time.Second, zaptest.NewLogger(t))

	reply, err := g.Generate(context.Background(), "User: I feel great today", 0.6, "command-r")
	require.NoError(t, err)
	assert.Equal(t, "That sounds wonderful! 🌞 What made today so good?", reply)

	require.Len(t, fake.input, 1)
	assert.Equal(t, schema.User, fake.input[0].Role)
	assert.Equal(t, "User: I feel great today", fake.input[0].Content)
	require.NotNil(t, fake.opts.Temperature)
	assert.InDelta(t, 0.6, *fake.opts.Temperature, 1e-6)
	require.NotNil(t, fake.opts.Model)
	assert.Equal(t, "command-r", *fake.opts.Model)
}

func TestGenerateDefaultModel(t *testing.T) {
	fake := &fakeChatModel{reply: "hi"}
	_, err := NewReplyGenerator(fake, 0, zaptest.NewLogger(t)).Generate(context.Background(), "p", 0.6, "")
	require.NoError(t, err)
	assert.Nil(t, fake.opts.Model)
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeChatModel
	}{
		{"service error", &fakeChatModel{err: errors.New("quota exceeded")}},
		{"empty reply", &fakeChatModel{reply: " \n "}},
		{"timeout", &fakeChatModel{reply: "late", delay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewReplyGenerator(tt.fake, 50*time.Millisecond, zaptest.NewLogger(t))
			_, err := g.Generate(context.Background(), "p", 0.6, "")
			assert.ErrorIs(t, err, ErrGeneration)
		})
	}

	_, err := NewReplyGenerator(nil, 0, zaptest.NewLogger(t)).Generate(context.Background(), "p", 0.6, "")
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestNewChatModelRejectsBadConfig(t *testing.T) {
	_, err := NewChatModel(context.Background(), "cohere", config.ProviderConfig{Model: "command-r"}, "")
	assert.ErrorContains(t, err, "invalid provider")

	_, err = NewChatModel(context.Background(), "openai", config.ProviderConfig{}, "")
	assert.ErrorContains(t, err, "no model configured")
}

func TestNewChatModelOpenAI(t *testing.T) {
	m, err := NewChatModel(context.Background(), "OpenAI", config.ProviderConfig{
		BaseURL: "http://127.0.0.1:1/v1", Model: "gpt-4o-mini", APIKey: "sk-test",
	}, "")
	require.NoError(t, err)
	assert.NotNil(t, m)
}
