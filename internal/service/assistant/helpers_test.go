package assistant

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"soultalk/internal/audio"
	"soultalk/internal/audio/audiotest"
	"soultalk/internal/config"
	"soultalk/internal/emotion"
	"soultalk/internal/service/ai"
	"soultalk/internal/storage"
)

func openTestStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewSQLStore(db, "sqlite3")
}

// scriptedGenerator returns canned replies and records the prompts it saw.
type scriptedGenerator struct {
	mu      sync.Mutex
	err     error
	prompts []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string, _ float32, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return "I'm here with you 🌱", nil
}

type harness struct {
	store     *storage.SQLStore
	registry  *Registry
	messages  *MessageLog
	generator *scriptedGenerator
	svc       *Service
}

func newHarness(t *testing.T, text emotion.TextClassifier) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := openTestStore(t)
	registry := NewRegistry(store, nil, 0, logger)
	messages := NewMessageLog(store, nil, logger)

	modelPath := audiotest.WriteModel(t, audio.FeatureSetName, audio.FeatureDim, []string{"ANGRY", "HAPPY", "NEUTRAL", "SAD"}, 1)
	pipeline := audio.NewPipeline(audio.NewDecoder(16000, 0), audio.NewExtractor(), audio.NewClassifier(modelPath, logger), nil, logger)

	dispatcher := emotion.NewDispatcher(registry, text, pipeline, logger)
	gen := &scriptedGenerator{}
	svc := NewService(registry, messages, dispatcher, ai.NewContextAssembler(ai.DefaultMaxTurns, ai.DefaultMaxChars),
		gen, Options{Temperature: 0.6}, logger)
	return &harness{store: store, registry: registry, messages: messages, generator: gen, svc: svc}
}
