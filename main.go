package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"soultalk/internal/api"
	"soultalk/internal/audio"
	"soultalk/internal/config"
	"soultalk/internal/emotion"
	"soultalk/internal/logging"
	"soultalk/internal/redis"
	"soultalk/internal/service/ai"
	"soultalk/internal/service/assistant"
	"soultalk/internal/storage"
	"soultalk/internal/worker"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("SOULTALK_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.BasicConfig.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := storage.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	logger.Info("store ready", zap.String("store", cfg.Store))

	var (
		rdb    *redis.Client
		locker *redis.Locker
	)
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
		locker = redis.NewLocker(rdb, 10*time.Second, 5*time.Second)
	}

	pool := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
		QueueWait:         time.Duration(cfg.BasicConfig.QueueWaitSeconds) * time.Second,
	}, logger)
	defer pool.Stop()

	classifier := audio.NewClassifier(cfg.Audio.ModelPath, logger)
	defer classifier.Close()
	if cfg.Audio.WarmOnStart {
		if err := classifier.Warm(); err != nil {
			logger.Warn("audio model unavailable, voice turns will be UNKNOWN", zap.Error(err))
		} else {
			logger.Info("audio model loaded", zap.String("version", classifier.Version()))
		}
	}
	pipeline := audio.NewPipeline(
		audio.NewDecoder(cfg.Audio.SampleRate, time.Duration(cfg.Audio.MaxDurationSeconds)*time.Second),
		audio.NewExtractor(),
		classifier,
		pool,
		logger,
	)

	replyProvider, err := cfg.Provider(cfg.Reply.Provider)
	if err != nil {
		return err
	}
	replyModel, err := ai.NewChatModel(ctx, cfg.Reply.Provider, replyProvider, cfg.Reply.Model)
	if err != nil {
		return fmt.Errorf("init reply model: %w", err)
	}
	generator := ai.NewReplyGenerator(replyModel, time.Duration(cfg.Reply.TimeoutSeconds)*time.Second, logger)

	textClassifier, err := newTextClassifier(ctx, cfg, replyModel)
	if err != nil {
		return fmt.Errorf("init text classifier: %w", err)
	}

	registry := assistant.NewRegistry(store, rdb, time.Duration(cfg.Redis.SessionTTL)*time.Minute, logger)
	messages := assistant.NewMessageLog(store, locker, logger)
	dispatcher := emotion.NewDispatcher(registry, textClassifier, pipeline, logger)
	svc := assistant.NewService(
		registry,
		messages,
		dispatcher,
		ai.NewContextAssembler(cfg.Reply.MaxHistoryTurns, cfg.Reply.MaxPromptChars),
		generator,
		assistant.Options{Temperature: cfg.Reply.Temperature, Model: cfg.Reply.Model},
		logger,
	)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(logging.GinLogger(logger), gin.Recovery())
	api.NewHandler(svc, api.Probes{Store: store, Audio: pipeline, Pool: pool},
		int64(cfg.BasicConfig.MaxUploadMB)<<20, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newTextClassifier picks the text emotion backend. The llm backend reuses the
// reply model unless a separate provider is configured.
func newTextClassifier(ctx context.Context, cfg *config.Config, replyModel model.BaseChatModel) (emotion.TextClassifier, error) {
	timeout := time.Duration(cfg.Emotion.TimeoutSeconds) * time.Second
	switch strings.ToLower(cfg.Emotion.TextClassifier) {
	case "lexicon":
		return emotion.NewLexicon(), nil
	case "huggingface", "hf":
		return emotion.NewHFClassifier(cfg.Emotion.HFEndpoint, cfg.Emotion.HFToken, timeout), nil
	case "", "llm":
		chatModel := replyModel
		if cfg.Emotion.TextProvider != "" {
			provCfg, err := cfg.Provider(cfg.Emotion.TextProvider)
			if err != nil {
				return nil, err
			}
			m, err := ai.NewChatModel(ctx, cfg.Emotion.TextProvider, provCfg, cfg.Emotion.TextModel)
			if err != nil {
				return nil, err
			}
			chatModel = m
		}
		return emotion.NewLLMClassifier(ctx, chatModel, cfg.Emotion.TextModel, timeout)
	default:
		return nil, fmt.Errorf("unknown text classifier %q", cfg.Emotion.TextClassifier)
	}
}
