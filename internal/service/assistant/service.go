package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"soultalk/internal/emotion"
	"soultalk/internal/models"
	"soultalk/internal/service/ai"
)

// Generator produces a reply for an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float32, modelID string) (string, error)
}

// Options tune reply generation.
type Options struct {
	Temperature float32
	Model       string
}

// Service handles inbound chat turns end to end.
type Service struct {
	sessions   *Registry
	messages   *MessageLog
	dispatcher *emotion.Dispatcher
	assembler  *ai.ContextAssembler
	generator  Generator
	opts       Options
	logger     *zap.Logger
}

func NewService(sessions *Registry, messages *MessageLog, dispatcher *emotion.Dispatcher,
	assembler *ai.ContextAssembler, generator Generator, opts Options, logger *zap.Logger) *Service {
	return &Service{
		sessions:   sessions,
		messages:   messages,
		dispatcher: dispatcher,
		assembler:  assembler,
		generator:  generator,
		opts:       opts,
		logger:     logger,
	}
}

type TextRequest struct {
	Email     string
	SessionID string
	Message   string
}

type VoiceRequest struct {
	Email     string
	SessionID string
	Audio     []byte
	FileName  string
}

// Reply is what a handled turn returns to the caller.
type Reply struct {
	Reply        string          `json:"reply"`
	Emotion      emotion.Label   `json:"emotion"`
	TitleChanged bool            `json:"titleChanged"`
	Message      *models.Message `json:"-"`
}

func (s *Service) CreateSession(ctx context.Context, email string) (string, error) {
	return s.sessions.Create(ctx, email)
}

func (s *Service) ListSessions(ctx context.Context, email string) ([]models.Session, error) {
	return s.sessions.List(ctx, email)
}

func (s *Service) SessionMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	return s.messages.History(ctx, sessionID)
}

// HandleText answers a typed message. Either the whole turn is stored or
// nothing is.
func (s *Service) HandleText(ctx context.Context, req TextRequest) (*Reply, error) {
	email := strings.TrimSpace(req.Email)
	text := strings.TrimSpace(req.Message)
	if email == "" || req.SessionID == "" || text == "" {
		return nil, fmt.Errorf("%w: email, sessionId and message are required", ErrInvalidInput)
	}
	// a disconnecting caller must not leave a turn half done
	ctx = context.WithoutCancel(ctx)

	if err := s.checkOwner(ctx, email, req.SessionID); err != nil {
		return nil, err
	}
	res, err := s.dispatcher.ResolveText(ctx, req.SessionID, text)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, email, req.SessionID, text, res)
}

// HandleVoice answers a voice note. Audio that cannot be classified yields
// UNKNOWN rather than an error.
func (s *Service) HandleVoice(ctx context.Context, req VoiceRequest) (*Reply, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.SessionID == "" {
		return nil, fmt.Errorf("%w: email and sessionId are required", ErrInvalidInput)
	}
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("%w: no audio file provided", ErrInvalidInput)
	}
	ctx = context.WithoutCancel(ctx)

	if err := s.checkOwner(ctx, email, req.SessionID); err != nil {
		return nil, err
	}
	res, err := s.dispatcher.ResolveAudio(ctx, email, req.SessionID, req.Audio)
	if err != nil {
		return nil, err
	}
	if res.Outcome != nil {
		s.logger.Info("voice message classified",
			zap.String("session_id", req.SessionID),
			zap.String("file", req.FileName),
			zap.Int("bytes", len(req.Audio)),
			zap.String("status", res.Outcome.Status.String()))
	}
	return s.complete(ctx, email, req.SessionID, models.VoicePlaceholder, res)
}

func (s *Service) checkOwner(ctx context.Context, email, sessionID string) error {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(session.Email, email) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

func (s *Service) complete(ctx context.Context, email, sessionID, userMessage string, res emotion.Resolution) (*Reply, error) {
	history, err := s.messages.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	prompt := s.assembler.Build(history, res.Label, userMessage)

	start := time.Now()
	reply, err := s.generator.Generate(ctx, prompt, s.opts.Temperature, s.opts.Model)
	if err != nil {
		s.logger.Error("turn dropped, reply generation failed",
			zap.String("session_id", sessionID),
			zap.String("emotion", res.Label.String()),
			zap.Error(err))
		return nil, err
	}

	msg := &models.Message{
		SessionID:   sessionID,
		Email:       email,
		UserMessage: userMessage,
		Emotion:     res.Label,
		Confidence:  res.Confidence,
		BotReply:    reply,
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, err
	}
	s.logger.Info("turn stored",
		zap.String("session_id", sessionID),
		zap.Int64("seq", msg.Seq),
		zap.String("emotion", res.Label.String()),
		zap.String("source", string(res.Source)),
		zap.Bool("title_changed", res.JustPinned),
		zap.Duration("elapsed", time.Since(start)))

	return &Reply{
		Reply:        reply,
		Emotion:      res.Label,
		TitleChanged: res.JustPinned,
		Message:      msg,
	}, nil
}
