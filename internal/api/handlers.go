package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"soultalk/internal/models"
	"soultalk/internal/service/assistant"
	"soultalk/internal/worker"
)

const defaultMaxUploadBytes = 10 << 20

// ChatService is the message-handling surface the routes call into.
type ChatService interface {
	CreateSession(ctx context.Context, email string) (string, error)
	ListSessions(ctx context.Context, email string) ([]models.Session, error)
	SessionMessages(ctx context.Context, sessionID string) ([]models.Message, error)
	HandleText(ctx context.Context, req assistant.TextRequest) (*assistant.Reply, error)
	HandleVoice(ctx context.Context, req assistant.VoiceRequest) (*assistant.Reply, error)
}

// Probes feed /healthz. Nil members are reported as absent.
type Probes struct {
	Store interface{ Ping(ctx context.Context) error }
	Audio interface{ ModelAvailable() bool }
	Pool  interface{ Stats() worker.Stats }
}

// Handler wires HTTP routes to the chat service.
type Handler struct {
	chat      ChatService
	probes    Probes
	maxUpload int64
	logger    *zap.Logger
}

// NewHandler constructs a Handler. maxUpload caps voice uploads in bytes.
func NewHandler(chat ChatService, probes Probes, maxUpload int64, logger *zap.Logger) *Handler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &Handler{chat: chat, probes: probes, maxUpload: maxUpload, logger: logger}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(CORS())
	router.GET("/", h.home)
	router.GET("/healthz", h.healthz)

	api := router.Group("/api")
	api.POST("/session/new", h.createSession)
	api.POST("/session/list", h.listSessions)
	api.POST("/session/messages", h.sessionMessages)
	api.POST("/message", h.handleMessage)
	api.POST("/voice-message", h.handleVoiceMessage)
}

// CORS allows browser clients from any origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}
		header := c.Writer.Header()
		header.Set("Access-Control-Allow-Origin", origin)
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		header.Set("Access-Control-Max-Age", "600")
		if origin != "*" {
			header.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *Handler) home(c *gin.Context) {
	c.String(http.StatusOK, "SoulTalk backend is running")
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	if h.probes.Store != nil {
		if err := h.probes.Store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["store"] = err.Error()
		} else {
			body["store"] = "ok"
		}
	}
	if h.probes.Audio != nil {
		body["audio_model"] = h.probes.Audio.ModelAvailable()
	}
	if h.probes.Pool != nil {
		body["workers"] = h.probes.Pool.Stats()
	}
	c.JSON(status, body)
}

type emailRequest struct {
	Email string `json:"email"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id, err := h.chat.CreateSession(c.Request.Context(), req.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionId": id})
}

func (h *Handler) listSessions(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sessions, err := h.chat.ListSessions(c.Request.Context(), req.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) sessionMessages(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	messages, err := h.chat.SessionMessages(c.Request.Context(), req.SessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type messageRequest struct {
	Email     string `json:"email"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (h *Handler) handleMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reply, err := h.chat.HandleText(c.Request.Context(), assistant.TextRequest{
		Email:     req.Email,
		SessionID: req.SessionID,
		Message:   req.Message,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (h *Handler) handleVoiceMessage(c *gin.Context) {
	if c.Request.ContentLength > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio file too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	if err := c.Request.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}

	file, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No audio file provided"})
		return
	}
	email := strings.TrimSpace(c.PostForm("email"))
	sessionID := strings.TrimSpace(c.PostForm("sessionId"))
	if email == "" || sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing email or sessionId"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return
	}

	reply, err := h.chat.HandleVoice(c.Request.Context(), assistant.VoiceRequest{
		Email:     email,
		SessionID: sessionID,
		Audio:     data,
		FileName:  file.Filename,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, assistant.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, assistant.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid session"})
	default:
		_ = c.Error(err)
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
