package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/horus-bot/firstAId-chat-bot-api/internal/metrics"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/models"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/service/assistant"
)

// ChatRunner runs exchanges, serialized per session.
type ChatRunner interface {
	Exchange(ctx context.Context, sessionID, message string) (*assistant.Result, error)
}

// SessionCounter reports how many sessions the store holds.
type SessionCounter interface {
	Len(ctx context.Context) (int, error)
}

// Info is reported by the liveness route.
type Info struct {
	Service  string
	Provider string
	Model    string
}

// Handler wires HTTP routes to the per-session chat workers.
type Handler struct {
	chats    ChatRunner
	sessions SessionCounter
	info     Info
}

// NewHandler constructs a Handler instance.
func NewHandler(chats ChatRunner, sessions SessionCounter, info Info) *Handler {
	return &Handler{
		chats:    chats,
		sessions: sessions,
		info:     info,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(CORS())
	router.GET("/", h.status)
	router.POST("/chat", h.chat)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

type chatRequest struct {
	Message   string  `json:"message"`
	SessionID *string `json:"session_id"`
}

type chatResponse struct {
	SessionID string            `json:"session_id"`
	Reply     string            `json:"reply"`
	History   models.Transcript `json:"history"`
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.ObserveChat(metrics.OutcomeInvalid)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "session_id": nil})
		return
	}

	var requested string
	if req.SessionID != nil {
		requested = *req.SessionID
	}
	sessionID, created := assistant.ResolveSessionID(requested)

	ctx := c.Request.Context()
	res, err := h.chats.Exchange(ctx, sessionID, req.Message)
	if err != nil {
		h.writeError(c, sessionID, err)
		return
	}

	if created {
		metrics.IncSessionsCreated()
	}
	metrics.ObserveChat(metrics.OutcomeOK)
	h.refreshSessionGauge(ctx)

	c.JSON(http.StatusOK, chatResponse{
		SessionID: res.SessionID,
		Reply:     res.Reply,
		History:   res.History,
	})
}

func (h *Handler) writeError(c *gin.Context, sessionID string, err error) {
	exErr := assistant.AsExchangeError(sessionID, err)
	status, outcome := classify(exErr.Kind)
	metrics.ObserveChat(outcome)

	logger := zerolog.Ctx(c.Request.Context())
	event := logger.Warn()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		event = logger.Error()
	}
	event.Err(err).Str("session_id", exErr.SessionID).Str("kind", string(exErr.Kind)).Msg("chat exchange failed")

	c.JSON(status, gin.H{"error": exErr.Error(), "session_id": exErr.SessionID})
}

func classify(kind assistant.ErrorKind) (int, string) {
	switch kind {
	case assistant.KindMissingInput, assistant.KindInvalidInput:
		return http.StatusBadRequest, metrics.OutcomeInvalid
	case assistant.KindUpstream:
		return http.StatusBadGateway, metrics.OutcomeUpstream
	case assistant.KindBusy:
		return http.StatusTooManyRequests, metrics.OutcomeBusy
	case assistant.KindCanceled:
		return http.StatusServiceUnavailable, metrics.OutcomeCanceled
	default:
		return http.StatusInternalServerError, metrics.OutcomeStore
	}
}

func (h *Handler) refreshSessionGauge(ctx context.Context) {
	if h.sessions == nil {
		return
	}
	n, err := h.sessions.Len(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("count sessions failed")
		}
		return
	}
	metrics.SetLiveSessions(n)
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"service":  h.info.Service,
		"provider": h.info.Provider,
		"model":    h.info.Model,
	})
}
