package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/novus-synthesis/internal/auth"
	"github.com/wuwenbin0122/novus-synthesis/internal/history"
	"github.com/wuwenbin0122/novus-synthesis/internal/models"
	"github.com/wuwenbin0122/novus-synthesis/internal/synthesis"
	"github.com/wuwenbin0122/novus-synthesis/internal/utils"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	subjectKey      = "subject"
)

// Synthesizer is the single operation the gateway forwards to.
type Synthesizer interface {
	Send(ctx context.Context, message string, conversationID *string) (any, error)
}

type Handler struct {
	synth   Synthesizer
	history history.Store
	auth    *auth.Service
	logger  *zap.SugaredLogger
}

// NewHandler wires the gateway routes. store and authService may be nil to
// disable history and token checks respectively.
func NewHandler(synth Synthesizer, store history.Store, authService *auth.Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = utils.Logger().Sugar()
	}
	return &Handler{synth: synth, history: store, auth: authService, logger: logger}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api", h.assignRequestID, h.requireToken)

	apiGroup.POST("/chat", h.handleChat)
	apiGroup.GET("/chat/ws", h.handleChatSocket)
	apiGroup.GET("/conversations/:id", h.handleConversation)
}

type chatRequest struct {
	Message        string  `json:"message"`
	ConversationID *string `json:"conversation_id"`
}

func (h *Handler) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeError(c, http.StatusBadRequest, "message is required", errMissingMessage)
		return
	}

	logger := h.requestLogger(c)
	result, err := h.synth.Send(c.Request.Context(), req.Message, req.ConversationID)
	if err != nil {
		status, message := classifySynthesisError(err)
		logger.Warnw("synthesis failed", "status", status, "error", err)
		writeError(c, status, message, err)
		return
	}

	h.record(c.Request.Context(), logger, req, result)

	c.JSON(http.StatusOK, result)
}

func (h *Handler) handleConversation(c *gin.Context) {
	if h.history == nil {
		writeError(c, http.StatusNotFound, "conversation history is disabled", errHistoryDisabled)
		return
	}

	conversationID := strings.TrimSpace(c.Param("id"))
	limit := parseLimit(c.Query("limit"))

	exchanges, err := h.history.List(c.Request.Context(), conversationID, limit)
	if err != nil {
		if errors.Is(err, history.ErrConversationRequired) {
			writeError(c, http.StatusBadRequest, err.Error(), err)
			return
		}
		h.requestLogger(c).Errorw("list conversation failed", "conversation_id", conversationID, "error", err)
		writeError(c, http.StatusInternalServerError, "failed to load conversation", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"exchanges":       exchanges,
	})
}

var (
	errMissingMessage  = errors.New("message is required")
	errHistoryDisabled = errors.New("history disabled")
	errMissingToken    = errors.New("bearer token is required")
)

// classifySynthesisError maps a Send failure to the status returned to
// gateway callers.
func classifySynthesisError(err error) (int, string) {
	var urlErr *url.Error
	switch {
	case errors.Is(err, synthesis.ErrRequestFailed):
		return http.StatusBadGateway, synthesis.ErrRequestFailed.Error()
	case errors.As(err, &urlErr):
		if urlErr.Timeout() {
			return http.StatusGatewayTimeout, "synthesis endpoint timed out"
		}
		return http.StatusServiceUnavailable, "synthesis endpoint unavailable"
	default:
		return http.StatusBadGateway, "invalid synthesis response"
	}
}

// record stores the exchange under the request's conversation id, or under
// the conversation id the synthesis service assigned in its reply.
func (h *Handler) record(ctx context.Context, logger *zap.SugaredLogger, req chatRequest, result any) {
	if h.history == nil {
		return
	}

	body, _ := result.(map[string]any)

	conversationID := ""
	if req.ConversationID != nil {
		conversationID = strings.TrimSpace(*req.ConversationID)
	}
	if conversationID == "" {
		if id, ok := body["conversation_id"].(string); ok {
			conversationID = strings.TrimSpace(id)
		}
	}
	if conversationID == "" {
		logger.Debugw("exchange not recorded: no conversation id")
		return
	}

	answer, err := json.Marshal(result)
	if err != nil {
		logger.Warnw("encode exchange answer failed", "error", err)
		return
	}

	exchange := models.Exchange{
		ConversationID: conversationID,
		Question:       req.Message,
		Answer:         answer,
	}
	exchange.ApplyReplyContext(body)

	if err := h.history.Record(ctx, exchange); err != nil {
		logger.Warnw("record exchange failed", "conversation_id", conversationID, "error", err)
	}
}

func (h *Handler) assignRequestID(c *gin.Context) {
	id := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDKey, id)
	c.Header(requestIDHeader, id)
	c.Next()
}

func (h *Handler) requireToken(c *gin.Context) {
	if h.auth == nil {
		c.Next()
		return
	}

	token := parseAuthorizationToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}
	if token == "" {
		writeError(c, http.StatusUnauthorized, "unauthorized", errMissingToken)
		c.Abort()
		return
	}

	claims, err := h.auth.VerifyToken(token)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", err)
		c.Abort()
		return
	}

	c.Set(subjectKey, claims.Subject)
	c.Next()
}

func (h *Handler) requestLogger(c *gin.Context) *zap.SugaredLogger {
	logger := h.logger.With("request_id", c.GetString(requestIDKey))
	if subject := c.GetString(subjectKey); subject != "" {
		logger = logger.With("subject", subject)
	}
	return logger
}

func parseAuthorizationToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

func parseLimit(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return 0
	}
	return value
}

func writeError(c *gin.Context, status int, message string, err error) {
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
