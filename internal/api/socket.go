package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleChatSocket serves chat requests over a websocket. Each text frame is
// one chatRequest and gets exactly one reply frame, in order.
func (h *Handler) handleChatSocket(c *gin.Context) {
	logger := h.requestLogger(c)

	conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnw("chat websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugw("chat websocket read ended", "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var req chatRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			if writeErr := conn.WriteJSON(gin.H{"error": "invalid payload"}); writeErr != nil {
				return
			}
			continue
		}

		if strings.TrimSpace(req.Message) == "" {
			if writeErr := conn.WriteJSON(gin.H{"error": errMissingMessage.Error()}); writeErr != nil {
				return
			}
			continue
		}

		result, err := h.synth.Send(ctx, req.Message, req.ConversationID)
		if err != nil {
			status, message := classifySynthesisError(err)
			logger.Warnw("synthesis failed", "status", status, "error", err)
			if writeErr := conn.WriteJSON(gin.H{"error": message}); writeErr != nil {
				return
			}
			continue
		}

		h.record(ctx, logger, req, result)

		if err := conn.WriteJSON(gin.H{"result": result}); err != nil {
			logger.Debugw("chat websocket write failed", "error", err)
			return
		}
	}
}
