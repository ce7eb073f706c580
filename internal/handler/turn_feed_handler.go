package handler

import (
	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/internal/pkg/serverutils"
	internalWS "agentic-retrieval-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// TurnFeedHandler streams the caller's turn lifecycle events over a
// websocket.
type TurnFeedHandler struct {
	hub       *internalWS.Hub
	jwtSecret string
	logger    logger.ILogger
}

func NewTurnFeedHandler(hub *internalWS.Hub, jwtSecret string, log logger.ILogger) *TurnFeedHandler {
	return &TurnFeedHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
		logger:    log,
	}
}

// ServeWs authenticates the handshake. Browsers cannot set headers on a
// websocket upgrade, so the token query parameter wins over Authorization.
func (h *TurnFeedHandler) ServeWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	tokenStr := c.Query("token")
	if tokenStr == "" {
		authHeader := c.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			tokenStr = authHeader[7:]
		}
	}
	if tokenStr == "" {
		return serverutils.Unauthorized("missing token")
	}

	userID, err := serverutils.ParseToken(tokenStr, h.jwtSecret)
	if err != nil {
		h.logger.Warn("WS", "Invalid token in handshake", map[string]interface{}{"error": err.Error()})
		return serverutils.Unauthorized("invalid token")
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info("WS", "Feed opened", map[string]interface{}{"user_id": userID.String()})
		internalWS.Serve(h.hub, conn, userID.String())
		h.logger.Info("WS", "Feed closed", map[string]interface{}{"user_id": userID.String()})
	})(c)
}

func (h *TurnFeedHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/chat/v1/ws", h.ServeWs)
}
