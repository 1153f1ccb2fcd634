package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/relaychat/relay-api/internal/middleware"
	"github.com/relaychat/relay-api/internal/service"
	"github.com/relaychat/relay-api/internal/utils"
)

// RealtimeHandler wires the websocket upgrade and the bulk presence lookup.
type RealtimeHandler struct {
	gateway  service.GatewayService
	presence service.PresenceService
	logger   zerolog.Logger
}

// NewRealtimeHandler constructs the handler.
func NewRealtimeHandler(gateway service.GatewayService, presence service.PresenceService, logger zerolog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		gateway:  gateway,
		presence: presence,
		logger:   logger.With().Str("component", "realtime_handler").Logger(),
	}
}

// Register binds realtime routes under the provided router group.
func (h *RealtimeHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
}

// RegisterPresence binds the presence snapshot endpoint.
func (h *RealtimeHandler) RegisterPresence(router fiber.Router) {
	router.Get("", h.presenceSnapshot)
}

func (h *RealtimeHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	correlation := fmt.Sprint(conn.Locals("correlation_id"))
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.GatewayConnectionOptions{
		UserID:        userID,
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Msg("realtime websocket connected")
	h.gateway.ServeConnection(conn, opts)
	h.logger.Info().Str("user_id", userID).Msg("realtime websocket disconnected")
}

func (h *RealtimeHandler) presenceSnapshot(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	ids := splitAndTrim(c.Query("ids"))
	if len(ids) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "ids required")
	}
	if len(ids) > 256 {
		return utils.SendError(c, fiber.StatusBadRequest, "too many ids")
	}

	snapshot, err := h.presence.Snapshot(requestContext(c), ids)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load presence snapshot")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load presence snapshot")
	}

	return utils.SendSuccess(c, "presence snapshot", snapshot)
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		switch v := value.(type) {
		case string:
			return strings.TrimSpace(v)
		case fmt.Stringer:
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}
