package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/relaychat/relay-api/internal/dto"
	"github.com/relaychat/relay-api/internal/service"
	"github.com/relaychat/relay-api/internal/utils"
)

// ConversationHandler exposes the conversation directory plus the read and
// mute per-member surfaces.
type ConversationHandler struct {
	conversations service.ConversationService
	unread        service.UnreadService
	logger        zerolog.Logger
}

// NewConversationHandler constructs the handler.
func NewConversationHandler(conversations service.ConversationService, unread service.UnreadService, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		unread:        unread,
		logger:        logger.With().Str("component", "conversation_handler").Logger(),
	}
}

// Register wires conversation routes under the provided router group. The
// static unreads route registers before the :id routes so it never shadows.
func (h *ConversationHandler) Register(router fiber.Router) {
	router.Get("/unreads/summary", h.unreadSummary)
	router.Post("", h.create)
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Patch("/:id/read-to-latest", h.readToLatest)
	router.Patch("/:id/mute", h.mute)
}

func (h *ConversationHandler) create(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.ConversationCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	conversation, err := h.conversations.Create(requestContext(c), userID, payload)
	if err != nil {
		status := statusForError(err)
		if status >= fiber.StatusInternalServerError {
			h.logger.Error().Err(err).Str("type", payload.Type).Msg("failed to create conversation")
			return utils.SendError(c, status, "failed to create conversation")
		}
		return utils.SendError(c, status, err.Error())
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "conversation created", conversation)
}

func (h *ConversationHandler) list(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	conversations, err := h.conversations.List(requestContext(c), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list conversations")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list conversations")
	}

	return utils.SendSuccess(c, "conversations retrieved", conversations)
}

func (h *ConversationHandler) get(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	conversation, err := h.conversations.Get(requestContext(c), userID, strings.TrimSpace(c.Params("id")))
	if err != nil {
		status := statusForError(err)
		if status >= fiber.StatusInternalServerError {
			h.logger.Error().Err(err).Msg("failed to load conversation")
			return utils.SendError(c, status, "failed to load conversation")
		}
		return utils.SendError(c, status, err.Error())
	}

	return utils.SendSuccess(c, "conversation retrieved", conversation)
}

func (h *ConversationHandler) readToLatest(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.ReadAckRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	badge, err := h.unread.ReadAck(requestContext(c), userID, strings.TrimSpace(c.Params("id")), payload.UptoSeq)
	if err != nil {
		status := statusForError(err)
		if status >= fiber.StatusInternalServerError {
			h.logger.Error().Err(err).Msg("failed to acknowledge read")
			return utils.SendError(c, status, "failed to acknowledge read")
		}
		return utils.SendError(c, status, err.Error())
	}

	return utils.SendSuccess(c, "read acknowledged", badge)
}

func (h *ConversationHandler) mute(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.MuteRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.conversations.SetMuted(requestContext(c), userID, strings.TrimSpace(c.Params("id")), payload.Muted); err != nil {
		status := statusForError(err)
		if status >= fiber.StatusInternalServerError {
			h.logger.Error().Err(err).Msg("failed to update mute setting")
			return utils.SendError(c, status, "failed to update mute setting")
		}
		return utils.SendError(c, status, err.Error())
	}

	return utils.SendSuccess(c, "mute setting updated", payload)
}

func (h *ConversationHandler) unreadSummary(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	summary, err := h.unread.Summary(requestContext(c), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load unread summary")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load unread summary")
	}

	return utils.SendSuccess(c, "unread summary", summary)
}
