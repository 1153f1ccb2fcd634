package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/relaychat/relay-api/internal/dto"
	"github.com/relaychat/relay-api/internal/service"
	"github.com/relaychat/relay-api/internal/utils"
)

// MessageHandler exposes the message log: send, paginate, recall/delete and
// reactions.
type MessageHandler struct {
	messages  service.MessageService
	reactions service.ReactionService
	logger    zerolog.Logger
}

// NewMessageHandler constructs the handler.
func NewMessageHandler(messages service.MessageService, reactions service.ReactionService, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		messages:  messages,
		reactions: reactions,
		logger:    logger.With().Str("component", "message_handler").Logger(),
	}
}

// Register wires message routes under the provided router group. sendLimit
// guards the send route only; nil disables it.
func (h *MessageHandler) Register(router fiber.Router, sendLimit fiber.Handler) {
	if sendLimit == nil {
		sendLimit = func(c *fiber.Ctx) error { return c.Next() }
	}
	router.Post("/reaction", h.setReaction)
	router.Delete("/reaction", h.removeReaction)
	router.Post("", sendLimit, h.send)
	router.Get("/:conversationID", h.history)
	router.Patch("/:conversationID", h.action)
}

func (h *MessageHandler) send(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.MessageSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.messages.Send(requestContext(c), userID, payload)
	if err != nil {
		status := statusForError(err)
		if status >= fiber.StatusInternalServerError {
			h.logger.Error().Err(err).Str("conversation_id", payload.ConversationID).Msg("failed to send message")
			return utils.SendError(c, status, "failed to send message")
		}
		return utils.SendError(c, status, err.Error())
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", response)
}

func (h *MessageHandler) history(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	beforeSeq, err := parseQuerySeq(c, "beforeSeq")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid beforeSeq")
	}
	afterSeq, err := parseQuerySeq(c, "afterSeq")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid afterSeq")
	}
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	query := dto.MessageHistoryQuery{
		ConversationID: strings.TrimSpace(c.Params("conversationID")),
		BeforeSeq:      beforeSeq,
		AfterSeq:       afterSeq,
		Limit:          limit,
	}

	messages, err := h.messages.History(requestContext(c), userID, query)
	if err != nil {
		status := statusForError(err)
		if status >= fiber.StatusInternalServerError {
			h.logger.Error().Err(err).Str("conversation_id", query.ConversationID).Msg("failed to load message history")
			return utils.SendError(c, status, "failed to load message history")
		}
		return utils.SendError(c, status, err.Error())
	}

	return utils.SendSuccess(c, "message history", messages)
}

func (h *MessageHandler) action(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.MessageActionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	switch payload.Action {
	case dto.MessageActionRecall:
		response, err := h.messages.Recall(requestContext(c), userID, payload.MessageID)
		if err != nil {
			status := statusForError(err)
			if status >= fiber.StatusInternalServerError {
				h.logger.Error().Err(err).Str("message_id", payload.MessageID).Msg("failed to recall message")
				return utils.SendError(c, status, "failed to recall message")
			}
			return utils.SendError(c, status, err.Error())
		}
		return utils.SendSuccess(c, "message recalled", response)
	case dto.MessageActionDelete:
		if err := h.messages.DeleteForViewer(requestContext(c), userID, payload.MessageID); err != nil {
			status := statusForError(err)
			if status >= fiber.StatusInternalServerError {
				h.logger.Error().Err(err).Str("message_id", payload.MessageID).Msg("failed to delete message")
				return utils.SendError(c, status, "failed to delete message")
			}
			return utils.SendError(c, status, err.Error())
		}
		return utils.SendSuccess(c, "message deleted", nil)
	default:
		return utils.SendError(c, fiber.StatusBadRequest, "unsupported action")
	}
}

func (h *MessageHandler) setReaction(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.ReactionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	state, err := h.reactions.Set(requestContext(c), userID, payload)
	if err != nil {
		status := statusForError(err)
		if status >= fiber.StatusInternalServerError {
			h.logger.Error().Err(err).Str("message_id", payload.MessageID).Msg("failed to set reaction")
			return utils.SendError(c, status, "failed to set reaction")
		}
		return utils.SendError(c, status, err.Error())
	}

	return utils.SendSuccess(c, "reaction set", state)
}

func (h *MessageHandler) removeReaction(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	messageID := strings.TrimSpace(c.Query("message_id"))
	if messageID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "message_id required")
	}

	state, err := h.reactions.Remove(requestContext(c), userID, messageID)
	if err != nil {
		status := statusForError(err)
		if status >= fiber.StatusInternalServerError {
			h.logger.Error().Err(err).Str("message_id", messageID).Msg("failed to remove reaction")
			return utils.SendError(c, status, "failed to remove reaction")
		}
		return utils.SendError(c, status, err.Error())
	}

	return utils.SendSuccess(c, "reaction removed", state)
}
