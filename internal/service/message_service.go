package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/relaychat/relay-api/internal/dto"
	"github.com/relaychat/relay-api/internal/models"
	"github.com/relaychat/relay-api/internal/observability"
	"github.com/relaychat/relay-api/internal/repository"
)

const (
	previewLength       = 120
	recalledPreviewText = "Message recalled"
)

// MessageService is the send/read/mutate pipeline over the message log.
type MessageService interface {
	Send(ctx context.Context, senderID string, payload dto.MessageSendRequest) (dto.MessageResponse, error)
	History(ctx context.Context, viewerID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error)
	Recall(ctx context.Context, requesterID, messageID string) (dto.MessageResponse, error)
	DeleteForViewer(ctx context.Context, viewerID, messageID string) error
}

type messageService struct {
	messages    repository.MessageRepository
	directory   repository.ConversationRepository
	unread      UnreadService
	broadcaster *Broadcaster
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewMessageService wires the send pipeline.
func NewMessageService(messages repository.MessageRepository, directory repository.ConversationRepository, unread UnreadService, broadcaster *Broadcaster, validate *validator.Validate, logger zerolog.Logger) MessageService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	return &messageService{
		messages:    messages,
		directory:   directory,
		unread:      unread,
		broadcaster: broadcaster,
		validator:   validate,
		sanitizer:   sanitizer,
		logger:      logger.With().Str("component", "message_service").Logger(),
		tracer:      otel.Tracer("github.com/relaychat/relay-api/internal/service/message"),
	}
}

// Send validates, allocates the next seq, persists, then hands delivery to
// the broadcaster. The call returns once the message is durable: fanout and
// ledger updates run asynchronously so latency is bounded by storage, not by
// the number of online recipients.
func (s *messageService) Send(ctx context.Context, senderID string, payload dto.MessageSendRequest) (dto.MessageResponse, error) {
	payload.ConversationID = strings.TrimSpace(payload.ConversationID)
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageResponse{}, err
	}

	messageType := payload.Type
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(payload.Body))
	if clean == "" && len(payload.Attachments) == 0 {
		return dto.MessageResponse{}, ErrEmptyMessage
	}

	member, err := s.directory.IsMember(ctx, payload.ConversationID, senderID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if !member {
		return dto.MessageResponse{}, ErrNotAMember
	}

	spanCtx, span := s.tracer.Start(ctx, "message.send", trace.WithAttributes(
		attribute.String("message.conversation_id", payload.ConversationID),
		attribute.String("message.sender_id", senderID),
		attribute.String("message.type", messageType),
	))
	defer span.End()

	seq, err := s.directory.AllocateSeq(spanCtx, payload.ConversationID)
	if err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}

	var attachments datatypes.JSON
	if len(payload.Attachments) > 0 {
		encoded, err := json.Marshal(payload.Attachments)
		if err != nil {
			return dto.MessageResponse{}, err
		}
		attachments = datatypes.JSON(encoded)
	}

	message := models.Message{
		ID:             uuid.NewString(),
		ConversationID: payload.ConversationID,
		Seq:            seq,
		SenderID:       senderID,
		Type:           messageType,
		Body:           clean,
		Attachments:    attachments,
	}

	if err := s.messages.Append(spanCtx, &message); err != nil {
		span.RecordError(err)
		// The allocated seq becomes a permanent gap; a retry allocates a
		// fresh one, never this one again.
		return dto.MessageResponse{}, fmt.Errorf("persist failed after allocating seq %d: %w", seq, err)
	}

	preview := buildPreview(messageType, clean)
	if err := s.directory.UpdateLastMessage(spanCtx, message, preview); err != nil {
		s.logger.Error().Err(err).Str("conversation_id", message.ConversationID).Msg("failed to update last message snapshot")
	}

	response := dto.NewMessageResponse(message)
	observability.MessagesSent().WithLabelValues(messageType).Inc()

	go s.afterPersist(context.WithoutCancel(spanCtx), message, response)

	return response, nil
}

// afterPersist runs the parts of the flow the sender does not wait for:
// ledger increments for every other member and the ordered room fanout.
// Increments ride inside the sequenced fanout slot: the ledger's high-water
// guard only counts exactly-once when seqs reach it ascending, and racing
// afterPersist goroutines would otherwise deliver them reordered. Anything
// missed here is reconciled by clients through listAfter on reconnect.
func (s *messageService) afterPersist(ctx context.Context, message models.Message, response dto.MessageResponse) {
	members, err := s.directory.MemberIDs(ctx, message.ConversationID)
	if err != nil {
		s.logger.Error().Err(err).Str("conversation_id", message.ConversationID).Msg("failed to resolve members after persist")
		members = nil
	}

	event := dto.Event{
		Event: dto.EventMessageNew,
		Data: dto.MessageNewEvent{
			ConversationID: message.ConversationID,
			Message:        response,
		},
	}

	s.broadcaster.FanoutMessage(ctx, message.ConversationID, message.Seq, event, func() {
		s.unread.OnNewMessage(ctx, message.ConversationID, message.SenderID, message.Seq, members)
	})
}

// History pages the visible log for one viewer. AfterSeq selects the live
// resync direction (ascending); otherwise the page runs backwards from
// BeforeSeq, newest first.
func (s *messageService) History(ctx context.Context, viewerID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error) {
	query.ConversationID = strings.TrimSpace(query.ConversationID)
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	member, err := s.directory.IsMember(ctx, query.ConversationID, viewerID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotAMember
	}

	var messages []models.Message
	if query.AfterSeq != nil {
		messages, err = s.messages.ListAfter(ctx, query.ConversationID, viewerID, *query.AfterSeq, query.Limit)
	} else {
		before := int64(0)
		if query.BeforeSeq != nil {
			before = *query.BeforeSeq
		}
		messages, err = s.messages.ListBefore(ctx, query.ConversationID, viewerID, before, query.Limit)
	}
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(messages))
	for _, message := range messages {
		ids = append(ids, message.ID)
	}
	reactions, err := s.messages.ReactionsFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	responses := dto.NewMessageResponseSlice(messages)
	for i := range responses {
		responses[i].Reactions = dto.NewReactionEntrySlice(reactions[responses[i].ID])
	}
	return responses, nil
}

// Recall tombstones a message for everyone. Only the sender may recall;
// recalling twice returns the current state without error. The seq slot and
// the lastMessage pointer stay put, only the preview text changes.
func (s *messageService) Recall(ctx context.Context, requesterID, messageID string) (dto.MessageResponse, error) {
	message, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	if message.SenderID != requesterID {
		return dto.MessageResponse{}, ErrRecallNotSender
	}

	if message.Recalled {
		return dto.NewMessageResponse(message), nil
	}

	spanCtx, span := s.tracer.Start(ctx, "message.recall", trace.WithAttributes(
		attribute.String("message.id", messageID),
		attribute.String("message.conversation_id", message.ConversationID),
	))
	defer span.End()

	if err := s.messages.Recall(spanCtx, messageID); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}
	message.Recalled = true

	if err := s.directory.MaskLastMessagePreview(spanCtx, message.ConversationID, messageID, recalledPreviewText); err != nil {
		s.logger.Error().Err(err).Str("message_id", messageID).Msg("failed to mask last message preview")
	}

	s.broadcaster.FanoutConversation(spanCtx, message.ConversationID, dto.Event{
		Event: dto.EventMessageRecall,
		Data: dto.MessageRecallEvent{
			ConversationID: message.ConversationID,
			MessageID:      message.ID,
			Seq:            message.Seq,
		},
	})

	return dto.NewMessageResponse(message), nil
}

// DeleteForViewer hides the message for the caller only. Idempotent; other
// viewers and the conversation's seq/lastMessage state are untouched.
func (s *messageService) DeleteForViewer(ctx context.Context, viewerID, messageID string) error {
	message, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}

	member, err := s.directory.IsMember(ctx, message.ConversationID, viewerID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotAMember
	}

	return s.messages.DeleteForViewer(ctx, messageID, viewerID)
}

func buildPreview(messageType, body string) string {
	switch messageType {
	case models.MessageTypeImage:
		return "[Image]"
	case models.MessageTypeFile:
		return "[File]"
	case models.MessageTypeAudio:
		return "[Audio]"
	}

	runes := []rune(body)
	if len(runes) > previewLength {
		return string(runes[:previewLength])
	}
	return body
}

// IsValidationError reports whether err came from payload validation.
func IsValidationError(err error) bool {
	var verr validator.ValidationErrors
	return errors.As(err, &verr)
}
