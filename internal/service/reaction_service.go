package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaychat/relay-api/internal/dto"
	"github.com/relaychat/relay-api/internal/models"
	"github.com/relaychat/relay-api/internal/repository"
)

// ReactionService applies the single-reaction-per-user state machine.
type ReactionService interface {
	Set(ctx context.Context, userID string, payload dto.ReactionRequest) (dto.ReactionUpdateEvent, error)
	Remove(ctx context.Context, userID, messageID string) (dto.ReactionUpdateEvent, error)
}

type reactionService struct {
	messages    repository.MessageRepository
	directory   repository.ConversationRepository
	broadcaster *Broadcaster
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewReactionService wires the reaction engine.
func NewReactionService(messages repository.MessageRepository, directory repository.ConversationRepository, broadcaster *Broadcaster, validate *validator.Validate, logger zerolog.Logger) ReactionService {
	return &reactionService{
		messages:    messages,
		directory:   directory,
		broadcaster: broadcaster,
		validator:   validate,
		logger:      logger.With().Str("component", "reaction_service").Logger(),
		tracer:      otel.Tracer("github.com/relaychat/relay-api/internal/service/reaction"),
	}
}

// Set upserts the caller's emoji on a message: a second Set replaces the
// first, never stacks. Concurrent Sets by different users commute; for the
// same user the store's upsert makes it last-write-wins.
func (s *reactionService) Set(ctx context.Context, userID string, payload dto.ReactionRequest) (dto.ReactionUpdateEvent, error) {
	payload.Emoji = strings.TrimSpace(payload.Emoji)
	if err := s.validator.Struct(payload); err != nil {
		return dto.ReactionUpdateEvent{}, err
	}
	if payload.Emoji == "" {
		return dto.ReactionUpdateEvent{}, ErrEmojiRequired
	}

	message, err := s.authorise(ctx, userID, payload.MessageID)
	if err != nil {
		return dto.ReactionUpdateEvent{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "reaction.set", trace.WithAttributes(
		attribute.String("reaction.message_id", payload.MessageID),
		attribute.String("reaction.user_id", userID),
	))
	defer span.End()

	if err := s.messages.SetReaction(spanCtx, payload.MessageID, userID, payload.Emoji); err != nil {
		span.RecordError(err)
		return dto.ReactionUpdateEvent{}, err
	}

	return s.broadcastState(spanCtx, message.ConversationID, payload.MessageID)
}

// Remove clears the caller's entry; removing an absent reaction is a no-op,
// not an error.
func (s *reactionService) Remove(ctx context.Context, userID, messageID string) (dto.ReactionUpdateEvent, error) {
	message, err := s.authorise(ctx, userID, messageID)
	if err != nil {
		return dto.ReactionUpdateEvent{}, err
	}

	if err := s.messages.RemoveReaction(ctx, messageID, userID); err != nil {
		return dto.ReactionUpdateEvent{}, err
	}

	return s.broadcastState(ctx, message.ConversationID, messageID)
}

func (s *reactionService) authorise(ctx context.Context, userID, messageID string) (models.Message, error) {
	message, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}

	member, err := s.directory.IsMember(ctx, message.ConversationID, userID)
	if err != nil {
		return models.Message{}, err
	}
	if !member {
		return models.Message{}, ErrNotAMember
	}

	return message, nil
}

// broadcastState pushes the full current reaction map to the conversation
// room so every viewing client converges regardless of delivery order.
func (s *reactionService) broadcastState(ctx context.Context, conversationID, messageID string) (dto.ReactionUpdateEvent, error) {
	reactions, err := s.messages.Reactions(ctx, messageID)
	if err != nil {
		return dto.ReactionUpdateEvent{}, err
	}

	event := dto.ReactionUpdateEvent{
		ConversationID: conversationID,
		MessageID:      messageID,
		Reactions:      dto.NewReactionEntrySlice(reactions),
	}
	s.broadcaster.ToConversationRoom(ctx, conversationID, dto.Event{Event: dto.EventReactionUpdate, Data: event})

	return event, nil
}
