package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/relaychat/relay-api/internal/dto"
	"github.com/relaychat/relay-api/internal/observability"
	"github.com/relaychat/relay-api/internal/repository"
)

// UnreadService maintains the per (user, conversation) badge ledger.
type UnreadService interface {
	OnNewMessage(ctx context.Context, conversationID, senderID string, seq int64, memberIDs []string)
	ReadAck(ctx context.Context, userID, conversationID string, uptoSeq int64) (dto.BadgeUpdateEvent, error)
	Summary(ctx context.Context, userID string) ([]dto.UnreadSummaryEntry, error)
}

type unreadService struct {
	ledger      repository.UnreadRepository
	directory   repository.ConversationRepository
	broadcaster *Broadcaster
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewUnreadService wires the ledger.
func NewUnreadService(ledger repository.UnreadRepository, directory repository.ConversationRepository, broadcaster *Broadcaster, logger zerolog.Logger) UnreadService {
	return &unreadService{
		ledger:      ledger,
		directory:   directory,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "unread_service").Logger(),
		tracer:      otel.Tracer("github.com/relaychat/relay-api/internal/service/unread"),
	}
}

// OnNewMessage counts one message for every member except the sender. The
// repository's guarded upsert keys on (conversation, seq, member), so a
// retried fanout re-running this is harmless. Individual failures are
// logged and skipped; the client reconciles its badge from Summary on the
// next boot.
func (s *unreadService) OnNewMessage(ctx context.Context, conversationID, senderID string, seq int64, memberIDs []string) {
	for _, memberID := range memberIDs {
		if memberID == senderID {
			continue
		}
		if err := s.ledger.Increment(ctx, memberID, conversationID, seq); err != nil {
			s.logger.Error().Err(err).
				Str("conversation_id", conversationID).
				Str("user_id", memberID).
				Int64("seq", seq).
				Msg("failed to increment unread counter")
		}
	}
}

// ReadAck advances the caller's read cursor to uptoSeq (zero means the
// conversation's latest seq), resets the counter and notifies the caller's
// other devices through their personal room only. Acks at or below the
// current watermark change nothing.
func (s *unreadService) ReadAck(ctx context.Context, userID, conversationID string, uptoSeq int64) (dto.BadgeUpdateEvent, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return dto.BadgeUpdateEvent{}, gorm.ErrRecordNotFound
	}

	member, err := s.directory.IsMember(ctx, conversationID, userID)
	if err != nil {
		return dto.BadgeUpdateEvent{}, err
	}
	if !member {
		return dto.BadgeUpdateEvent{}, ErrNotAMember
	}

	spanCtx, span := s.tracer.Start(ctx, "unread.read_ack", trace.WithAttributes(
		attribute.String("unread.user_id", userID),
		attribute.String("unread.conversation_id", conversationID),
	))
	defer span.End()

	if uptoSeq <= 0 {
		conversation, err := s.directory.Get(spanCtx, conversationID)
		if err != nil {
			span.RecordError(err)
			return dto.BadgeUpdateEvent{}, err
		}
		uptoSeq = conversation.MessageSeq
	}

	advanced, err := s.ledger.ReadAck(spanCtx, userID, conversationID, uptoSeq)
	if err != nil {
		span.RecordError(err)
		return dto.BadgeUpdateEvent{}, err
	}

	badge := dto.BadgeUpdateEvent{ConversationID: conversationID}
	counter, err := s.ledger.Get(spanCtx, userID, conversationID)
	if err == nil {
		badge.Unread = counter.Unread
		badge.LastReadSeq = counter.LastReadSeq
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		return dto.BadgeUpdateEvent{}, err
	}

	if advanced {
		observability.ReadAcks().Inc()
		s.broadcaster.ToUser(spanCtx, userID, dto.Event{Event: dto.EventBadgeUpdate, Data: badge})
	}

	return badge, nil
}

// Summary hydrates boot-time badges for every conversation the user has a
// ledger row in.
func (s *unreadService) Summary(ctx context.Context, userID string) ([]dto.UnreadSummaryEntry, error) {
	counters, err := s.ledger.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]dto.UnreadSummaryEntry, 0, len(counters))
	for _, counter := range counters {
		out = append(out, dto.UnreadSummaryEntry{
			ConversationID: counter.ConversationID,
			Unread:         counter.Unread,
			LastReadSeq:    counter.LastReadSeq,
		})
	}
	return out, nil
}
