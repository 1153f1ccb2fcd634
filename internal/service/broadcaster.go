package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/relaychat/relay-api/internal/dto"
	"github.com/relaychat/relay-api/internal/observability"
	"github.com/relaychat/relay-api/internal/realtime"
	"github.com/relaychat/relay-api/internal/repository"
)

const lastEventTTL = 30 * time.Minute

// Broadcaster fans events out to the conversation room plus every member's
// personal room, and forwards them across nodes through the bus. Delivery is
// at-least-once: a connection sitting in both rooms receives the event
// twice, and clients dedupe by message id.
type Broadcaster struct {
	directory repository.ConversationRepository
	router    *realtime.Router
	sequencer *realtime.Sequencer
	bus       *realtime.Bus
	redis     *redis.Client
	cacheKey  string
	logger    zerolog.Logger
}

// NewBroadcaster wires the fanout path. redisClient may be nil; the
// last-event replay cache is then disabled.
func NewBroadcaster(directory repository.ConversationRepository, router *realtime.Router, sequencer *realtime.Sequencer, bus *realtime.Bus, redisClient *redis.Client, channelBase string, logger zerolog.Logger) *Broadcaster {
	cacheKey := ""
	if channelBase != "" {
		cacheKey = channelBase + ":last"
	}

	router.OnDrop(func(string) {
		observability.FanoutDropped().Inc()
	})

	return &Broadcaster{
		directory: directory,
		router:    router,
		sequencer: sequencer,
		bus:       bus,
		redis:     redisClient,
		cacheKey:  cacheKey,
		logger:    logger.With().Str("component", "fanout_broadcaster").Logger(),
	}
}

// FanoutMessage delivers a message event in allocated seq order. The
// sequencer holds events whose predecessors have not yet arrived, so
// concurrent sends never reach subscribers reordered within a conversation.
// The prepare hook, when non-nil, runs inside the same ordered slot right
// before delivery; per-message side effects that depend on seq order (unread
// increments) belong there rather than at the call site.
func (b *Broadcaster) FanoutMessage(ctx context.Context, conversationID string, seq int64, event dto.Event, prepare func()) {
	members, err := b.directory.MemberIDs(ctx, conversationID)
	if err != nil {
		b.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to resolve members for fanout")
		return
	}

	b.sequencer.Submit(conversationID, seq, func() {
		if prepare != nil {
			prepare()
		}
		b.emit(ctx, conversationID, members, event)
	})
}

// FanoutConversation delivers an unordered event (reactions, recalls,
// read-state changes) to the conversation room and member personal rooms.
func (b *Broadcaster) FanoutConversation(ctx context.Context, conversationID string, event dto.Event) {
	members, err := b.directory.MemberIDs(ctx, conversationID)
	if err != nil {
		b.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to resolve members for fanout")
		return
	}
	b.emit(ctx, conversationID, members, event)
}

// ToConversationRoom reaches only connections with the conversation open;
// used for ephemeral events like typing.
func (b *Broadcaster) ToConversationRoom(ctx context.Context, conversationID string, event dto.Event) {
	topic := realtime.ConversationTopic(conversationID)
	b.router.Broadcast(topic, event)
	b.publish(ctx, topic, event)
	observability.FanoutEvents().WithLabelValues(event.Event).Inc()
}

// ToUser reaches every connection of one user regardless of view; badge
// updates and call signaling ride on this.
func (b *Broadcaster) ToUser(ctx context.Context, userID string, event dto.Event) {
	topic := realtime.UserTopic(userID)
	b.router.Broadcast(topic, event)
	b.publish(ctx, topic, event)
	observability.FanoutEvents().WithLabelValues(event.Event).Inc()
}

// ReplayLastEvent pushes the cached last conversation event to a freshly
// joined connection. Purely a latency nicety; pagination stays the
// authoritative recovery path.
func (b *Broadcaster) ReplayLastEvent(ctx context.Context, conversationID string, conn *realtime.Connection) {
	if b.redis == nil || b.cacheKey == "" {
		return
	}

	raw, err := b.redis.Get(ctx, fmt.Sprintf("%s:%s", b.cacheKey, conversationID)).Result()
	if err != nil {
		return
	}

	var event dto.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		b.logger.Warn().Err(err).Msg("failed to unmarshal cached conversation event")
		return
	}

	select {
	case conn.Send <- event:
	default:
		b.logger.Debug().Str("conversation_id", conversationID).Msg("dropping cached event for slow connection")
	}
}

func (b *Broadcaster) emit(ctx context.Context, conversationID string, members []string, event dto.Event) {
	b.router.Broadcast(realtime.ConversationTopic(conversationID), event)
	for _, userID := range members {
		b.router.Broadcast(realtime.UserTopic(userID), event)
	}

	b.publish(ctx, realtime.ConversationTopic(conversationID), event)
	b.cacheLastEvent(ctx, conversationID, event)
	observability.FanoutEvents().WithLabelValues(event.Event).Inc()
}

// publish forwards to the cross-node bus. Failures are logged and dropped:
// the message is already persisted, so remote receivers recover via
// pagination rather than a rolled-back send.
func (b *Broadcaster) publish(ctx context.Context, topic string, event dto.Event) {
	if b.bus == nil {
		return
	}
	if err := b.bus.Publish(ctx, topic, event); err != nil {
		b.logger.Warn().Err(err).Str("topic", topic).Msg("failed to publish event to bus")
	}
}

func (b *Broadcaster) cacheLastEvent(ctx context.Context, conversationID string, event dto.Event) {
	if b.redis == nil || b.cacheKey == "" || event.Event != dto.EventMessageNew {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	key := fmt.Sprintf("%s:%s", b.cacheKey, conversationID)
	if err := b.redis.Set(ctx, key, payload, lastEventTTL).Err(); err != nil {
		b.logger.Warn().Err(err).Msg("failed to cache conversation event")
	}
}
