package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/relaychat/relay-api/internal/dto"
)

const busQueueGroup = "relay-events"

// envelope is the wire shape events travel in between nodes. Source carries
// the publishing node id so a node never re-delivers its own events.
type envelope struct {
	Source string    `json:"source"`
	Topic  string    `json:"topic"`
	Event  dto.Event `json:"event"`
	SentAt time.Time `json:"sent_at"`
}

// Bus relays router events across nodes through redis pub/sub and a NATS
// queue subscription. This is the extension point for multi-node fanout: the
// engine itself assumes a single logical router, and everything crossing
// process boundaries goes through here.
type Bus struct {
	redis   *redis.Client
	channel string
	nats    *nats.Conn
	subject string
	router  *Router
	nodeID  string
	log     zerolog.Logger
}

// NewBus wires a bus over the optional redis and NATS connections. Either
// may be nil; with both nil the bus degrades to a single-node no-op.
func NewBus(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, router *Router, logger zerolog.Logger) *Bus {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".events"
	}

	return &Bus{
		redis:   redisClient,
		channel: channel,
		nats:    natsConn,
		subject: subject,
		router:  router,
		nodeID:  uuid.NewString(),
		log:     logger.With().Str("component", "event_bus").Logger(),
	}
}

// Publish forwards a locally-broadcast event to the other nodes.
func (b *Bus) Publish(ctx context.Context, topic string, event dto.Event) error {
	if b.redis == nil && b.nats == nil {
		return nil
	}

	payload, err := json.Marshal(envelope{
		Source: b.nodeID,
		Topic:  topic,
		Event:  event,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if b.redis != nil && b.channel != "" {
		if err := b.redis.Publish(ctx, b.channel, payload).Err(); err != nil {
			return err
		}
	}

	if b.nats != nil && b.subject != "" {
		if err := b.nats.Publish(b.subject, payload); err != nil {
			return err
		}
	}

	return nil
}

// Start launches the consume loops; they exit when ctx is cancelled.
func (b *Bus) Start(ctx context.Context) {
	if b.redis != nil && b.channel != "" {
		go b.consumeRedis(ctx)
	}
	if b.nats != nil && b.subject != "" {
		b.consumeNATS(ctx)
	}
}

func (b *Bus) consumeRedis(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.channel)
	defer func() {
		_ = pubsub.Close()
	}()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			b.log.Error().Err(err).Msg("event bus redis subscription closed")
			return
		}
		b.handle([]byte(msg.Payload))
	}
}

func (b *Bus) consumeNATS(ctx context.Context) {
	sub, err := b.nats.QueueSubscribe(b.subject, busQueueGroup, func(msg *nats.Msg) {
		b.handle(msg.Data)
	})
	if err != nil {
		b.log.Error().Err(err).Msg("failed to subscribe to event bus subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.log.Warn().Err(err).Msg("failed to drain event bus subscription")
		}
	}()
}

func (b *Bus) handle(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.log.Warn().Err(err).Msg("invalid event bus payload")
		return
	}

	if env.Source == b.nodeID {
		return
	}

	b.router.Broadcast(env.Topic, env.Event)
}
