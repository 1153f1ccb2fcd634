package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/relaychat/relay-api/internal/dto"
	"github.com/relaychat/relay-api/internal/observability"
	"github.com/relaychat/relay-api/internal/realtime"
)

const gatewayPingInterval = 30 * time.Second

// GatewayConnectionOptions wraps metadata extracted during the HTTP upgrade.
type GatewayConnectionOptions struct {
	UserID        string
	CorrelationID string
	Context       context.Context
}

// GatewayService owns the websocket lifecycle: registration, presence, the
// frame dispatch loop and teardown. One reader and one writer goroutine per
// connection; the writer drains the connection's send channel until the
// router closes it.
type GatewayService interface {
	ServeConnection(conn *websocket.Conn, opts GatewayConnectionOptions)
}

type gatewayService struct {
	router        *realtime.Router
	broadcaster   *Broadcaster
	messages      MessageService
	unread        UnreadService
	conversations ConversationService
	presence      PresenceService
	validator     *validator.Validate
	logger        zerolog.Logger
}

// NewGatewayService wires the socket entrypoint.
func NewGatewayService(router *realtime.Router, broadcaster *Broadcaster, messages MessageService, unread UnreadService, conversations ConversationService, presence PresenceService, validate *validator.Validate, logger zerolog.Logger) GatewayService {
	return &gatewayService{
		router:        router,
		broadcaster:   broadcaster,
		messages:      messages,
		unread:        unread,
		conversations: conversations,
		presence:      presence,
		validator:     validate,
		logger:        logger.With().Str("component", "gateway_service").Logger(),
	}
}

type gatewayClient struct {
	conn    *websocket.Conn
	link    *realtime.Connection
	options GatewayConnectionOptions
	service *gatewayService
	baseCtx context.Context
}

func (s *gatewayService) ServeConnection(conn *websocket.Conn, opts GatewayConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := &gatewayClient{
		conn:    conn,
		link:    realtime.NewConnection(uuid.NewString(), opts.UserID),
		options: opts,
		service: s,
		baseCtx: baseCtx,
	}

	s.router.Register(client.link)
	observability.ConnectionsAccepted().Inc()
	observability.ConnectionsActive().Inc()

	if err := s.presence.Connected(baseCtx, opts.UserID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", opts.UserID).Msg("failed to record presence on connect")
	}

	go client.writer()
	client.reader()
}

// reader consumes client frames until the socket errors or closes, then
// tears the connection down. Unregister closes the send channel, which ends
// the writer.
func (c *gatewayClient) reader() {
	defer func() {
		c.service.router.Unregister(c.link.ID)
		observability.ConnectionsActive().Dec()
		if err := c.service.presence.Disconnected(c.baseCtx, c.options.UserID); err != nil {
			c.service.logger.Warn().Err(err).Str("user_id", c.options.UserID).Msg("failed to record presence on disconnect")
		}
		_ = c.conn.Close()
	}()

	for {
		var frame dto.ClientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.service.logger.Debug().Err(err).Str("user_id", c.options.UserID).Msg("gateway read loop ended")
			return
		}
		c.service.dispatch(c.baseCtx, c, frame)
	}
}

func (c *gatewayClient) writer() {
	for {
		select {
		case event, ok := <-c.link.Send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.service.logger.Debug().Err(err).Msg("gateway write loop terminated")
				return
			}
		case <-time.After(gatewayPingInterval):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.service.logger.Debug().Err(err).Msg("gateway ping failed")
				return
			}
		}
	}
}

// dispatch routes one client frame. Failures answer with an error event on
// the same connection; the socket stays up.
func (s *gatewayService) dispatch(ctx context.Context, client *gatewayClient, frame dto.ClientFrame) {
	var err error
	switch frame.Event {
	case dto.EventConversationJoin, dto.EventConversationFocus:
		err = s.handleJoin(ctx, client, frame.Data)
	case dto.EventConversationLeave, dto.EventConversationBlur:
		err = s.handleLeave(client, frame.Data)
	case dto.EventMessageNew:
		err = s.handleSend(ctx, client, frame.Data)
	case dto.EventMessageRead:
		err = s.handleReadAck(ctx, client, frame.Data)
	case dto.EventTypingStart, dto.EventTypingStop:
		err = s.handleTyping(ctx, client, frame.Event, frame.Data)
	case dto.EventPresenceBeat:
		err = s.presence.Heartbeat(ctx, client.options.UserID)
	case dto.EventCallInvite, dto.EventCallRinging, dto.EventCallAccept, dto.EventCallDecline, dto.EventCallCancel:
		err = s.handleCallSignal(ctx, client, frame.Event, frame.Data)
	default:
		err = errors.New("unknown event")
	}

	if err != nil {
		s.logger.Warn().Err(err).
			Str("event", frame.Event).
			Str("user_id", client.options.UserID).
			Str("correlation_id", client.options.CorrelationID).
			Msg("failed to process gateway frame")
		s.sendError(client, frame.Event, err)
	}
}

// handleJoin subscribes the connection to the conversation room after a
// membership check, then replays the cached last event so a freshly opened
// view has something on screen before pagination lands.
func (s *gatewayService) handleJoin(ctx context.Context, client *gatewayClient, data json.RawMessage) error {
	ref, err := decodeFrame[dto.ConversationRef](s.validator, data)
	if err != nil {
		return err
	}

	member, err := s.conversations.IsMember(ctx, ref.ConversationID, client.options.UserID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotAMember
	}

	s.router.Join(client.link.ID, realtime.ConversationTopic(ref.ConversationID))
	s.broadcaster.ReplayLastEvent(ctx, ref.ConversationID, client.link)
	s.pushPresenceSnapshot(ctx, client, ref.ConversationID)
	return nil
}

// pushPresenceSnapshot delivers the current presence of the room's members
// to the joining connection only. Best effort; join succeeds regardless.
func (s *gatewayService) pushPresenceSnapshot(ctx context.Context, client *gatewayClient, conversationID string) {
	conversation, err := s.conversations.Get(ctx, client.options.UserID, conversationID)
	if err != nil {
		s.logger.Debug().Err(err).Str("conversation_id", conversationID).Msg("presence snapshot skipped")
		return
	}

	snapshot, err := s.presence.Snapshot(ctx, conversation.MemberIDs)
	if err != nil {
		s.logger.Debug().Err(err).Str("conversation_id", conversationID).Msg("presence snapshot failed")
		return
	}

	select {
	case client.link.Send <- dto.Event{Event: dto.EventPresenceSnapshot, Data: snapshot}:
	default:
	}
}

func (s *gatewayService) handleLeave(client *gatewayClient, data json.RawMessage) error {
	ref, err := decodeFrame[dto.ConversationRef](s.validator, data)
	if err != nil {
		return err
	}
	s.router.Leave(client.link.ID, realtime.ConversationTopic(ref.ConversationID))
	return nil
}

// handleSend is the low-latency direct socket send path; the persisted
// message comes back as an ack on the sender's own connection, same shape
// as the fanout event the other members receive.
func (s *gatewayService) handleSend(ctx context.Context, client *gatewayClient, data json.RawMessage) error {
	payload, err := decodeFrame[dto.MessageSendRequest](s.validator, data)
	if err != nil {
		return err
	}

	response, err := s.messages.Send(ctx, client.options.UserID, payload)
	if err != nil {
		return err
	}

	ack := dto.Event{Event: dto.EventMessageNew, Data: dto.MessageNewEvent{
		ConversationID: response.ConversationID,
		Message:        response,
	}}
	select {
	case client.link.Send <- ack:
	default:
		s.logger.Warn().Str("user_id", client.options.UserID).Msg("sender queue full, dropping ack")
	}
	return nil
}

func (s *gatewayService) handleReadAck(ctx context.Context, client *gatewayClient, data json.RawMessage) error {
	ref, err := decodeFrame[dto.ConversationRef](s.validator, data)
	if err != nil {
		return err
	}
	_, err = s.unread.ReadAck(ctx, client.options.UserID, ref.ConversationID, ref.UptoSeq)
	return err
}

// handleTyping relays to the conversation room only; typing is ephemeral
// and never persisted.
func (s *gatewayService) handleTyping(ctx context.Context, client *gatewayClient, event string, data json.RawMessage) error {
	ref, err := decodeFrame[dto.TypingEvent](s.validator, data)
	if err != nil {
		return err
	}

	member, err := s.conversations.IsMember(ctx, ref.ConversationID, client.options.UserID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotAMember
	}

	ref.UserID = client.options.UserID
	s.broadcaster.ToConversationRoom(ctx, ref.ConversationID, dto.Event{Event: event, Data: ref})
	return nil
}

// handleCallSignal relays call signaling to the target's personal room. No
// media ever crosses this service.
func (s *gatewayService) handleCallSignal(ctx context.Context, client *gatewayClient, event string, data json.RawMessage) error {
	signal, err := decodeFrame[dto.CallSignal](s.validator, data)
	if err != nil {
		return err
	}

	member, err := s.conversations.IsMember(ctx, signal.ConversationID, client.options.UserID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotAMember
	}

	signal.FromUserID = client.options.UserID
	s.broadcaster.ToUser(ctx, signal.ToUserID, dto.Event{Event: event, Data: signal})
	return nil
}

func (s *gatewayService) sendError(client *gatewayClient, event string, err error) {
	message := "failed to process event"
	if IsValidationError(err) || errors.Is(err, ErrNotAMember) || errors.Is(err, ErrEmptyMessage) {
		message = err.Error()
	}

	select {
	case client.link.Send <- dto.Event{Event: dto.EventError, Data: dto.ErrorEvent{Event: event, Message: message}}:
	default:
	}
}

func decodeFrame[T any](validate *validator.Validate, data json.RawMessage) (T, error) {
	var payload T
	if len(data) == 0 {
		return payload, errors.New("missing frame data")
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, err
	}
	if err := validate.Struct(payload); err != nil {
		return payload, err
	}
	return payload, nil
}
