package dto

import (
	"encoding/json"
	"time"
)

// Socket event names. Delivery is at-least-once: clients dedupe message:new
// by message id and treat REST pagination as ground truth on reconnect.
const (
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventConversationFocus = "conversation:focus"
	EventConversationBlur  = "conversation:blur"

	EventMessageNew     = "message:new"
	EventMessageRecall  = "message:recall"
	EventMessageRead    = "message:read"
	EventReactionUpdate = "reaction:update"

	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"

	EventBadgeUpdate      = "badge:update"
	EventPresenceUpdate   = "presence:update"
	EventPresenceSnapshot = "presence:snapshot"
	EventPresenceBeat     = "presence:heartbeat"

	EventCallInvite  = "call:invite"
	EventCallRinging = "call:ringing"
	EventCallAccept  = "call:accept"
	EventCallDecline = "call:decline"
	EventCallCancel  = "call:cancel"

	EventError = "error"
)

// Event is the server→client frame envelope.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ClientFrame is the client→server envelope; Data is decoded per event.
type ClientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// MessageNewEvent is the payload of message:new.
type MessageNewEvent struct {
	ConversationID string          `json:"conversation_id"`
	Message        MessageResponse `json:"message"`
}

// MessageRecallEvent notifies viewers that a message was retracted.
type MessageRecallEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Seq            int64  `json:"seq"`
}

// ReactionUpdateEvent carries the full current reaction map of a message.
type ReactionUpdateEvent struct {
	ConversationID string          `json:"conversation_id"`
	MessageID      string          `json:"message_id"`
	Reactions      []ReactionEntry `json:"reactions"`
}

// TypingEvent is ephemeral; never persisted.
type TypingEvent struct {
	ConversationID string `json:"conversation_id" validate:"required,max=36"`
	UserID         string `json:"user_id,omitempty"`
}

// BadgeUpdateEvent goes to the affected user's personal room only.
type BadgeUpdateEvent struct {
	ConversationID string `json:"conversation_id"`
	Unread         int64  `json:"unread"`
	LastReadSeq    int64  `json:"last_read_seq"`
}

// ConversationRef is the payload of join/leave/focus/blur and read acks.
type ConversationRef struct {
	ConversationID string `json:"conversation_id" validate:"required,max=36"`
	UptoSeq        int64  `json:"upto_seq,omitempty" validate:"omitempty,min=0"`
}

// PresenceStatus is one user's presence view.
type PresenceStatus struct {
	UserID       string    `json:"user_id"`
	IsOnline     bool      `json:"is_online"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// CallSignal relays call:* signaling between personal rooms; no media ever
// crosses this service.
type CallSignal struct {
	CallID         string `json:"call_id" validate:"required,max=36"`
	ConversationID string `json:"conversation_id" validate:"required,max=36"`
	FromUserID     string `json:"from_user_id,omitempty"`
	ToUserID       string `json:"to_user_id" validate:"required,max=64"`
	Media          string `json:"media" validate:"omitempty,oneof=audio video"`
}

// ErrorEvent reports a per-frame failure without dropping the connection.
type ErrorEvent struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
