package dto

import (
	"encoding/json"
	"time"

	"github.com/relaychat/relay-api/internal/models"
)

// AttachmentRef points at already-uploaded media; the engine never carries
// the bytes, only the reference.
type AttachmentRef struct {
	URL         string `json:"url" validate:"required,max=2048"`
	Name        string `json:"name" validate:"omitempty,max=255"`
	Size        int64  `json:"size" validate:"omitempty,min=0"`
	ContentType string `json:"content_type" validate:"omitempty,max=128"`
}

// MessageSendRequest is the payload for both the REST and the direct-socket
// send path.
type MessageSendRequest struct {
	ConversationID string          `json:"conversation_id" validate:"required,max=36"`
	Type           string          `json:"type" validate:"omitempty,oneof=text image file audio notification"`
	Body           string          `json:"body" validate:"omitempty,max=4000"`
	Attachments    []AttachmentRef `json:"attachments" validate:"omitempty,max=9,dive"`
}

// MessageHistoryQuery filters a seq-cursor page of history. Offsets are not
// supported; they drift under concurrent inserts.
type MessageHistoryQuery struct {
	ConversationID string `json:"conversation_id" validate:"required,max=36"`
	BeforeSeq      *int64 `json:"before_seq" validate:"omitempty,min=1"`
	AfterSeq       *int64 `json:"after_seq" validate:"omitempty,min=0"`
	Limit          int    `json:"limit" validate:"omitempty,min=1,max=100"`
}

// Message mutation actions accepted by PATCH /messages/:conversationID.
const (
	MessageActionRecall = "recall"
	MessageActionDelete = "delete"
)

// MessageActionRequest recalls a message for everyone or deletes it for the
// requesting viewer only.
type MessageActionRequest struct {
	MessageID string `json:"message_id" validate:"required,max=36"`
	Action    string `json:"action" validate:"required,oneof=recall delete"`
}

// ReactionRequest sets or removes the caller's reaction on a message.
type ReactionRequest struct {
	MessageID string `json:"message_id" validate:"required,max=36"`
	Emoji     string `json:"emoji" validate:"omitempty,max=32"`
}

// ReactionEntry is one user's current emoji on a message.
type ReactionEntry struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// MessageResponse is the serialized message shape shared by REST pages and
// the message:new socket event. Receivers dedupe repeated deliveries by ID.
type MessageResponse struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Seq            int64           `json:"seq"`
	SenderID       string          `json:"sender_id"`
	Type           string          `json:"type"`
	Body           string          `json:"body"`
	Attachments    []AttachmentRef `json:"attachments,omitempty"`
	Recalled       bool            `json:"recalled"`
	Reactions      []ReactionEntry `json:"reactions,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RecalledBodyMask replaces the body of recalled messages in every read path.
const RecalledBodyMask = ""

// NewMessageResponse converts a model into the wire shape, masking recalled
// content.
func NewMessageResponse(message models.Message) MessageResponse {
	response := MessageResponse{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		Seq:            message.Seq,
		SenderID:       message.SenderID,
		Type:           message.Type,
		Body:           message.Body,
		Recalled:       message.Recalled,
		CreatedAt:      message.CreatedAt,
	}

	if message.Recalled {
		response.Body = RecalledBodyMask
		return response
	}

	if len(message.Attachments) > 0 {
		var attachments []AttachmentRef
		if err := json.Unmarshal(message.Attachments, &attachments); err == nil {
			response.Attachments = attachments
		}
	}

	return response
}

// NewMessageResponseSlice converts a slice of models into DTOs.
func NewMessageResponseSlice(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

// NewReactionEntrySlice converts reaction models into wire entries.
func NewReactionEntrySlice(reactions []models.Reaction) []ReactionEntry {
	out := make([]ReactionEntry, 0, len(reactions))
	for _, reaction := range reactions {
		out = append(out, ReactionEntry{UserID: reaction.UserID, Emoji: reaction.Emoji})
	}
	return out
}
