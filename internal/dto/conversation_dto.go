package dto

import (
	"time"

	"github.com/relaychat/relay-api/internal/models"
)

// ConversationCreateRequest opens a direct, group or cloud conversation.
// Direct requires exactly one peer; cloud is the caller's self thread.
type ConversationCreateRequest struct {
	Type      string   `json:"type" validate:"required,oneof=direct group cloud"`
	Title     string   `json:"title" validate:"omitempty,max=255"`
	MemberIDs []string `json:"member_ids" validate:"omitempty,max=256,dive,required,max=64"`
}

// LastMessageSnapshot renders conversation lists without joining messages.
type LastMessageSnapshot struct {
	MessageID string     `json:"message_id"`
	Seq       int64      `json:"seq"`
	Type      string     `json:"type"`
	Preview   string     `json:"preview"`
	SenderID  string     `json:"sender_id"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// ConversationResponse is the directory view for one member.
type ConversationResponse struct {
	ID          string               `json:"id"`
	Type        string               `json:"type"`
	Title       string               `json:"title,omitempty"`
	MemberIDs   []string             `json:"member_ids"`
	Muted       bool                 `json:"muted"`
	Unread      int64                `json:"unread"`
	LastMessage *LastMessageSnapshot `json:"last_message,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// NewConversationResponse converts a directory model for the given viewer.
func NewConversationResponse(conversation models.Conversation, viewerID string) ConversationResponse {
	response := ConversationResponse{
		ID:        conversation.ID,
		Type:      conversation.Type,
		Title:     conversation.Title,
		CreatedAt: conversation.CreatedAt,
	}

	for _, member := range conversation.Members {
		response.MemberIDs = append(response.MemberIDs, member.UserID)
		if member.UserID == viewerID {
			response.Muted = member.Muted
		}
	}

	if conversation.LastMessageID != nil {
		response.LastMessage = &LastMessageSnapshot{
			MessageID: *conversation.LastMessageID,
			Seq:       conversation.LastMessageSeq,
			Type:      conversation.LastMessageType,
			Preview:   conversation.LastMessagePreview,
			SenderID:  conversation.LastMessageSenderID,
			CreatedAt: conversation.LastMessageAt,
		}
	}

	return response
}

// ReadAckRequest advances the caller's read cursor. UptoSeq zero means
// "latest" and is resolved server side.
type ReadAckRequest struct {
	UptoSeq int64 `json:"upto_seq" validate:"omitempty,min=0"`
}

// MuteRequest toggles the caller's mute flag on a conversation.
type MuteRequest struct {
	Muted bool `json:"muted"`
}

// UnreadSummaryEntry is one element of the boot-time badge hydration list.
type UnreadSummaryEntry struct {
	ConversationID string `json:"conversation_id"`
	Unread         int64  `json:"unread"`
	LastReadSeq    int64  `json:"last_read_seq"`
}
