package models

import "time"

// Conversation types supported by the directory.
const (
	ConversationTypeDirect = "direct"
	ConversationTypeGroup  = "group"
	ConversationTypeCloud  = "cloud"
)

// Conversation is the directory record for a chat thread. MessageSeq is the
// last allocated sequence number and never decreases; the LastMessage columns
// are a denormalised snapshot so list views render without joining messages.
type Conversation struct {
	ID    string `gorm:"primaryKey;size:36" json:"id"`
	Type  string `gorm:"size:16;not null;index" json:"type"`
	Title string `gorm:"size:255" json:"title,omitempty"`
	// DirectKey is the sorted member pair for direct/cloud conversations and
	// carries a unique index so the same pair never gets two threads. NULL
	// for groups.
	DirectKey *string `gorm:"size:140;uniqueIndex" json:"-"`

	MessageSeq int64 `gorm:"not null" json:"message_seq"`

	LastMessageID       *string    `gorm:"size:36" json:"last_message_id,omitempty"`
	LastMessageSeq      int64      `json:"last_message_seq"`
	LastMessageType     string     `gorm:"size:16" json:"last_message_type,omitempty"`
	LastMessagePreview  string     `gorm:"size:255" json:"last_message_preview,omitempty"`
	LastMessageSenderID string     `gorm:"size:64" json:"last_message_sender_id,omitempty"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Members []ConversationMember `json:"members,omitempty"`
}

// ConversationMember links a user into a conversation with per-member settings.
type ConversationMember struct {
	ConversationID string    `gorm:"primaryKey;size:36" json:"conversation_id"`
	UserID         string    `gorm:"primaryKey;size:64;index" json:"user_id"`
	Muted          bool      `gorm:"not null" json:"muted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
