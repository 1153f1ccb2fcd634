package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message types.
const (
	MessageTypeText         = "text"
	MessageTypeImage        = "image"
	MessageTypeFile         = "file"
	MessageTypeAudio        = "audio"
	MessageTypeNotification = "notification"
)

// Message is one entry in a conversation's append-only log. Seq is assigned
// exactly once at creation and unique within the conversation; recall and
// per-viewer deletion never renumber or reuse it.
type Message struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string         `gorm:"size:36;not null;uniqueIndex:idx_messages_conversation_seq" json:"conversation_id"`
	Seq            int64          `gorm:"not null;uniqueIndex:idx_messages_conversation_seq" json:"seq"`
	SenderID       string         `gorm:"size:64;not null;index" json:"sender_id"`
	Type           string         `gorm:"size:16;not null" json:"type"`
	Body           string         `gorm:"type:text" json:"body"`
	Attachments    datatypes.JSON `json:"attachments,omitempty"`
	Recalled       bool           `gorm:"not null" json:"recalled"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MessageDeletion hides a message for one viewer without touching anyone
// else's view or the conversation's seq/lastMessage state.
type MessageDeletion struct {
	MessageID string    `gorm:"primaryKey;size:36" json:"message_id"`
	UserID    string    `gorm:"primaryKey;size:64" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Reaction stores one emoji per (message, user); setting a new emoji for the
// same pair replaces the previous one.
type Reaction struct {
	MessageID string    `gorm:"primaryKey;size:36" json:"message_id"`
	UserID    string    `gorm:"primaryKey;size:64" json:"user_id"`
	Emoji     string    `gorm:"size:32;not null" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
