package models

import "time"

// UnreadCounter is the per (user, conversation) ledger row. LastReadSeq is
// the monotonic read watermark; LastCountedSeq is the highest seq already
// counted into Unread so retried fanout cannot double count.
type UnreadCounter struct {
	UserID         string    `gorm:"primaryKey;size:64" json:"user_id"`
	ConversationID string    `gorm:"primaryKey;size:36" json:"conversation_id"`
	Unread         int64     `gorm:"not null" json:"unread"`
	LastReadSeq    int64     `gorm:"not null" json:"last_read_seq"`
	LastCountedSeq int64     `gorm:"not null" json:"last_counted_seq"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
