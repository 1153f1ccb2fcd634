package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/relaychat/relay-api/internal/models"
)

const defaultPageSize = 50

// MessageRepository is the append-only message log plus the reaction map.
type MessageRepository interface {
	Append(ctx context.Context, message *models.Message) error
	Get(ctx context.Context, messageID string) (models.Message, error)
	ListBefore(ctx context.Context, conversationID, viewerID string, beforeSeq int64, limit int) ([]models.Message, error)
	ListAfter(ctx context.Context, conversationID, viewerID string, afterSeq int64, limit int) ([]models.Message, error)
	Recall(ctx context.Context, messageID string) error
	DeleteForViewer(ctx context.Context, messageID, viewerID string) error

	SetReaction(ctx context.Context, messageID, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, userID string) error
	Reactions(ctx context.Context, messageID string) ([]models.Reaction, error)
	ReactionsFor(ctx context.Context, messageIDs []string) (map[string][]models.Reaction, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message store backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) Get(ctx context.Context, messageID string) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).First(&message, "id = ?", messageID).Error
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

// ListBefore pages history backwards from the cursor, newest first within
// the page. Cursors are seq values, never offsets; offsets drift under
// concurrent inserts. Messages the viewer deleted for themselves are
// filtered out; recalled messages stay (the DTO masks their body).
func (r *messageRepository) ListBefore(ctx context.Context, conversationID, viewerID string, beforeSeq int64, limit int) ([]models.Message, error) {
	query := r.visibleMessages(ctx, conversationID, viewerID)
	if beforeSeq > 0 {
		query = query.Where("seq < ?", beforeSeq)
	}

	var messages []models.Message
	if err := query.Order("seq DESC").Limit(clampLimit(limit)).Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// ListAfter pages forwards from the cursor in ascending seq order; this is
// the authoritative recovery path for realtime events missed while offline.
func (r *messageRepository) ListAfter(ctx context.Context, conversationID, viewerID string, afterSeq int64, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := r.visibleMessages(ctx, conversationID, viewerID).
		Where("seq > ?", afterSeq).
		Order("seq ASC").
		Limit(clampLimit(limit)).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) visibleMessages(ctx context.Context, conversationID, viewerID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Where("NOT EXISTS (SELECT 1 FROM message_deletions md WHERE md.message_id = messages.id AND md.user_id = ?)", viewerID)
}

// Recall tombstones the message; the seq slot stays occupied and already
// recalled messages are left as they are.
func (r *messageRepository) Recall(ctx context.Context, messageID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{"recalled": true, "updated_at": time.Now()}).Error
}

// DeleteForViewer is idempotent: a second delete for the same viewer hits
// the primary key conflict and does nothing.
func (r *messageRepository) DeleteForViewer(ctx context.Context, messageID, viewerID string) error {
	deletion := models.MessageDeletion{MessageID: messageID, UserID: viewerID}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&deletion).Error
}

// SetReaction upserts on (message_id, user_id): a new emoji for the same
// pair replaces the previous one, so no user ever holds two reactions on
// one message.
func (r *messageRepository) SetReaction(ctx context.Context, messageID, userID, emoji string) error {
	now := time.Now()
	reaction := models.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"emoji": emoji, "updated_at": now}),
		}).
		Create(&reaction).Error
}

// RemoveReaction clears the user's entry; absence is a no-op, not an error.
func (r *messageRepository) RemoveReaction(ctx context.Context, messageID, userID string) error {
	return r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Delete(&models.Reaction{}).Error
}

func (r *messageRepository) Reactions(ctx context.Context, messageID string) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}
	return reactions, nil
}

// ReactionsFor loads the reaction maps for a page of messages in one query.
func (r *messageRepository) ReactionsFor(ctx context.Context, messageIDs []string) (map[string][]models.Reaction, error) {
	out := make(map[string][]models.Reaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}

	var reactions []models.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("created_at ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}

	for _, reaction := range reactions {
		out[reaction.MessageID] = append(out[reaction.MessageID], reaction)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return defaultPageSize
	}
	return limit
}
