package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/relaychat/relay-api/internal/models"
)

// ConversationRepository is the directory plus the sequence allocator.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *models.Conversation, memberIDs []string) error
	Get(ctx context.Context, id string) (models.Conversation, error)
	GetByDirectKey(ctx context.Context, directKey string) (models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	MemberIDs(ctx context.Context, conversationID string) ([]string, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	SetMuted(ctx context.Context, conversationID, userID string, muted bool) error
	ContactIDs(ctx context.Context, userID string) ([]string, error)

	AllocateSeq(ctx context.Context, conversationID string) (int64, error)
	UpdateLastMessage(ctx context.Context, message models.Message, preview string) error
	MaskLastMessagePreview(ctx context.Context, conversationID, messageID, preview string) error
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository constructs a directory backed by GORM.
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// DirectKey builds the canonical pair key for direct and cloud threads so a
// second create for the same pair resolves to the existing conversation.
func DirectKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

func (r *conversationRepository) Create(ctx context.Context, conversation *models.Conversation, memberIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conversation).Error; err != nil {
			return err
		}

		members := make([]models.ConversationMember, 0, len(memberIDs))
		for _, userID := range memberIDs {
			members = append(members, models.ConversationMember{
				ConversationID: conversation.ID,
				UserID:         userID,
			})
		}
		if len(members) == 0 {
			return nil
		}
		return tx.Create(&members).Error
	})
}

func (r *conversationRepository) Get(ctx context.Context, id string) (models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).Preload("Members").First(&conversation, "id = ?", id).Error
	if err != nil {
		return models.Conversation{}, err
	}
	return conversation, nil
}

func (r *conversationRepository) GetByDirectKey(ctx context.Context, directKey string) (models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).Preload("Members").First(&conversation, "direct_key = ?", directKey).Error
	if err != nil {
		return models.Conversation{}, err
	}
	return conversation, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Members").
		Joins("JOIN conversation_members cm ON cm.conversation_id = conversations.id AND cm.user_id = ?", userID).
		Order("conversations.last_message_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

func (r *conversationRepository) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Where("conversation_id = ?", conversationID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *conversationRepository) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *conversationRepository) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	result := r.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(map[string]interface{}{"muted": muted, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ContactIDs returns the distinct users sharing at least one conversation
// with the given user. Presence updates fan out to exactly this set.
func (r *conversationRepository) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Distinct("user_id").
		Where("user_id <> ?", userID).
		Where("conversation_id IN (?)", r.db.Model(&models.ConversationMember{}).Select("conversation_id").Where("user_id = ?", userID)).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// AllocateSeq issues the next sequence number with a single atomic
// increment-and-fetch. Concurrent callers for the same conversation get
// distinct, ordered values; no application-level read-modify-write and no
// lock service. A failed allocation aborts the send before any message row
// exists.
func (r *conversationRepository) AllocateSeq(ctx context.Context, conversationID string) (int64, error) {
	var seq int64
	result := r.db.WithContext(ctx).Raw(
		"UPDATE conversations SET message_seq = message_seq + 1, updated_at = ? WHERE id = ? RETURNING message_seq",
		time.Now(), conversationID,
	).Scan(&seq)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return seq, nil
}

// UpdateLastMessage refreshes the snapshot only when the new message is at
// least as recent as the recorded one, so concurrent sends completing out of
// order cannot regress the pointer.
func (r *conversationRepository) UpdateLastMessage(ctx context.Context, message models.Message, preview string) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ? AND last_message_seq < ?", message.ConversationID, message.Seq).
		Updates(map[string]interface{}{
			"last_message_id":        message.ID,
			"last_message_seq":       message.Seq,
			"last_message_type":      message.Type,
			"last_message_preview":   preview,
			"last_message_sender_id": message.SenderID,
			"last_message_at":        message.CreatedAt,
			"updated_at":             time.Now(),
		}).Error
}

// MaskLastMessagePreview rewrites the preview when the snapshot still points
// at the given message; used after a recall so list views show the
// retraction without renumbering anything.
func (r *conversationRepository) MaskLastMessagePreview(ctx context.Context, conversationID, messageID, preview string) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ? AND last_message_id = ?", conversationID, messageID).
		Updates(map[string]interface{}{"last_message_preview": preview, "updated_at": time.Now()}).Error
}
