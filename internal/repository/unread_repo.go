package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/relaychat/relay-api/internal/models"
)

// UnreadRepository persists the per (user, conversation) unread ledger.
// All mutations are single atomic statements; the ledger is shared between
// processes and application-level read-modify-write would double count.
type UnreadRepository interface {
	Increment(ctx context.Context, userID, conversationID string, seq int64) error
	ReadAck(ctx context.Context, userID, conversationID string, uptoSeq int64) (bool, error)
	Get(ctx context.Context, userID, conversationID string) (models.UnreadCounter, error)
	Summary(ctx context.Context, userID string) ([]models.UnreadCounter, error)
}

type unreadRepository struct {
	db *gorm.DB
}

// NewUnreadRepository constructs a ledger backed by GORM.
func NewUnreadRepository(db *gorm.DB) UnreadRepository {
	return &unreadRepository{db: db}
}

// Increment counts one qualifying message for one member. The row is created
// lazily on first increment; the conflict branch only fires while
// last_counted_seq is below the message's seq, which makes the increment
// exactly-once per (conversation, seq, member) no matter how often fanout
// retries it.
func (r *unreadRepository) Increment(ctx context.Context, userID, conversationID string, seq int64) error {
	now := time.Now()
	counter := models.UnreadCounter{
		UserID:         userID,
		ConversationID: conversationID,
		Unread:         1,
		LastReadSeq:    0,
		LastCountedSeq: seq,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "conversation_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"unread":           gorm.Expr("unread_counters.unread + 1"),
				"last_counted_seq": gorm.Expr("excluded.last_counted_seq"),
				"updated_at":       now,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("unread_counters.last_counted_seq < excluded.last_counted_seq"),
			}},
		}).
		Create(&counter).Error
}

// ReadAck advances the read watermark and resets the counter. The watermark
// is monotonic: an ack at or below the current last_read_seq matches no row
// and changes nothing. Returns whether the cursor actually advanced.
func (r *unreadRepository) ReadAck(ctx context.Context, userID, conversationID string, uptoSeq int64) (bool, error) {
	now := time.Now()
	counter := models.UnreadCounter{
		UserID:         userID,
		ConversationID: conversationID,
		Unread:         0,
		LastReadSeq:    uptoSeq,
		LastCountedSeq: uptoSeq,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "conversation_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"unread":        0,
				"last_read_seq": gorm.Expr("excluded.last_read_seq"),
				// Acked messages are also counted: a message persisting late
				// with a seq below the ack must not bump the counter back up.
				"last_counted_seq": gorm.Expr("CASE WHEN excluded.last_counted_seq > unread_counters.last_counted_seq THEN excluded.last_counted_seq ELSE unread_counters.last_counted_seq END"),
				"updated_at":       now,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("unread_counters.last_read_seq < excluded.last_read_seq"),
			}},
		}).
		Create(&counter)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *unreadRepository) Get(ctx context.Context, userID, conversationID string) (models.UnreadCounter, error) {
	var counter models.UnreadCounter
	err := r.db.WithContext(ctx).
		First(&counter, "user_id = ? AND conversation_id = ?", userID, conversationID).Error
	if err != nil {
		return models.UnreadCounter{}, err
	}
	return counter, nil
}

func (r *unreadRepository) Summary(ctx context.Context, userID string) ([]models.UnreadCounter, error) {
	var counters []models.UnreadCounter
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&counters).Error
	if err != nil {
		return nil, err
	}
	return counters, nil
}
