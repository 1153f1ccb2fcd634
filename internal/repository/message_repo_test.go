package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay-api/internal/models"
)

func appendMessage(t *testing.T, repo MessageRepository, conversationID string, seq int64, senderID, body string) models.Message {
	t.Helper()
	message := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Seq:            seq,
		SenderID:       senderID,
		Type:           models.MessageTypeText,
		Body:           body,
	}
	require.NoError(t, repo.Append(context.Background(), &message))
	return message
}

func TestMessageRepositorySeqUniquePerConversation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	appendMessage(t, repo, "conv-1", 1, "alice", "one")

	duplicate := models.Message{ID: uuid.NewString(), ConversationID: "conv-1", Seq: 1, SenderID: "bob", Type: models.MessageTypeText}
	require.Error(t, repo.Append(context.Background(), &duplicate))

	// Same seq in another conversation is fine.
	other := models.Message{ID: uuid.NewString(), ConversationID: "conv-2", Seq: 1, SenderID: "bob", Type: models.MessageTypeText}
	require.NoError(t, repo.Append(context.Background(), &other))
}

func TestMessageRepositoryPagination(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	for seq := int64(1); seq <= 10; seq++ {
		appendMessage(t, repo, "conv-1", seq, "alice", "m")
	}

	page, err := repo.ListBefore(context.Background(), "conv-1", "bob", 0, 4)
	require.NoError(t, err)
	require.Len(t, page, 4)
	require.Equal(t, int64(10), page[0].Seq)
	require.Equal(t, int64(7), page[3].Seq)

	page, err = repo.ListBefore(context.Background(), "conv-1", "bob", 7, 4)
	require.NoError(t, err)
	require.Len(t, page, 4)
	require.Equal(t, int64(6), page[0].Seq)
	require.Equal(t, int64(3), page[3].Seq)

	resync, err := repo.ListAfter(context.Background(), "conv-1", "bob", 8, 10)
	require.NoError(t, err)
	require.Len(t, resync, 2)
	require.Equal(t, int64(9), resync[0].Seq)
	require.Equal(t, int64(10), resync[1].Seq)
}

func TestMessageRepositoryRecallKeepsSeqSlot(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	message := appendMessage(t, repo, "conv-1", 1, "alice", "secret")
	appendMessage(t, repo, "conv-1", 2, "bob", "reply")

	require.NoError(t, repo.Recall(context.Background(), message.ID))
	require.NoError(t, repo.Recall(context.Background(), message.ID))

	loaded, err := repo.Get(context.Background(), message.ID)
	require.NoError(t, err)
	require.True(t, loaded.Recalled)
	require.Equal(t, int64(1), loaded.Seq)

	// The recalled message still occupies its slot in pagination.
	page, err := repo.ListBefore(context.Background(), "conv-1", "bob", 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
}

func TestMessageRepositoryDeleteForViewerIsPerViewer(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	message := appendMessage(t, repo, "conv-1", 1, "alice", "hello")
	appendMessage(t, repo, "conv-1", 2, "bob", "hi")

	require.NoError(t, repo.DeleteForViewer(context.Background(), message.ID, "bob"))
	require.NoError(t, repo.DeleteForViewer(context.Background(), message.ID, "bob"))

	bobView, err := repo.ListBefore(context.Background(), "conv-1", "bob", 0, 10)
	require.NoError(t, err)
	require.Len(t, bobView, 1)
	require.Equal(t, int64(2), bobView[0].Seq)

	aliceView, err := repo.ListBefore(context.Background(), "conv-1", "alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, aliceView, 2)
}

func TestMessageRepositoryReactionReplacesNotStacks(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	message := appendMessage(t, repo, "conv-1", 1, "alice", "hello")

	require.NoError(t, repo.SetReaction(context.Background(), message.ID, "bob", "👍"))
	require.NoError(t, repo.SetReaction(context.Background(), message.ID, "bob", "❤️"))
	require.NoError(t, repo.SetReaction(context.Background(), message.ID, "carol", "👍"))

	reactions, err := repo.Reactions(context.Background(), message.ID)
	require.NoError(t, err)
	require.Len(t, reactions, 2)

	byUser := make(map[string]string, len(reactions))
	for _, reaction := range reactions {
		byUser[reaction.UserID] = reaction.Emoji
	}
	require.Equal(t, "❤️", byUser["bob"])
	require.Equal(t, "👍", byUser["carol"])

	require.NoError(t, repo.RemoveReaction(context.Background(), message.ID, "bob"))
	require.NoError(t, repo.RemoveReaction(context.Background(), message.ID, "bob"))

	reactions, err = repo.Reactions(context.Background(), message.ID)
	require.NoError(t, err)
	require.Len(t, reactions, 1)
}

func TestMessageRepositoryReactionsForBatches(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	first := appendMessage(t, repo, "conv-1", 1, "alice", "one")
	second := appendMessage(t, repo, "conv-1", 2, "alice", "two")

	require.NoError(t, repo.SetReaction(context.Background(), first.ID, "bob", "👍"))
	require.NoError(t, repo.SetReaction(context.Background(), second.ID, "bob", "😂"))
	require.NoError(t, repo.SetReaction(context.Background(), second.ID, "carol", "😂"))

	batch, err := repo.ReactionsFor(context.Background(), []string{first.ID, second.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, batch[first.ID], 1)
	require.Len(t, batch[second.ID], 2)
	require.Empty(t, batch["missing"])
}
