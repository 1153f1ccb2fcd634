package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay-api/internal/dto"
	"github.com/relaychat/relay-api/internal/realtime"
)

func TestUnreadIncrementsSurviveReorderedFanout(t *testing.T) {
	fixture := newEngineFixture(t)
	conversation := fixture.createConversation(t, "alice", "bob")
	members := []string{"alice", "bob"}
	ctx := context.Background()

	event := func(seq int64) dto.Event {
		return dto.Event{Event: dto.EventMessageNew, Data: dto.MessageNewEvent{
			ConversationID: conversation.ID,
			Message:        dto.MessageResponse{ConversationID: conversation.ID, Seq: seq, SenderID: "alice"},
		}}
	}
	count := func(seq int64) func() {
		return func() {
			fixture.unread.OnNewMessage(ctx, conversation.ID, "alice", seq, members)
		}
	}

	// Two concurrent sends persisting out of order: the slot for seq 2
	// reaches fanout before seq 1. The ledger must still count both, which
	// only holds if increments run inside the ordered slots.
	fixture.broadcaster.FanoutMessage(ctx, conversation.ID, 2, event(2), count(2))
	fixture.broadcaster.FanoutMessage(ctx, conversation.ID, 1, event(1), count(1))

	require.Eventually(t, func() bool {
		counter, err := fixture.ledger.Get(ctx, "bob", conversation.ID)
		return err == nil && counter.Unread == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Re-running a slot is a fanout retry of the same message, not a new
	// one; the counter stays put.
	fixture.broadcaster.FanoutMessage(ctx, conversation.ID, 2, event(2), count(2))
	counter, err := fixture.ledger.Get(ctx, "bob", conversation.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), counter.Unread)
}

func TestReadAckResetsBadgeAndNotifiesOwnDevicesOnly(t *testing.T) {
	fixture := newEngineFixture(t)
	conversation := fixture.createConversation(t, "alice", "bob")

	for i := 0; i < 3; i++ {
		_, err := fixture.service.Send(context.Background(), "alice", dto.MessageSendRequest{
			ConversationID: conversation.ID,
			Body:           "ping",
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		counter, err := fixture.ledger.Get(context.Background(), "bob", conversation.ID)
		return err == nil && counter.Unread == 3
	}, 2*time.Second, 10*time.Millisecond)

	bobPhone := fixture.attach("bob-phone", "bob")
	bobLaptop := fixture.attach("bob-laptop", "bob")
	alice := fixture.attach("alice-phone", "alice")

	badge, err := fixture.unread.ReadAck(context.Background(), "bob", conversation.ID, 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), badge.Unread)
	require.Equal(t, int64(3), badge.LastReadSeq)

	// Both of bob's devices converge; alice hears nothing about it.
	for _, conn := range []*realtime.Connection{bobPhone, bobLaptop} {
		event := awaitEvent(t, conn, dto.EventBadgeUpdate)
		payload, ok := event.Data.(dto.BadgeUpdateEvent)
		require.True(t, ok)
		require.Equal(t, int64(0), payload.Unread)
	}
	select {
	case event := <-alice.Send:
		require.NotEqual(t, dto.EventBadgeUpdate, event.Event)
	default:
	}
}

func TestReadAckStaleCursorEmitsNoBadge(t *testing.T) {
	fixture := newEngineFixture(t)
	conversation := fixture.createConversation(t, "alice", "bob")

	_, err := fixture.service.Send(context.Background(), "alice", dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Body:           "ping",
	})
	require.NoError(t, err)

	_, err = fixture.unread.ReadAck(context.Background(), "bob", conversation.ID, 1)
	require.NoError(t, err)

	bob := fixture.attach("bob-phone", "bob")

	badge, err := fixture.unread.ReadAck(context.Background(), "bob", conversation.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), badge.LastReadSeq)

	select {
	case event := <-bob.Send:
		require.NotEqual(t, dto.EventBadgeUpdate, event.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReadAckRequiresMembership(t *testing.T) {
	fixture := newEngineFixture(t)
	conversation := fixture.createConversation(t, "alice", "bob")

	_, err := fixture.unread.ReadAck(context.Background(), "mallory", conversation.ID, 0)
	require.ErrorIs(t, err, ErrNotAMember)
}

func TestUnreadSummaryListsPerConversationBadges(t *testing.T) {
	fixture := newEngineFixture(t)
	first := fixture.createConversation(t, "alice", "bob")
	second := fixture.createConversation(t, "carol", "bob")

	_, err := fixture.service.Send(context.Background(), "alice", dto.MessageSendRequest{ConversationID: first.ID, Body: "one"})
	require.NoError(t, err)
	_, err = fixture.service.Send(context.Background(), "carol", dto.MessageSendRequest{ConversationID: second.ID, Body: "two"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		summary, err := fixture.unread.Summary(context.Background(), "bob")
		return err == nil && len(summary) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
