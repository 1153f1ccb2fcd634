package realtime

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay-api/internal/dto"
)

func drain(conn *Connection) []dto.Event {
	out := make([]dto.Event, 0, len(conn.Send))
	for {
		select {
		case event := <-conn.Send:
			out = append(out, event)
		default:
			return out
		}
	}
}

func TestRouterPersonalRoomReachesEveryConnectionOfUser(t *testing.T) {
	router := NewRouter(zerolog.Nop())

	phone := NewConnection("c1", "alice")
	laptop := NewConnection("c2", "alice")
	other := NewConnection("c3", "bob")
	router.Register(phone)
	router.Register(laptop)
	router.Register(other)

	delivered := router.Broadcast(UserTopic("alice"), dto.Event{Event: dto.EventBadgeUpdate})
	require.Equal(t, 2, delivered)
	require.Len(t, drain(phone), 1)
	require.Len(t, drain(laptop), 1)
	require.Empty(t, drain(other))
}

func TestRouterJoinAndLeaveConversationRoom(t *testing.T) {
	router := NewRouter(zerolog.Nop())

	conn := NewConnection("c1", "alice")
	router.Register(conn)

	topic := ConversationTopic("conv-1")
	router.Join(conn.ID, topic)
	require.Len(t, router.Members(topic), 1)

	delivered := router.Broadcast(topic, dto.Event{Event: dto.EventMessageNew})
	require.Equal(t, 1, delivered)

	router.Leave(conn.ID, topic)
	require.Empty(t, router.Members(topic))
	require.Equal(t, 0, router.Broadcast(topic, dto.Event{Event: dto.EventMessageNew}))

	// The personal room membership survives a conversation leave.
	require.Equal(t, 1, router.Broadcast(UserTopic("alice"), dto.Event{Event: dto.EventBadgeUpdate}))
}

func TestRouterJoinUnknownConnectionIsIgnored(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	router.Join("ghost", ConversationTopic("conv-1"))
	require.Empty(t, router.Members(ConversationTopic("conv-1")))
}

func TestRouterUnregisterRemovesEveryMembership(t *testing.T) {
	router := NewRouter(zerolog.Nop())

	conn := NewConnection("c1", "alice")
	router.Register(conn)
	router.Join(conn.ID, ConversationTopic("conv-1"))
	router.Join(conn.ID, ConversationTopic("conv-2"))
	require.Len(t, router.Topics(conn.ID), 3)

	router.Unregister(conn.ID)

	require.Empty(t, router.Topics(conn.ID))
	require.Empty(t, router.Members(ConversationTopic("conv-1")))
	require.Empty(t, router.Members(ConversationTopic("conv-2")))
	require.Equal(t, 0, router.ConnectionCount())

	_, open := <-conn.Send
	require.False(t, open, "send channel must be closed on unregister")

	// A second unregister is a no-op.
	router.Unregister(conn.ID)
}

func TestRouterDropsForSlowConsumer(t *testing.T) {
	router := NewRouter(zerolog.Nop())

	dropped := 0
	router.OnDrop(func(string) { dropped++ })

	conn := &Connection{ID: "c1", UserID: "alice", Send: make(chan dto.Event, 1)}
	router.Register(conn)

	topic := UserTopic("alice")
	require.Equal(t, 1, router.Broadcast(topic, dto.Event{Event: dto.EventMessageNew}))
	// Buffer full now; the next event is dropped rather than blocking.
	require.Equal(t, 0, router.Broadcast(topic, dto.Event{Event: dto.EventMessageNew}))
	require.Equal(t, 1, dropped)
}

func TestRouterShutdownClosesEverything(t *testing.T) {
	router := NewRouter(zerolog.Nop())

	first := NewConnection("c1", "alice")
	second := NewConnection("c2", "bob")
	router.Register(first)
	router.Register(second)

	router.Shutdown()

	require.Equal(t, 0, router.ConnectionCount())
	_, open := <-first.Send
	require.False(t, open)
	_, open = <-second.Send
	require.False(t, open)
}
