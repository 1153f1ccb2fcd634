package realtime

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/relaychat/relay-api/internal/dto"
)

const defaultSendBuffer = 32

// ConversationTopic names the room reaching every connection currently
// viewing a conversation.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// UserTopic names the personal room reaching every connection of one user,
// regardless of what they are viewing.
func UserTopic(userID string) string {
	return "user:" + userID
}

// Connection is one websocket attachment. A user may hold several at once
// (multi-device, multi-tab); each gets its own buffered send channel drained
// by its writer goroutine.
type Connection struct {
	ID     string
	UserID string
	Send   chan dto.Event
}

// NewConnection allocates a connection with the standard send buffer.
func NewConnection(id, userID string) *Connection {
	return &Connection{ID: id, UserID: userID, Send: make(chan dto.Event, defaultSendBuffer)}
}

// Router keeps the bidirectional connection↔topic membership table. It is
// the only in-process mutable shared state of the engine; all access goes
// through the mutex so connect/join/leave/disconnect events serialize.
type Router struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	topics      map[string]map[string]*Connection
	memberships map[string]map[string]struct{}
	log         zerolog.Logger
	onDrop      func(topic string)
}

// NewRouter constructs an empty membership table.
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		connections: make(map[string]*Connection),
		topics:      make(map[string]map[string]*Connection),
		memberships: make(map[string]map[string]struct{}),
		log:         logger.With().Str("component", "room_router").Logger(),
	}
}

// OnDrop installs a hook invoked whenever a slow consumer forces an event to
// be dropped. Used to feed the drop counter without importing metrics here.
func (r *Router) OnDrop(hook func(topic string)) {
	r.mu.Lock()
	r.onDrop = hook
	r.mu.Unlock()
}

// Register adds a connection and joins it to its personal room. Every
// registered connection must be released through Unregister; the websocket
// close path owns that call so no membership can dangle.
func (r *Router) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID] = conn
	r.joinLocked(conn, UserTopic(conn.UserID))
	r.log.Debug().Str("connection_id", conn.ID).Str("user_id", conn.UserID).Msg("connection registered")
}

// Unregister removes the connection and every membership it holds, then
// closes its send channel so the writer goroutine drains and exits.
func (r *Router) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		return
	}

	for topic := range r.memberships[connID] {
		r.leaveLocked(connID, topic)
	}
	delete(r.memberships, connID)
	delete(r.connections, connID)
	close(conn.Send)
	r.log.Debug().Str("connection_id", connID).Str("user_id", conn.UserID).Msg("connection unregistered")
}

// Join subscribes a registered connection to a topic. Unknown connections
// are ignored; there is no "disconnected but still routed" state.
func (r *Router) Join(connID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		return
	}
	r.joinLocked(conn, topic)
}

// Leave drops one membership; the personal room stays until Unregister.
func (r *Router) Leave(connID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, topic)
	if members, ok := r.memberships[connID]; ok {
		delete(members, topic)
	}
}

// Members returns the connections currently subscribed to a topic.
func (r *Router) Members(topic string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.topics[topic]
	out := make([]*Connection, 0, len(members))
	for _, conn := range members {
		out = append(out, conn)
	}
	return out
}

// Topics returns the memberships held by one connection.
func (r *Router) Topics(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.memberships[connID]))
	for topic := range r.memberships[connID] {
		out = append(out, topic)
	}
	return out
}

// Broadcast emits the event to every member of the topic. Sends never block:
// a full buffer means the consumer is too slow and the event is dropped for
// that connection; reconnecting clients recover through pagination.
// Sends stay under the read lock: Unregister closes send channels under the
// write lock, so an emit can never race a close.
func (r *Router) Broadcast(topic string, event dto.Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for _, conn := range r.topics[topic] {
		select {
		case conn.Send <- event:
			delivered++
		default:
			if r.onDrop != nil {
				r.onDrop(topic)
			}
			r.log.Warn().Str("topic", topic).Str("connection_id", conn.ID).Str("event", event.Event).Msg("dropping event for slow connection")
		}
	}
	return delivered
}

// ConnectionCount reports active connections, used by the health surface.
func (r *Router) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Shutdown unregisters every connection; part of process teardown.
func (r *Router) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Unregister(id)
	}
}

func (r *Router) joinLocked(conn *Connection, topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}

	if _, ok := r.topics[topic]; !ok {
		r.topics[topic] = make(map[string]*Connection)
	}
	r.topics[topic][conn.ID] = conn

	if _, ok := r.memberships[conn.ID]; !ok {
		r.memberships[conn.ID] = make(map[string]struct{})
	}
	r.memberships[conn.ID][topic] = struct{}{}
}

func (r *Router) leaveLocked(connID, topic string) {
	if members, ok := r.topics[topic]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.topics, topic)
		}
	}
}
