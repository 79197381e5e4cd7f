// Package hub holds the broker's only in-memory mutable shared state: the
// session registry (user identity -> live connections) and the topic
// channel manager (issue id -> joined connections). Both are plain maps
// behind one RWMutex; every connection-handling goroutine goes through the
// exported methods, never the maps.
package hub

import (
	"sync"

	"github.com/Anieshwar-Saravanan/TeenConnect/internal/protocol"

	"go.uber.org/zap"
)

// Sender is the minimal interface the hub needs from a connection: the
// ability to push outbound events and to close the socket.
type Sender interface {
	Send(evt protocol.Event) error
	Close(reason string) error
}

// Identity is the authenticated binding of a connection.
type Identity struct {
	UserID string
	Role   string
}

// Hub manages live connections, their identities and topic membership.
// All maps are keyed by connection id; membership for a connection is
// dropped wholesale on disconnect, so nothing leaks when a socket dies
// without an explicit leave.
type Hub struct {
	mu sync.RWMutex

	conns      map[string]Sender            // every live connection
	identities map[string]Identity          // connID -> bound identity
	users      map[string]map[string]Sender // userID -> connID -> sender
	topics     map[string]map[string]Sender // issueID -> connID -> sender

	log *zap.Logger
}

// New creates an empty hub.
func New(log *zap.Logger) *Hub {
	return &Hub{
		conns:      make(map[string]Sender),
		identities: make(map[string]Identity),
		users:      make(map[string]map[string]Sender),
		topics:     make(map[string]map[string]Sender),
		log:        log,
	}
}

// Track registers a freshly accepted connection before authentication.
func (h *Hub) Track(connID string, s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[connID] = s
}

// Bind associates an authenticated identity with a tracked connection.
// Rebinding is idempotent: a second authenticate replaces the identity.
func (h *Hub) Bind(connID string, id Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.conns[connID]
	if !ok {
		return
	}

	if prev, ok := h.identities[connID]; ok {
		h.removeUserConnLocked(prev.UserID, connID)
	}
	h.identities[connID] = id

	if _, ok := h.users[id.UserID]; !ok {
		h.users[id.UserID] = make(map[string]Sender)
	}
	h.users[id.UserID][connID] = s
}

// Identity returns the identity bound to a connection, if any.
func (h *Hub) Identity(connID string) (Identity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.identities[connID]
	return id, ok
}

// Drop removes a connection entirely: registry entry, identity binding and
// every topic membership row. Called exactly once per disconnect.
func (h *Hub) Drop(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, connID)
	if id, ok := h.identities[connID]; ok {
		h.removeUserConnLocked(id.UserID, connID)
		delete(h.identities, connID)
	}
	for issueID, members := range h.topics {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.topics, issueID)
		}
	}
}

func (h *Hub) removeUserConnLocked(userID, connID string) {
	if conns, ok := h.users[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.users, userID)
		}
	}
}

// Join adds a connection to an issue topic.
func (h *Hub) Join(issueID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.conns[connID]
	if !ok {
		return
	}
	if _, ok := h.topics[issueID]; !ok {
		h.topics[issueID] = make(map[string]Sender)
	}
	h.topics[issueID][connID] = s
}

// NotifyUser delivers an event to every live connection of a user.
// Best-effort: failed senders are evicted so stale streams don't linger,
// and delivery failures are logged, never propagated.
func (h *Hub) NotifyUser(userID string, evt protocol.Event) {
	h.mu.RLock()
	conns := make(map[string]Sender, len(h.users[userID]))
	for id, s := range h.users[userID] {
		conns[id] = s
	}
	h.mu.RUnlock()

	for connID, s := range conns {
		if err := s.Send(evt); err != nil {
			h.log.Warn("user notification failed",
				zap.String("user_id", userID),
				zap.String("event", evt.Event),
				zap.Error(err))
			h.Drop(connID)
		}
	}
}

// BroadcastTopic delivers an event to every connection joined to an issue.
func (h *Hub) BroadcastTopic(issueID string, evt protocol.Event) {
	h.mu.RLock()
	members := make([]Sender, 0, len(h.topics[issueID]))
	for _, s := range h.topics[issueID] {
		members = append(members, s)
	}
	h.mu.RUnlock()

	for _, s := range members {
		if err := s.Send(evt); err != nil {
			h.log.Warn("topic broadcast delivery failed",
				zap.String("issue_id", issueID),
				zap.String("event", evt.Event),
				zap.Error(err))
		}
	}
}

// BroadcastAll delivers an event to every live connection, authenticated
// or not. Used for request-board updates.
func (h *Hub) BroadcastAll(evt protocol.Event) {
	h.mu.RLock()
	all := make([]Sender, 0, len(h.conns))
	for _, s := range h.conns {
		all = append(all, s)
	}
	h.mu.RUnlock()

	for _, s := range all {
		if err := s.Send(evt); err != nil {
			h.log.Warn("broadcast delivery failed",
				zap.String("event", evt.Event),
				zap.Error(err))
		}
	}
}

// DisconnectUser force-closes every live connection of a user. Used when a
// mentor crosses the block threshold.
func (h *Hub) DisconnectUser(userID, reason string) {
	h.mu.RLock()
	conns := make(map[string]Sender, len(h.users[userID]))
	for id, s := range h.users[userID] {
		conns[id] = s
	}
	h.mu.RUnlock()

	for connID, s := range conns {
		if err := s.Close(reason); err != nil {
			h.log.Warn("forced disconnect failed",
				zap.String("user_id", userID),
				zap.Error(err))
		}
		h.Drop(connID)
	}
}
