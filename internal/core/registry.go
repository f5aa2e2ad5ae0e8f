package core

import (
	"sort"
	"sync"

	"github.com/vovakirdan/doubtline/internal/metrics"
)

// RoutePolicy decides whether the sender receives its own event.
type RoutePolicy struct {
	EchoMessages bool
	EchoTyping   bool
}

// DefaultRoutePolicy echoes chat messages for UI confirmation but not typing.
func DefaultRoutePolicy() RoutePolicy {
	return RoutePolicy{EchoMessages: true}
}

// IncludeSender reports whether kind is echoed to the sender.
func (p RoutePolicy) IncludeSender(kind EventKind) bool {
	switch kind {
	case EventRoomMessage:
		return p.EchoMessages
	case EventUserTyping, EventUserStoppedTyping:
		return p.EchoTyping
	default:
		return false
	}
}

// Registry tracks which connections are members of which rooms.
// A connection is in a room iff it joined and has not left or disconnected.
type Registry struct {
	mu      sync.RWMutex
	policy  RoutePolicy
	clients map[string]*Client
	rooms   map[string]map[string]struct{}
	joined  map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(policy RoutePolicy) *Registry {
	return &Registry{
		policy:  policy,
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Policy returns the echo policy in effect.
func (r *Registry) Policy() RoutePolicy {
	return r.policy
}

// Add makes c addressable by its ID. Adding an existing ID replaces the
// client pointer but keeps memberships.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c.ID] = c
	if _, ok := r.joined[c.ID]; !ok {
		r.joined[c.ID] = make(map[string]struct{})
	}
}

// Client returns the registered client for connID.
func (r *Registry) Client(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[connID]
	return c, ok
}

// Join adds connID to room. It reports whether the membership is new.
func (r *Registry) Join(connID, room string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.joined[connID]
	if !ok {
		return false, ErrUnknownConnection
	}
	if _, exists := rooms[room]; exists {
		return false, nil
	}
	rooms[room] = struct{}{}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
		metrics.Rooms.Inc()
	}
	members[connID] = struct{}{}
	return true, nil
}

// Leave removes connID from room. It reports whether a membership existed.
func (r *Registry) Leave(connID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(connID, room)
}

func (r *Registry) leaveLocked(connID, room string) bool {
	rooms, ok := r.joined[connID]
	if !ok {
		return false
	}
	if _, exists := rooms[room]; !exists {
		return false
	}
	delete(rooms, room)

	members := r.rooms[room]
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
		metrics.Rooms.Dec()
	}
	return true
}

// DisconnectAll removes connID from every room and forgets the client.
// It returns the rooms the connection was in.
func (r *Registry) DisconnectAll(connID string) []string {
	rooms, _ := r.Remove(connID)
	return rooms
}

// Remove is DisconnectAll that also reports whether connID was registered.
func (r *Registry) Remove(connID string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, known := r.joined[connID]
	rooms := make([]string, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		r.leaveLocked(connID, room)
	}
	delete(r.joined, connID)
	delete(r.clients, connID)

	sort.Strings(rooms)
	return rooms, known
}

// IsMember reports whether connID is in room.
func (r *Registry) IsMember(connID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[room][connID]
	return ok
}

// Members returns the sorted connection IDs in room.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// UserInRoom reports whether any connection of userID is in room.
func (r *Registry) UserInRoom(userID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id := range r.rooms[room] {
		if c, ok := r.clients[id]; ok && c.UserID == userID {
			return true
		}
	}
	return false
}

// Rooms returns the sorted rooms connID is in.
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.joined[connID]))
	for room := range r.joined[connID] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// RoomCount returns how many rooms have members.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Route delivers ev to the members of room. The sender is included only if
// the policy echoes ev.Kind. Members whose transport is gone or backed up
// are skipped. It returns the number of successful deliveries.
func (r *Registry) Route(room, senderID string, ev *Event) int {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.rooms[room]))
	includeSender := r.policy.IncludeSender(ev.Kind)
	for id := range r.rooms[room] {
		if id == senderID && !includeSender {
			continue
		}
		if c, ok := r.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Deliver(ev) {
			delivered++
			metrics.Deliveries.WithLabelValues(ev.Kind.String(), "delivered").Inc()
			continue
		}
		metrics.Deliveries.WithLabelValues(ev.Kind.String(), "dropped").Inc()
	}
	return delivered
}
