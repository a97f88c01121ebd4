// Package room implements named broadcast scopes ("rooms") for the realtime
// gateway. A room has no lifecycle of its own: it exists exactly as long as
// at least one connection is joined to it. Naming is a convention —
// personal:<subjectId> for direct delivery, conversation:<chatId> for chat
// fan-out.
package room

import "sync"

// Personal returns the room name used for direct delivery to a subject.
func Personal(subjectID string) string {
	return "personal:" + subjectID
}

// Conversation returns the room name used for a conversation's fan-out.
func Conversation(chatID string) string {
	return "conversation:" + chatID
}

// Client is the connection handle the router delivers to. The ws transport's
// Connection implements it; tests substitute fakes.
type Client interface {
	ConnID() string
	Send(data []byte) error
}

// Broadcaster is the fan-out half of the router. The gateway depends on this
// interface rather than on the Router directly, so a distributed transport
// (e.g. a NATS relay) can be substituted without touching gateway logic.
type Broadcaster interface {
	// Broadcast delivers data to every client joined to roomName, except the
	// connection identified by excludeConnID (empty string excludes nobody).
	Broadcast(roomName string, data []byte, excludeConnID string)

	// BroadcastAll delivers data to every attached client.
	BroadcastAll(data []byte, excludeConnID string)
}

// Router is a thread-safe registry of room memberships for all attached
// connections. Mutation happens only through Attach/Join/Leave/Detach, all
// driven by the gateway.
type Router struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]Client   // room name -> connID -> client
	joined  map[string]map[string]struct{} // connID -> set of room names
	clients map[string]Client              // connID -> client (all attached)
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{
		rooms:   make(map[string]map[string]Client),
		joined:  make(map[string]map[string]struct{}),
		clients: make(map[string]Client),
	}
}

// Attach registers a client with the router. A client must be attached
// before it can join rooms or receive BroadcastAll deliveries.
func (r *Router) Attach(c Client) {
	r.mu.Lock()
	r.clients[c.ConnID()] = c
	r.mu.Unlock()
}

// Join adds the client to the named room. Joining is idempotent: joining the
// same room twice results in exactly one membership.
func (r *Router) Join(c Client, roomName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomName]
	if !ok {
		members = make(map[string]Client)
		r.rooms[roomName] = members
	}
	members[c.ConnID()] = c

	set, ok := r.joined[c.ConnID()]
	if !ok {
		set = make(map[string]struct{})
		r.joined[c.ConnID()] = set
	}
	set[roomName] = struct{}{}
}

// Leave removes the connection from the named room. Leaving a room the
// connection never joined is a no-op.
func (r *Router) Leave(connID string, roomName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.rooms[roomName]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomName)
		}
	}
	if set, ok := r.joined[connID]; ok {
		delete(set, roomName)
	}
}

// Detach removes the connection from every room and from the attached set.
// Called once on disconnect.
func (r *Router) Detach(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomName := range r.joined[connID] {
		if members, ok := r.rooms[roomName]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(r.rooms, roomName)
			}
		}
	}
	delete(r.joined, connID)
	delete(r.clients, connID)
}

// InRoom reports whether the connection is currently joined to the room.
func (r *Router) InRoom(connID string, roomName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[roomName][connID]
	return ok
}

// Members returns the connection ids currently joined to the room.
func (r *Router) Members(roomName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms[roomName]))
	for connID := range r.rooms[roomName] {
		out = append(out, connID)
	}
	return out
}

// Broadcast delivers data to every member of the room. Send errors on
// individual connections are ignored — failed connections are cleaned up by
// the transport's read path.
func (r *Router) Broadcast(roomName string, data []byte, excludeConnID string) {
	r.mu.RLock()
	targets := make([]Client, 0, len(r.rooms[roomName]))
	for connID, c := range r.rooms[roomName] {
		if connID == excludeConnID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		_ = c.Send(data)
	}
}

// BroadcastAll delivers data to every attached client. Used for cross-cutting
// events such as presence announcements; O(connections) per call.
func (r *Router) BroadcastAll(data []byte, excludeConnID string) {
	r.mu.RLock()
	targets := make([]Client, 0, len(r.clients))
	for connID, c := range r.clients {
		if connID == excludeConnID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		_ = c.Send(data)
	}
}
