// Package chat holds the in-memory room registry, the session table, and the
// broadcast engine shared by every transport front end.
//
// All room topology, membership, and history changes happen under one
// Registry mutex, which gives a single total order over create, join, leave,
// send, and close.
package chat

import (
	"slices"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// room is owned by a Registry and only touched with Registry.mu held.
type room struct {
	name    string
	history []string
	members map[string]*Session // session ID → session
}

func newRoom(name string) *room {
	return &room{
		name:    name,
		members: make(map[string]*Session),
	}
}

// historySnapshot returns a copy of the history that is never nil.
func (r *room) historySnapshot() []string {
	out := make([]string, len(r.history))
	copy(out, r.history)
	return out
}

// RoomInfo is a point-in-time copy of a room's state.
type RoomInfo struct {
	Name    string
	History []string
	Members []string // member session IDs, sorted
}

// Registry maps room names to rooms. All methods are safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*room
	logger *zap.Logger
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger must be non-nil.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*room),
		logger: logger,
	}
}

// CreateRoom registers an empty room named name. Creating an existing room
// is a no-op.
//
// Postcondition: Exactly one room named name exists. Returns true if this
// call created it.
func (r *Registry) CreateRoom(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[name]; exists {
		return false
	}
	r.rooms[name] = newRoom(name)
	r.logger.Debug("room created", zap.String("room", name))
	return true
}

// ListRooms returns a sorted copy of the registered room names.
func (r *Registry) ListRooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := lo.Keys(r.rooms)
	slices.Sort(names)
	return names
}

// Room returns a snapshot of the named room.
//
// Postcondition: Returns the snapshot, or an error wrapping ErrRoomNotFound.
func (r *Registry) Room(name string) (RoomInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[name]
	if !ok {
		return RoomInfo{}, roomNotFound(name)
	}
	members := lo.Keys(rm.members)
	slices.Sort(members)
	return RoomInfo{
		Name:    rm.name,
		History: rm.historySnapshot(),
		Members: members,
	}, nil
}

// RoomCount returns the number of registered rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
