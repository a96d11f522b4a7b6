package chat

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is one connected participant. Its ID and channel are fixed at
// Open; username, room, and closed are guarded by the Registry mutex.
type Session struct {
	id      string
	channel PushChannel

	username string
	room     string
	closed   bool
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string {
	return s.id
}

// SessionInfo is a point-in-time copy of a session's mutable state.
type SessionInfo struct {
	ID       string
	Username string
	Room     string
	Closed   bool
}

// SessionTable tracks open sessions and moves them between rooms.
// It shares the Registry's lock so membership and current-room updates are
// always consistent.
type SessionTable struct {
	registry *Registry
	sessions map[string]*Session
}

// NewSessionTable creates an empty SessionTable over registry.
//
// Precondition: registry must be non-nil.
func NewSessionTable(registry *Registry) *SessionTable {
	return &SessionTable{
		registry: registry,
		sessions: make(map[string]*Session),
	}
}

// Open registers a new unjoined session delivering through channel.
//
// Precondition: channel must be non-nil.
// Postcondition: Returns a session with a fresh unique ID.
func (t *SessionTable) Open(username string, channel PushChannel) *Session {
	s := &Session{
		id:       uuid.NewString(),
		channel:  channel,
		username: username,
	}

	t.registry.mu.Lock()
	t.sessions[s.id] = s
	t.registry.mu.Unlock()

	t.registry.logger.Debug("session opened", zap.String("session_id", s.id))
	return s
}

// Get returns the open session with the given ID.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (t *SessionTable) Get(id string) (*Session, bool) {
	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Bind sets the username used by the session's later joins and messages.
// Usernames are not required to be unique.
func (t *SessionTable) Bind(s *Session, username string) {
	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()
	s.username = username
}

// Info returns a snapshot of the session's state.
func (t *SessionTable) Info(s *Session) SessionInfo {
	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()
	return SessionInfo{
		ID:       s.id,
		Username: s.username,
		Room:     s.room,
		Closed:   s.closed,
	}
}

// Count returns the number of open sessions.
func (t *SessionTable) Count() int {
	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()
	return len(t.sessions)
}

// Join moves s into the named room. A session already in a room, the same
// room included, leaves it first and the old room is told "<username> has
// left". The new room, joiner included, is then told "<username> has joined".
//
// Postcondition: Returns the room history as of the moment s became a
// member, or an error wrapping ErrRoomNotFound or ErrSessionClosed with no
// state changed. If s cannot receive its own joined notice it is pruned
// from the new room and the error wraps ErrDeliveryFailed; s has still left
// its old room.
func (t *SessionTable) Join(s *Session, roomName string) ([]string, error) {
	reg := t.registry
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("joining %q: %w", roomName, ErrSessionClosed)
	}
	target, ok := reg.rooms[roomName]
	if !ok {
		return nil, roomNotFound(roomName)
	}

	if s.room != "" {
		if old, ok := reg.rooms[s.room]; ok {
			delete(old.members, s.id)
			reg.fanoutLocked(old, LeftNotice(s.username))
		}
		s.room = ""
	}

	target.members[s.id] = s
	s.room = roomName
	history := target.historySnapshot()

	reg.fanoutLocked(target, JoinedNotice(s.username))
	if s.room != roomName {
		return nil, fmt.Errorf("joining %q: %w", roomName, ErrDeliveryFailed)
	}

	reg.logger.Debug("session joined room",
		zap.String("session_id", s.id),
		zap.String("username", s.username),
		zap.String("room", roomName),
		zap.Int("history", len(history)),
	)
	return history, nil
}

// Close removes s from its room, without notifying the room, and from the
// table. Closing an already closed session is a no-op.
//
// Postcondition: s is closed and belongs to no room. Returns the room it
// left, or "" if it had none.
func (t *SessionTable) Close(s *Session) string {
	reg := t.registry
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if s.closed {
		return ""
	}
	left := s.room
	if left != "" {
		if rm, ok := reg.rooms[left]; ok {
			delete(rm.members, s.id)
		}
	}
	s.room = ""
	s.closed = true
	delete(t.sessions, s.id)

	reg.logger.Debug("session closed",
		zap.String("session_id", s.id),
		zap.String("left_room", left),
	)
	return left
}
