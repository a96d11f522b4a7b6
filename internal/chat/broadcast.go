package chat

import (
	"fmt"

	"go.uber.org/zap"
)

// FormatMessage renders a chat line as it is stored and delivered.
func FormatMessage(username, text string) string {
	return username + ": " + text
}

// JoinedNotice is broadcast to a room when a session joins it.
func JoinedNotice(username string) string {
	return username + " has joined"
}

// LeftNotice is broadcast to a room when a session leaves it for another join.
func LeftNotice(username string) string {
	return username + " has left"
}

func roomNotFound(name string) error {
	return fmt.Errorf("room %q: %w", name, ErrRoomNotFound)
}

// Engine appends chat messages to room history and fans them out to members.
type Engine struct {
	registry *Registry
}

// NewEngine creates an Engine over registry.
//
// Precondition: registry must be non-nil.
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// SendMessage formats text as "<username>: <text>", appends it to the
// session's room history, and delivers it to every member including the
// sender.
//
// Postcondition: On success history and fan-out happened in one critical
// section. Returns an error wrapping ErrNotInRoom when the session has no
// room; nothing is appended or delivered in that case.
func (e *Engine) SendMessage(s *Session, text string) error {
	reg := e.registry
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if s.room == "" {
		return fmt.Errorf("sending as %q: %w", s.username, ErrNotInRoom)
	}
	rm, ok := reg.rooms[s.room]
	if !ok {
		return roomNotFound(s.room)
	}

	line := FormatMessage(s.username, text)
	rm.history = append(rm.history, line)
	reg.fanoutLocked(rm, line)
	return nil
}

// BroadcastControl delivers text to every member of the named room without
// recording it in history.
//
// Postcondition: Returns an error wrapping ErrRoomNotFound if the room does not exist.
func (e *Engine) BroadcastControl(roomName, text string) error {
	reg := e.registry
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rm, ok := reg.rooms[roomName]
	if !ok {
		return roomNotFound(roomName)
	}
	reg.fanoutLocked(rm, text)
	return nil
}

// fanoutLocked delivers text to every member of rm. A member whose channel
// fails is removed from the room and left without a current room.
//
// Precondition: r.mu must be held.
func (r *Registry) fanoutLocked(rm *room, text string) int {
	delivered := 0
	for id, member := range rm.members {
		if err := member.channel.Deliver(text); err != nil {
			delete(rm.members, id)
			member.room = ""
			r.logger.Warn("delivery failed, member pruned",
				zap.String("room", rm.name),
				zap.String("session_id", id),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}
