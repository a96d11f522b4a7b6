package chat

import "errors"

var (
	// ErrRoomNotFound is returned when a join or control broadcast targets an
	// unregistered room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotInRoom is returned when a session sends without a current room.
	ErrNotInRoom = errors.New("not in a room")
	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrDeliveryFailed is returned by a PushChannel that cannot accept a message.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrInvalidCommand wraps command validation failures.
	ErrInvalidCommand = errors.New("invalid command")
)
