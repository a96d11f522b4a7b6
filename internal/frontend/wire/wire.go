// Package wire defines the JSON text protocol shared by the line and
// WebSocket front ends: one request object in, one or more reply objects out.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cory-johannsen/roomchat/internal/chat"
)

// Fixed reply texts.
const (
	MsgNoRooms      = "No rooms"
	MsgRoomNotFound = "Room does not exist!"
	MsgJoinFirst    = "Join a room first!"
	msgRoomCreated  = "Room %s created!"
	msgYouJoined    = "You joined %s"
)

// Request is one client command as it appears on the wire.
type Request struct {
	Arg      string `json:"arg"`
	Room     string `json:"room,omitempty"`
	Username string `json:"username,omitempty"`
	Msg      string `json:"msg,omitempty"`
}

// MessageReply carries a status line or a pushed room message.
type MessageReply struct {
	Message string `json:"message"`
}

// RoomsReply carries a room list.
type RoomsReply struct {
	Rooms []string `json:"rooms"`
}

// HistoryReply carries a join's history snapshot.
type HistoryReply struct {
	History []string `json:"history"`
}

// ErrorReply reports a request that could not be processed.
type ErrorReply struct {
	Error string `json:"error"`
}

// Decode parses one request line into a command.
//
// Postcondition: Returns the command, or an error wrapping
// chat.ErrInvalidCommand if data is not a JSON request object.
func Decode(data []byte) (chat.Command, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return chat.Command{}, fmt.Errorf("%w: malformed request: %v", chat.ErrInvalidCommand, err)
	}
	return req.Command(), nil
}

// Command converts r to a chat command.
func (r Request) Command() chat.Command {
	return chat.Command{
		Kind:     chat.ParseKind(r.Arg),
		Room:     strings.TrimSpace(r.Room),
		Username: strings.TrimSpace(r.Username),
		Text:     r.Msg,
	}
}

// Replies maps a command outcome to the objects sent back to the client,
// in order. A successful send has no reply.
func Replies(res chat.Result, err error) []any {
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrRoomNotFound):
			return []any{MessageReply{Message: MsgRoomNotFound}}
		case errors.Is(err, chat.ErrNotInRoom):
			return []any{MessageReply{Message: MsgJoinFirst}}
		default:
			return []any{ErrorReply{Error: err.Error()}}
		}
	}

	switch res.Kind {
	case chat.KindCreateRoom:
		return []any{MessageReply{Message: fmt.Sprintf(msgRoomCreated, res.Room)}}
	case chat.KindListRooms:
		if len(res.Rooms) == 0 {
			return []any{MessageReply{Message: MsgNoRooms}}
		}
		return []any{RoomsReply{Rooms: res.Rooms}}
	case chat.KindJoinRoom:
		history := res.History
		if history == nil {
			history = []string{}
		}
		return []any{
			MessageReply{Message: fmt.Sprintf(msgYouJoined, res.Room)},
			HistoryReply{History: history},
		}
	default:
		return nil
	}
}

// Encode renders v as a single JSON line without the trailing newline.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding %T: %w", v, err)
	}
	return string(data), nil
}

// EncodeReplies encodes every reply for a command outcome.
func EncodeReplies(res chat.Result, err error) ([]string, error) {
	replies := Replies(res, err)
	lines := make([]string, 0, len(replies))
	for _, r := range replies {
		line, encErr := Encode(r)
		if encErr != nil {
			return nil, encErr
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// EncodePush encodes a pushed room message.
func EncodePush(text string) string {
	line, _ := Encode(MessageReply{Message: text})
	return line
}

// EncodeError encodes an error reply.
func EncodeError(err error) string {
	line, _ := Encode(ErrorReply{Error: err.Error()})
	return line
}
