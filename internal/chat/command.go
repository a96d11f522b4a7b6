package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind names a client command.
type Kind string

// Command kinds, spelled as they appear on the wire.
const (
	KindCreateRoom  Kind = "CREATEROOM"
	KindListRooms   Kind = "LISTROOMS"
	KindJoinRoom    Kind = "JOINROOM"
	KindSendMessage Kind = "SENDMSG"
)

// ParseKind maps a wire verb to a Kind, ignoring case and surrounding space.
// Unknown verbs are returned upper-cased and fail Validate.
func ParseKind(verb string) Kind {
	return Kind(strings.ToUpper(strings.TrimSpace(verb)))
}

// Command is one decoded client request. Names and text have no length
// limit, and an empty Text is a valid message.
type Command struct {
	Kind     Kind   `validate:"required,oneof=CREATEROOM LISTROOMS JOINROOM SENDMSG"`
	Room     string `validate:"required_if=Kind CREATEROOM,required_if=Kind JOINROOM"`
	Username string `validate:"required_if=Kind JOINROOM"`
	Text     string
}

var validate = validator.New()

// Validate checks the fields the command's kind requires.
//
// Postcondition: Returns nil or an error wrapping ErrInvalidCommand that names
// each failing field.
func (c Command) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	reasons := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		reasons = append(reasons, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidCommand, strings.Join(reasons, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("unknown command %q", fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// Result is the synchronous outcome of a command.
type Result struct {
	Kind Kind
	Room string
	// Created reports whether CreateRoom made a new room.
	Created bool
	// Rooms is set for ListRooms.
	Rooms []string
	// History is set for JoinRoom.
	History []string
}
