//go:generate go run go.uber.org/mock/mockgen -source=push.go -destination=../mocks/mock_push.go -package=mocks

package chat

// PushChannel delivers unsolicited text to one remote session.
//
// Deliver is called with the registry lock held, so implementations must not
// block and must not call back into the registry. A non-nil error removes the
// session from its room.
type PushChannel interface {
	Deliver(text string) error
}

// PushFunc adapts a plain function into a PushChannel.
type PushFunc func(text string) error

// Deliver calls f(text).
func (f PushFunc) Deliver(text string) error { return f(text) }
