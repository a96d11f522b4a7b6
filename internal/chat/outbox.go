package chat

import (
	"fmt"
	"sync"
)

// DefaultOutboxSize is used when NewOutbox is given a non-positive size.
const DefaultOutboxSize = 64

// Outbox is a bounded PushChannel drained by a transport writer goroutine.
// A full outbox closes itself: a reader that far behind is treated as gone.
type Outbox struct {
	events chan string
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox buffering up to size messages.
//
// Postcondition: Returns an Outbox with an open Messages channel.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{events: make(chan string, size)}
}

// Deliver enqueues text without blocking.
//
// Postcondition: text is buffered, or an error wrapping ErrDeliveryFailed is
// returned and the outbox is closed.
func (o *Outbox) Deliver(text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("outbox closed: %w", ErrDeliveryFailed)
	}
	select {
	case o.events <- text:
		return nil
	default:
		o.closeLocked()
		return fmt.Errorf("outbox full (%d pending): %w", cap(o.events), ErrDeliveryFailed)
	}
}

// Messages returns the channel the transport writer drains. It is closed by
// Close or by an overflowing Deliver.
func (o *Outbox) Messages() <-chan string {
	return o.events
}

// Close closes the outbox. It is safe to call more than once.
//
// Postcondition: Messages is closed after any buffered messages; further
// Deliver calls fail.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked()
	return nil
}

func (o *Outbox) closeLocked() {
	if !o.closed {
		o.closed = true
		close(o.events)
	}
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Pending returns the number of buffered messages.
func (o *Outbox) Pending() int {
	return len(o.events)
}
