package chat

import (
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// recorder is a PushChannel that keeps everything delivered to it and can be
// switched into a failing state.
type recorder struct {
	mu       sync.Mutex
	messages []string
	fail     bool
}

var errRecorderDown = errors.New("recorder down")

func (r *recorder) Deliver(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errRecorderDown
	}
	r.messages = append(r.messages, text)
	return nil
}

func (r *recorder) setFailing() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = true
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(zaptest.NewLogger(t))
}

// newRapidLogger is used inside rapid.Check bodies, which run many iterations
// against one *testing.T.
func newRapidLogger() *zap.Logger {
	return zap.NewNop()
}
