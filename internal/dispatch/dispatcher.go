package dispatch

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatcher listens for TCP connections, queues each one, and lets its
// worker pool serve them.
type Dispatcher struct {
	addr    string
	handler SessionHandler
	logger  *zap.Logger

	queue *Queue[net.Conn]
	pool  *Pool

	listen   func(network, addr string) (net.Listener, error)
	listener net.Listener
	cancel   context.CancelFunc
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	stopped  bool
}

// New creates a Dispatcher for addr with the given number of workers.
//
// Precondition: addr must be a "host:port" string; handler and logger must be non-nil.
// Postcondition: Returns a Dispatcher ready to be started with ListenAndServe.
func New(addr string, workers int, handler SessionHandler, logger *zap.Logger) *Dispatcher {
	queue := NewQueue[net.Conn]()
	return &Dispatcher{
		addr:    addr,
		handler: handler,
		logger:  logger,
		queue:   queue,
		pool:    NewPool(workers, queue, handler, logger),
		listen:  net.Listen,
		quit:    make(chan struct{}),
	}
}

// ListenAndServe starts the workers and the TCP listener, then queues
// accepted connections until Stop is called. It blocks until then.
//
// Precondition: The dispatcher must not already be running.
// Postcondition: The listener is closed when this method returns.
func (d *Dispatcher) ListenAndServe() error {
	start := time.Now()

	listener, err := d.listen("tcp", d.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", d.addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		cancel()
		_ = listener.Close()
		return nil
	}
	d.listener = listener
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	d.pool.Start(ctx)

	d.logger.Info("dispatcher listening",
		zap.String("addr", listener.Addr().String()),
		zap.Int("workers", d.pool.workers),
		zap.Duration("startup", time.Since(start)),
	)

	var backoff acceptBackoff
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-d.quit:
				return nil
			default:
			}
			delay := backoff.next()
			d.logger.Error("accepting connection",
				zap.Error(err),
				zap.Duration("retry_in", delay),
			)
			select {
			case <-d.quit:
				return nil
			case <-time.After(delay):
			}
			continue
		}
		backoff.reset()

		if err := d.queue.Push(conn); err != nil {
			_ = conn.Close()
			continue
		}
		d.logger.Debug("connection queued",
			zap.String("remote_addr", conn.RemoteAddr().String()),
			zap.Int("pending", d.queue.Len()),
		)
	}
}

// Stop closes the listener, cancels running sessions, drops connections
// still waiting in the queue, and waits for every worker to exit.
//
// Postcondition: All connections are closed and worker goroutines have exited.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if !d.running {
		return
	}
	d.running = false

	close(d.quit)
	if d.listener != nil {
		_ = d.listener.Close()
	}
	d.cancel()
	for _, conn := range d.queue.Close() {
		_ = conn.Close()
	}
	d.pool.Wait()

	d.logger.Info("dispatcher stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (d *Dispatcher) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != nil {
		return d.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the dispatcher is currently accepting connections.
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Stats reports the worker pool's current load.
func (d *Dispatcher) Stats() Stats {
	return d.pool.Stats()
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// acceptBackoff spaces out retries after consecutive Accept failures, such
// as running out of file descriptors.
type acceptBackoff struct {
	delay time.Duration
}

// next returns the wait before the next Accept, doubling from minAcceptDelay
// up to maxAcceptDelay.
func (b *acceptBackoff) next() time.Duration {
	if b.delay == 0 {
		b.delay = minAcceptDelay
	} else {
		b.delay = min(b.delay*2, maxAcceptDelay)
	}
	return b.delay
}

func (b *acceptBackoff) reset() {
	b.delay = 0
}
