package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 10

// SessionHandler serves one accepted connection until its input ends, a
// fatal error occurs, or ctx is cancelled. The pool closes conn afterwards.
type SessionHandler interface {
	HandleSession(ctx context.Context, conn net.Conn) error
}

// HandlerFunc adapts a function to SessionHandler.
type HandlerFunc func(ctx context.Context, conn net.Conn) error

// HandleSession calls f.
func (f HandlerFunc) HandleSession(ctx context.Context, conn net.Conn) error {
	return f(ctx, conn)
}

// Stats is a point-in-time view of pool load.
type Stats struct {
	Workers int
	Busy    int
	Pending int
	Handled int64
}

// Pool runs a fixed number of workers that pop connections from a Queue and
// serve each one synchronously.
type Pool struct {
	workers int
	queue   *Queue[net.Conn]
	handler SessionHandler
	logger  *zap.Logger

	busy    atomic.Int32
	handled atomic.Int64
	wg      sync.WaitGroup
}

// NewPool creates a Pool that will run workers goroutines over queue.
//
// Precondition: queue, handler, and logger must be non-nil.
// Postcondition: workers < 1 is replaced by DefaultWorkers.
func NewPool(workers int, queue *Queue[net.Conn], handler SessionHandler, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Pool{
		workers: workers,
		queue:   queue,
		handler: handler,
		logger:  logger,
	}
}

// Start launches the workers. They exit when ctx is cancelled or the queue
// is closed.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workers))
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stats reports the pool's current load.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers: p.workers,
		Busy:    int(p.busy.Load()),
		Pending: p.queue.Len(),
		Handled: p.handled.Load(),
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		conn, err := p.queue.Pop(ctx)
		if err != nil {
			p.logger.Debug("worker exiting", zap.Int("worker", id), zap.Error(err))
			return
		}
		p.serve(ctx, id, conn)
	}
}

// serve runs the handler for one connection. A panicking handler only ends
// its own connection.
func (p *Pool) serve(ctx context.Context, id int, conn net.Conn) {
	start := time.Now()
	addr := conn.RemoteAddr().String()
	p.busy.Add(1)
	defer func() {
		p.busy.Add(-1)
		p.handled.Add(1)
		_ = conn.Close()
	}()

	p.logger.Info("client connected",
		zap.Int("worker", id),
		zap.String("remote_addr", addr),
	)

	err := p.run(ctx, conn)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		p.logger.Info("session ended cleanly",
			zap.String("remote_addr", addr),
			zap.Duration("duration", time.Since(start)),
		)
	default:
		p.logger.Debug("session ended",
			zap.String("remote_addr", addr),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (p *Pool) run(ctx context.Context, conn net.Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("session handler panicked",
				zap.String("remote_addr", conn.RemoteAddr().String()),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("session handler panic: %v", r)
		}
	}()
	return p.handler.HandleSession(ctx, conn)
}
