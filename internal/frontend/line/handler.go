package line

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/roomchat/internal/chat"
	"github.com/cory-johannsen/roomchat/internal/config"
	"github.com/cory-johannsen/roomchat/internal/frontend/wire"
)

// Handler runs the command loop for one line-protocol connection. It
// implements dispatch.SessionHandler.
type Handler struct {
	svc    *chat.Service
	cfg    config.LineConfig
	logger *zap.Logger
}

// NewHandler creates a Handler backed by svc.
//
// Precondition: svc and logger must be non-nil.
func NewHandler(svc *chat.Service, cfg config.LineConfig, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
	}
}

// HandleSession opens a chat session for raw and processes its commands in
// arrival order until the client disconnects, the session becomes
// unreachable, or ctx is cancelled. Replies and pushed messages share one
// outbox, so the client sees them in the order they were produced.
//
// Postcondition: The session is closed and removed from its room, silently,
// before HandleSession returns.
func (h *Handler) HandleSession(ctx context.Context, raw net.Conn) error {
	start := time.Now()
	conn := NewConn(raw, h.cfg.ReadTimeout, h.cfg.WriteTimeout)
	outbox := chat.NewOutbox(h.cfg.OutboxSize)
	session := h.svc.Sessions.Open("", chat.PushFunc(func(text string) error {
		return outbox.Deliver(wire.EncodePush(text))
	}))
	logger := h.logger.With(
		zap.String("session_id", session.ID()),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	writerDone := make(chan struct{})
	go h.writeLoop(conn, outbox, logger, writerDone)

	defer func() {
		left := h.svc.Sessions.Close(session)
		_ = outbox.Close()
		<-writerDone
		logger.Info("session closed",
			zap.String("left_room", left),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	for {
		text, err := conn.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			if outbox.IsClosed() {
				return fmt.Errorf("session %s unreachable: %w", session.ID(), chat.ErrDeliveryFailed)
			}
			return fmt.Errorf("reading command: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if err := h.handleLine(session, outbox, text, logger); err != nil {
			return err
		}
	}
}

func (h *Handler) handleLine(session *chat.Session, outbox *chat.Outbox, text string, logger *zap.Logger) error {
	cmd, err := wire.Decode([]byte(text))
	if err != nil {
		logger.Debug("rejecting request", zap.Error(err))
		return outbox.Deliver(wire.EncodeError(err))
	}

	res, execErr := h.svc.Execute(session, cmd)
	logger.Debug("command executed",
		zap.String("kind", string(cmd.Kind)),
		zap.String("room", cmd.Room),
		zap.Error(execErr),
	)

	replies, err := wire.EncodeReplies(res, execErr)
	if err != nil {
		return err
	}
	for _, reply := range replies {
		if err := outbox.Deliver(reply); err != nil {
			return err
		}
	}
	return nil
}

// writeLoop drains outbox to the client. Once the outbox closes, whether on
// overflow or session end, it closes the connection so a blocked reader
// returns.
func (h *Handler) writeLoop(conn *Conn, outbox *chat.Outbox, logger *zap.Logger, done chan<- struct{}) {
	defer close(done)
	failed := false
	for msg := range outbox.Messages() {
		if failed {
			continue
		}
		if err := conn.WriteLine(msg); err != nil {
			logger.Debug("write failed", zap.Error(err))
			failed = true
			_ = outbox.Close()
		}
	}
	_ = conn.Close()
}
