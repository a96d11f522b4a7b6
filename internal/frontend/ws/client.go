package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/roomchat/internal/chat"
	"github.com/cory-johannsen/roomchat/internal/config"
	"github.com/cory-johannsen/roomchat/internal/frontend/wire"
)

// client is one upgraded connection and its chat session. Only writePump
// writes to conn.
type client struct {
	conn    *websocket.Conn
	svc     *chat.Service
	cfg     config.WebSocketConfig
	outbox  *chat.Outbox
	session *chat.Session
	logger  *zap.Logger
}

func newClient(conn *websocket.Conn, svc *chat.Service, cfg config.WebSocketConfig, logger *zap.Logger) *client {
	c := &client{
		conn:   conn,
		svc:    svc,
		cfg:    cfg,
		outbox: chat.NewOutbox(cfg.OutboxSize),
	}
	c.session = svc.Sessions.Open("", chat.PushFunc(func(text string) error {
		return c.outbox.Deliver(wire.EncodePush(text))
	}))
	c.logger = logger.With(
		zap.String("session_id", c.session.ID()),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)
	return c
}

// serve runs the read pump on the calling goroutine and the write pump on
// another until either side ends or ctx is cancelled.
func (c *client) serve(ctx context.Context) {
	start := time.Now()
	c.logger.Info("websocket session opened")

	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	writerDone := make(chan struct{})
	go c.writePump(writerDone)

	c.readPump()

	left := c.svc.Sessions.Close(c.session)
	_ = c.outbox.Close()
	<-writerDone
	c.logger.Info("websocket session closed",
		zap.String("left_room", left),
		zap.Duration("duration", time.Since(start)),
	)
}

func (c *client) pongWait() time.Duration {
	return c.cfg.PingInterval * 10 / 9
}

func (c *client) readPump() {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := c.handleFrame(data); err != nil {
			c.logger.Debug("session unreachable", zap.Error(err))
			return
		}
	}
}

func (c *client) handleFrame(data []byte) error {
	cmd, err := wire.Decode(data)
	if err != nil {
		return c.outbox.Deliver(wire.EncodeError(err))
	}
	res, execErr := c.svc.Execute(c.session, cmd)
	c.logger.Debug("command executed",
		zap.String("kind", string(cmd.Kind)),
		zap.String("room", cmd.Room),
		zap.Error(execErr),
	)
	replies, err := wire.EncodeReplies(res, execErr)
	if err != nil {
		return err
	}
	for _, reply := range replies {
		if err := c.outbox.Deliver(reply); err != nil {
			return err
		}
	}
	return nil
}

func (c *client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Info("frame exceeded maximum size", zap.Int64("limit", c.cfg.MaxMessageSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.logger.Debug("client disconnected", zap.Error(err))
	default:
		c.logger.Debug("websocket read ended", zap.Error(err))
	}
}

// writePump drains the outbox and pings the client. When the outbox closes
// it sends a close frame and closes the connection so readPump returns.
func (c *client) writePump(done chan<- struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-c.outbox.Messages():
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				_ = c.outbox.Close()
				c.drain()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.outbox.Close()
				c.drain()
				return
			}
		}
	}
}

func (c *client) drain() {
	for range c.outbox.Messages() {
	}
}
