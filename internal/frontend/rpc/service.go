package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/roomchat/internal/chat"
)

// Request and event field names.
const (
	FieldSessionID = "session_id"
	FieldUsername  = "username"
	FieldRoom      = "room"
	FieldMsg       = "msg"
	FieldMessage   = "message"
	FieldRooms     = "rooms"
	FieldHistory   = "history"
	FieldCreated   = "created"
)

// ChatService implements ChatServiceServer over a chat.Service. Each Connect
// stream is one session; its pushes are the stream's events.
type ChatService struct {
	svc        *chat.Service
	outboxSize int
	logger     *zap.Logger
	quit       chan struct{}
}

// NewChatService creates a ChatService.
//
// Precondition: svc and logger must be non-nil.
// Postcondition: outboxSize < 1 is replaced by chat.DefaultOutboxSize.
func NewChatService(svc *chat.Service, outboxSize int, logger *zap.Logger) *ChatService {
	if outboxSize < 1 {
		outboxSize = chat.DefaultOutboxSize
	}
	return &ChatService{
		svc:        svc,
		outboxSize: outboxSize,
		logger:     logger,
		quit:       make(chan struct{}),
	}
}

// Connect opens a session and streams its pushed messages until the client
// goes away, the session's outbox overflows, or the service shuts down.
//
// Postcondition: The session is closed when Connect returns.
func (c *ChatService) Connect(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	outbox := chat.NewOutbox(c.outboxSize)
	session := c.svc.Sessions.Open(stringField(req, FieldUsername), outbox)
	logger := c.logger.With(zap.String("session_id", session.ID()))
	logger.Info("rpc session connected")

	defer func() {
		left := c.svc.Sessions.Close(session)
		_ = outbox.Close()
		logger.Info("rpc session closed", zap.String("left_room", left))
	}()

	hello, err := structpb.NewStruct(map[string]any{FieldSessionID: session.ID()})
	if err != nil {
		return status.Errorf(codes.Internal, "building session event: %v", err)
	}
	if err := stream.Send(hello); err != nil {
		return err
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.quit:
			return status.Error(codes.Unavailable, "server shutting down")
		case text, ok := <-outbox.Messages():
			if !ok {
				return status.Error(codes.Unavailable, "session fell too far behind")
			}
			event, err := structpb.NewStruct(map[string]any{FieldMessage: text})
			if err != nil {
				return status.Errorf(codes.Internal, "building message event: %v", err)
			}
			if err := stream.Send(event); err != nil {
				logger.Debug("stream send failed", zap.Error(err))
				return err
			}
		}
	}
}

// CreateRoom registers a room.
func (c *ChatService) CreateRoom(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cmd := chat.Command{Kind: chat.KindCreateRoom, Room: stringField(req, FieldRoom)}
	if err := cmd.Validate(); err != nil {
		return nil, toStatus(err)
	}
	created := c.svc.Rooms.CreateRoom(cmd.Room)
	if created {
		c.logger.Info("room created", zap.String("room", cmd.Room))
	}
	return structpb.NewStruct(map[string]any{
		FieldCreated: created,
		FieldMessage: fmt.Sprintf("Room %s created!", cmd.Room),
	})
}

// ListRooms returns the sorted room names.
func (c *ChatService) ListRooms(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		FieldRooms: lo.ToAnySlice(c.svc.Rooms.ListRooms()),
	})
}

// JoinRoom moves a connected session into a room and returns its history.
func (c *ChatService) JoinRoom(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, err := c.session(req)
	if err != nil {
		return nil, err
	}
	username := stringField(req, FieldUsername)
	if username == "" {
		username = c.svc.Sessions.Info(session).Username
	}
	res, err := c.svc.Execute(session, chat.Command{
		Kind:     chat.KindJoinRoom,
		Room:     stringField(req, FieldRoom),
		Username: username,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		FieldHistory: lo.ToAnySlice(res.History),
	})
}

// SendMessage broadcasts msg to the session's room.
func (c *ChatService) SendMessage(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, err := c.session(req)
	if err != nil {
		return nil, err
	}
	_, err = c.svc.Execute(session, chat.Command{
		Kind:     chat.KindSendMessage,
		Username: stringField(req, FieldUsername),
		Text:     req.GetFields()[FieldMsg].GetStringValue(),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

// Shutdown ends every open Connect stream.
func (c *ChatService) Shutdown() {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}

func (c *ChatService) session(req *structpb.Struct) (*chat.Session, error) {
	id := stringField(req, FieldSessionID)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	s, ok := c.svc.Sessions.Get(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "session %q not found", id)
	}
	return s, nil
}

func stringField(req *structpb.Struct, name string) string {
	return strings.TrimSpace(req.GetFields()[name].GetStringValue())
}

// toStatus maps chat errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, chat.ErrRoomNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, chat.ErrNotInRoom), errors.Is(err, chat.ErrSessionClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, chat.ErrInvalidCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, chat.ErrDeliveryFailed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
