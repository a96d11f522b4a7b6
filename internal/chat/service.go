package chat

import (
	"go.uber.org/zap"
)

// Service bundles the registry, session table, and broadcast engine behind
// the command set every front end speaks.
type Service struct {
	Rooms     *Registry
	Sessions  *SessionTable
	Broadcast *Engine
	logger    *zap.Logger
}

// NewService creates a Service with an empty registry.
//
// Precondition: logger must be non-nil.
func NewService(logger *zap.Logger) *Service {
	reg := NewRegistry(logger)
	return &Service{
		Rooms:     reg,
		Sessions:  NewSessionTable(reg),
		Broadcast: NewEngine(reg),
		logger:    logger,
	}
}

// Execute validates cmd and applies it on behalf of s. A non-empty username
// on any command rebinds the session's username, last one wins.
//
// Postcondition: Returns the command's result, or an error wrapping
// ErrInvalidCommand, ErrRoomNotFound, ErrNotInRoom, or ErrSessionClosed.
func (svc *Service) Execute(s *Session, cmd Command) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}
	if cmd.Username != "" {
		svc.Sessions.Bind(s, cmd.Username)
	}

	res := Result{Kind: cmd.Kind, Room: cmd.Room}
	switch cmd.Kind {
	case KindCreateRoom:
		res.Created = svc.Rooms.CreateRoom(cmd.Room)
		if res.Created {
			svc.logger.Info("room created",
				zap.String("room", cmd.Room),
				zap.String("session_id", s.ID()),
			)
		}
	case KindListRooms:
		res.Rooms = svc.Rooms.ListRooms()
	case KindJoinRoom:
		history, err := svc.Sessions.Join(s, cmd.Room)
		if err != nil {
			return Result{}, err
		}
		res.History = history
	case KindSendMessage:
		if err := svc.Broadcast.SendMessage(s, cmd.Text); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// Stats is a point-in-time count of registry state.
type Stats struct {
	Rooms    int
	Sessions int
}

// Stats returns current room and session counts.
func (svc *Service) Stats() Stats {
	return Stats{
		Rooms:    svc.Rooms.RoomCount(),
		Sessions: svc.Sessions.Count(),
	}
}
