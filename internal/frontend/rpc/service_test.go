package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/roomchat/internal/chat"
	"github.com/cory-johannsen/roomchat/internal/config"
)

// testGRPCServer starts an in-process gRPC server and returns a connected client.
func testGRPCServer(t *testing.T) (ChatServiceClient, *grpc.ClientConn, *chat.Service, *Server) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	svc := chat.NewService(logger)
	srv := NewServer(config.RPCConfig{OutboxSize: 16}, svc, logger)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()
	t.Cleanup(func() {
		srv.Stop()
		assert.NoError(t, <-errCh)
	})

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewChatServiceClient(conn), conn, svc, srv
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func listField(s *structpb.Struct, name string) []string {
	var out []string
	for _, v := range s.GetFields()[name].GetListValue().GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}

// connect opens a stream and returns it with the session id from its first event.
func connect(t *testing.T, ctx context.Context, client ChatServiceClient, username string) (grpc.ServerStreamingClient[structpb.Struct], string) {
	t.Helper()
	stream, err := client.Connect(ctx, mustStruct(t, map[string]any{FieldUsername: username}))
	require.NoError(t, err)
	hello, err := stream.Recv()
	require.NoError(t, err)
	id := hello.GetFields()[FieldSessionID].GetStringValue()
	require.NotEmpty(t, id)
	return stream, id
}

func nextMessage(t *testing.T, stream grpc.ServerStreamingClient[structpb.Struct]) string {
	t.Helper()
	event, err := stream.Recv()
	require.NoError(t, err)
	return event.GetFields()[FieldMessage].GetStringValue()
}

func TestChatService_CreateAndListRooms(t *testing.T) {
	client, _, _, _ := testGRPCServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.ListRooms(ctx, &structpb.Struct{})
	require.NoError(t, err)
	assert.Empty(t, listField(resp, FieldRooms))

	resp, err = client.CreateRoom(ctx, mustStruct(t, map[string]any{FieldRoom: "general"}))
	require.NoError(t, err)
	assert.True(t, resp.GetFields()[FieldCreated].GetBoolValue())
	assert.Equal(t, "Room general created!", resp.GetFields()[FieldMessage].GetStringValue())

	resp, err = client.CreateRoom(ctx, mustStruct(t, map[string]any{FieldRoom: "general"}))
	require.NoError(t, err)
	assert.False(t, resp.GetFields()[FieldCreated].GetBoolValue())

	resp, err = client.ListRooms(ctx, &structpb.Struct{})
	require.NoError(t, err)
	assert.Equal(t, []string{"general"}, listField(resp, FieldRooms))

	_, err = client.CreateRoom(ctx, &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestChatService_ConnectJoinSend(t *testing.T) {
	client, _, svc, _ := testGRPCServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Rooms.CreateRoom("general")

	u1, id1 := connect(t, ctx, client, "U1")
	resp, err := client.JoinRoom(ctx, mustStruct(t, map[string]any{FieldSessionID: id1, FieldRoom: "general"}))
	require.NoError(t, err)
	assert.Empty(t, listField(resp, FieldHistory))
	assert.Equal(t, "U1 has joined", nextMessage(t, u1))

	_, err = client.SendMessage(ctx, mustStruct(t, map[string]any{FieldSessionID: id1, FieldMsg: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, "U1: hi", nextMessage(t, u1))

	u2, id2 := connect(t, ctx, client, "U2")
	resp, err = client.JoinRoom(ctx, mustStruct(t, map[string]any{FieldSessionID: id2, FieldRoom: "general"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"U1: hi"}, listField(resp, FieldHistory))
	assert.Equal(t, "U2 has joined", nextMessage(t, u1))
	assert.Equal(t, "U2 has joined", nextMessage(t, u2))

	_, err = client.SendMessage(ctx, mustStruct(t, map[string]any{FieldSessionID: id2, FieldMsg: "yo"}))
	require.NoError(t, err)
	assert.Equal(t, "U2: yo", nextMessage(t, u1))
	assert.Equal(t, "U2: yo", nextMessage(t, u2))
}

func TestChatService_Errors(t *testing.T) {
	client, _, _, _ := testGRPCServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, id := connect(t, ctx, client, "alice")

	_, err := client.SendMessage(ctx, mustStruct(t, map[string]any{FieldSessionID: id, FieldMsg: "hi"}))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.JoinRoom(ctx, mustStruct(t, map[string]any{FieldSessionID: id, FieldRoom: "nowhere"}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.JoinRoom(ctx, mustStruct(t, map[string]any{FieldSessionID: "bogus", FieldRoom: "general"}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.SendMessage(ctx, mustStruct(t, map[string]any{FieldMsg: "hi"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestChatService_StreamEndClosesSession(t *testing.T) {
	client, _, svc, _ := testGRPCServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Rooms.CreateRoom("general")

	watcher, watcherID := connect(t, ctx, client, "watcher")
	_, err := client.JoinRoom(ctx, mustStruct(t, map[string]any{FieldSessionID: watcherID, FieldRoom: "general"}))
	require.NoError(t, err)
	assert.Equal(t, "watcher has joined", nextMessage(t, watcher))

	leaverCtx, leave := context.WithCancel(ctx)
	_, leaverID := connect(t, leaverCtx, client, "leaver")
	_, err = client.JoinRoom(ctx, mustStruct(t, map[string]any{FieldSessionID: leaverID, FieldRoom: "general"}))
	require.NoError(t, err)
	assert.Equal(t, "leaver has joined", nextMessage(t, watcher))

	leave()
	require.Eventually(t, func() bool {
		_, ok := svc.Sessions.Get(leaverID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	// Closing is silent: the next event the watcher sees is its own message.
	_, err = client.SendMessage(ctx, mustStruct(t, map[string]any{FieldSessionID: watcherID, FieldMsg: "alone"}))
	require.NoError(t, err)
	assert.Equal(t, "watcher: alone", nextMessage(t, watcher))
}

func TestServer_Health(t *testing.T) {
	_, conn, _, _ := testGRPCServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestServer_StopEndsStreams(t *testing.T) {
	client, _, _, srv := testGRPCServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, _ := connect(t, ctx, client, "alice")
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Stop()
	}()

	_, err := stream.Recv()
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestToStatus(t *testing.T) {
	assert.Equal(t, codes.NotFound, status.Code(toStatus(chat.ErrRoomNotFound)))
	assert.Equal(t, codes.FailedPrecondition, status.Code(toStatus(chat.ErrNotInRoom)))
	assert.Equal(t, codes.FailedPrecondition, status.Code(toStatus(chat.ErrSessionClosed)))
	assert.Equal(t, codes.InvalidArgument, status.Code(toStatus(chat.ErrInvalidCommand)))
	assert.Equal(t, codes.Unavailable, status.Code(toStatus(chat.ErrDeliveryFailed)))
	assert.Equal(t, codes.Internal, status.Code(toStatus(assert.AnError)))
}
