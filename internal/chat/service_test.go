package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_ExecuteCreateAndList(t *testing.T) {
	svc := newTestService(t)
	s := svc.Sessions.Open("", &recorder{})

	res, err := svc.Execute(s, Command{Kind: KindCreateRoom, Room: "general"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "general", res.Room)

	res, err = svc.Execute(s, Command{Kind: KindCreateRoom, Room: "general"})
	require.NoError(t, err)
	assert.False(t, res.Created)

	res, err = svc.Execute(s, Command{Kind: KindListRooms})
	require.NoError(t, err)
	assert.Equal(t, []string{"general"}, res.Rooms)
}

func TestService_ExecuteJoinBindsUsername(t *testing.T) {
	svc := newTestService(t)
	svc.Rooms.CreateRoom("general")
	rec := &recorder{}
	s := svc.Sessions.Open("", rec)

	res, err := svc.Execute(s, Command{Kind: KindJoinRoom, Room: "general", Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{}, res.History)
	assert.Equal(t, "alice", svc.Sessions.Info(s).Username)

	_, err = svc.Execute(s, Command{Kind: KindSendMessage, Text: "hi"})
	require.NoError(t, err)

	// A username on a later command rebinds the session.
	_, err = svc.Execute(s, Command{Kind: KindSendMessage, Text: "again", Username: "alicia"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice has joined", "alice: hi", "alicia: again"}, rec.all())
}

func TestService_ExecuteErrors(t *testing.T) {
	svc := newTestService(t)
	s := svc.Sessions.Open("alice", &recorder{})

	_, err := svc.Execute(s, Command{Kind: KindSendMessage, Text: "hi"})
	assert.ErrorIs(t, err, ErrNotInRoom)

	_, err = svc.Execute(s, Command{Kind: KindJoinRoom, Room: "nowhere", Username: "alice"})
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = svc.Execute(s, Command{Kind: "DANCE"})
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestService_InvalidCommandDoesNotRebind(t *testing.T) {
	svc := newTestService(t)
	s := svc.Sessions.Open("alice", &recorder{})

	_, err := svc.Execute(s, Command{Kind: KindJoinRoom, Username: "mallory"})
	require.ErrorIs(t, err, ErrInvalidCommand)
	assert.Equal(t, "alice", svc.Sessions.Info(s).Username)
}

func TestService_StatsAfterPrune(t *testing.T) {
	svc := newTestService(t)
	svc.Rooms.CreateRoom("general")
	flaky := &recorder{}
	sf := svc.Sessions.Open("flaky", flaky)
	_, err := svc.Execute(sf, Command{Kind: KindJoinRoom, Room: "general", Username: "flaky"})
	require.NoError(t, err)
	flaky.setFailing()

	other := svc.Sessions.Open("other", &recorder{})
	_, err = svc.Execute(other, Command{Kind: KindJoinRoom, Room: "general", Username: "other"})
	require.NoError(t, err)

	// Pruning removes membership only; the session stays open until closed.
	assert.Equal(t, Stats{Rooms: 1, Sessions: 2}, svc.Stats())
	assert.Empty(t, svc.Sessions.Info(sf).Room)

	svc.Sessions.Close(sf)
	assert.Equal(t, Stats{Rooms: 1, Sessions: 1}, svc.Stats())
}
