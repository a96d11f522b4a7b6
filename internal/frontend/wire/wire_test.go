package wire

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/roomchat/internal/chat"
)

func TestDecode(t *testing.T) {
	cmd, err := Decode([]byte(`{"arg":"joinroom","room":" general ","username":"alice"}`))
	require.NoError(t, err)
	assert.Equal(t, chat.Command{Kind: chat.KindJoinRoom, Room: "general", Username: "alice"}, cmd)

	cmd, err = Decode([]byte(`{"arg":"SENDMSG","msg":"  spaced  "}`))
	require.NoError(t, err)
	assert.Equal(t, "  spaced  ", cmd.Text)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{"arg":`))
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrInvalidCommand)
	assert.Contains(t, err.Error(), "malformed request")
}

func TestEncodeReplies(t *testing.T) {
	tests := []struct {
		name string
		res  chat.Result
		err  error
		want []string
	}{
		{
			name: "create",
			res:  chat.Result{Kind: chat.KindCreateRoom, Room: "general", Created: true},
			want: []string{`{"message":"Room general created!"}`},
		},
		{
			name: "list empty",
			res:  chat.Result{Kind: chat.KindListRooms, Rooms: []string{}},
			want: []string{`{"message":"No rooms"}`},
		},
		{
			name: "list",
			res:  chat.Result{Kind: chat.KindListRooms, Rooms: []string{"a", "b"}},
			want: []string{`{"rooms":["a","b"]}`},
		},
		{
			name: "join empty history",
			res:  chat.Result{Kind: chat.KindJoinRoom, Room: "general"},
			want: []string{`{"message":"You joined general"}`, `{"history":[]}`},
		},
		{
			name: "join with history",
			res:  chat.Result{Kind: chat.KindJoinRoom, Room: "general", History: []string{"U1: hi"}},
			want: []string{`{"message":"You joined general"}`, `{"history":["U1: hi"]}`},
		},
		{
			name: "send",
			res:  chat.Result{Kind: chat.KindSendMessage},
			want: []string{},
		},
		{
			name: "room not found",
			err:  fmt.Errorf("room %q: %w", "x", chat.ErrRoomNotFound),
			want: []string{`{"message":"Room does not exist!"}`},
		},
		{
			name: "not in room",
			err:  fmt.Errorf("sending: %w", chat.ErrNotInRoom),
			want: []string{`{"message":"Join a room first!"}`},
		},
		{
			name: "invalid",
			err:  fmt.Errorf("%w: room is required", chat.ErrInvalidCommand),
			want: []string{`{"error":"invalid command: room is required"}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeReplies(tt.res, tt.err)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodePush(t *testing.T) {
	assert.Equal(t, `{"message":"alice: \"quoted\""}`, EncodePush(`alice: "quoted"`))
}

func TestEncodeError(t *testing.T) {
	assert.Equal(t, `{"error":"boom"}`, EncodeError(fmt.Errorf("boom")))
}
