package chat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRoomSeeds(t *testing.T) {
	path := writeSeedFile(t, `
rooms:
  - name: general
  - name: " random "
`)
	names, err := LoadRoomSeeds(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"general", "random"}, names)
}

func TestLoadRoomSeeds_MissingName(t *testing.T) {
	path := writeSeedFile(t, `
rooms:
  - name: general
  - name: ""
`)
	_, err := LoadRoomSeeds(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry 1 has no name")
}

func TestLoadRoomSeeds_BadYAML(t *testing.T) {
	path := writeSeedFile(t, "rooms: [unterminated")
	_, err := LoadRoomSeeds(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing room seed file")
}

func TestLoadRoomSeeds_MissingFile(t *testing.T) {
	_, err := LoadRoomSeeds(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSeedRooms(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))
	reg.CreateRoom("general")
	created := SeedRooms(reg, []string{"general", "random", "random"})
	assert.Equal(t, 1, created)
	assert.Equal(t, []string{"general", "random"}, reg.ListRooms())
}
