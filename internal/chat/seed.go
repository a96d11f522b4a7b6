package chat

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RoomSeed is one entry of a room seed file.
type RoomSeed struct {
	Name string `yaml:"name"`
}

type seedFile struct {
	Rooms []RoomSeed `yaml:"rooms"`
}

// LoadRoomSeeds reads a YAML file of the form
//
//	rooms:
//	  - name: general
//
// Precondition: path must be a readable file.
// Postcondition: Returns the listed room names in file order or a non-nil error.
func LoadRoomSeeds(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing room seed file %s: %w", path, err)
	}
	names := make([]string, 0, len(f.Rooms))
	for i, seed := range f.Rooms {
		name := strings.TrimSpace(seed.Name)
		if name == "" {
			return nil, fmt.Errorf("room seed file %s: entry %d has no name", path, i)
		}
		names = append(names, name)
	}
	return names, nil
}

// SeedRooms creates each named room. Names already present are left as is.
//
// Postcondition: Returns the number of rooms actually created.
func SeedRooms(reg *Registry, names []string) int {
	created := 0
	for _, name := range names {
		if reg.CreateRoom(name) {
			created++
		}
	}
	return created
}
