package store

import (
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// State is everything the state file records.
type State struct {
	Generators []Generator
	Players    map[uuid.UUID]Player
}

type Location struct {
	World string `yaml:"world"`
	X     int    `yaml:"x"`
	Y     int    `yaml:"y"`
	Z     int    `yaml:"z"`
}

type Generator struct {
	Location Location
	Type     string
	Placer   uuid.UUID
	Produced uint64
}

type Player struct {
	GeneratorsPlaced    int
	TotalItemsGenerated uint64
	FirstSeen           time.Time
	LastActive          time.Time
}

// On-disk shapes. Fields are pointers or strings so a malformed entry can be
// detected and skipped instead of failing the whole document.
type fileState struct {
	Generators []fileGenerator       `yaml:"generators"`
	Players    map[string]filePlayer `yaml:"players"`
}

// looseState is the load-side view of fileState: each entry stays a node
// until it is decoded on its own.
type looseState struct {
	Generators []yaml.Node          `yaml:"generators"`
	Players    map[string]yaml.Node `yaml:"players"`
}

type fileGenerator struct {
	Location       *Location `yaml:"location"`
	Type           string    `yaml:"type"`
	Placer         string    `yaml:"placer"`
	ItemsGenerated uint64    `yaml:"items-generated"`
}

type filePlayer struct {
	GeneratorsPlaced    int    `yaml:"generators-placed"`
	TotalItemsGenerated uint64 `yaml:"total-items-generated"`
	FirstSeenMs         int64  `yaml:"first-seen,omitempty"`
	LastActiveMs        int64  `yaml:"last-active,omitempty"`
}

func msTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func timeMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
