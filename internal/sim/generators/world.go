package generators

import (
	"github.com/google/uuid"

	"itemgen.ai/internal/protocol"
	"itemgen.ai/internal/sim/items"
)

type DropMode int

const (
	// DropNatural spawns a physics-enabled item entity.
	DropNatural DropMode = iota
	// DropFrozen spawns an item entity with no velocity and no merging, used
	// when the drop point is crowded.
	DropFrozen
)

func (m DropMode) String() string {
	if m == DropFrozen {
		return "frozen"
	}
	return "natural"
}

// World is the host's block world. RegionActive is called from the driver
// goroutine; every other method is only called from inside WorldExecutor.Run
// or from Engine methods the host invokes on its world context.
type World interface {
	RegionActive(p Pos) bool
	BlockKindAt(p Pos) string
	DropItem(p Pos, at Vec3, item items.Template, mode DropMode) error
	SpawnEffect(world string, at Vec3)
	NearbyEntities(world string, at Vec3, radius float64) int
}

type Permissions interface {
	HasPermission(actor uuid.UUID, node string) bool
}

// Inventory hands items to actors. Give returns what did not fit.
type Inventory interface {
	Give(actor uuid.UUID, item items.Template) (overflow []items.Template)
	Locate(actor uuid.UUID) (Pos, bool)
}

// WorldExecutor runs f on the goroutine that owns world state.
type WorldExecutor interface {
	Run(f func())
}

// InlineExecutor runs f on the calling goroutine.
type InlineExecutor struct{}

func (InlineExecutor) Run(f func()) { f() }

type EventSink interface {
	Publish(ev protocol.Event)
}

// Sinks fans one event out to every sink.
type Sinks []EventSink

func (s Sinks) Publish(ev protocol.Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(ev)
		}
	}
}

// Actor is whoever triggered an engine operation. The zero ID is the
// console, which holds every permission.
type Actor struct {
	ID       uuid.UUID
	Sneaking bool
}

var Console = Actor{ID: uuid.Nil}

func (a Actor) IsConsole() bool { return a.ID == uuid.Nil }
