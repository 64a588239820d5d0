package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	EventPlaced   = "PLACED"
	EventRemoved  = "REMOVED"
	EventProduced = "PRODUCED"
	EventReloaded = "RELOADED"
	EventSaved    = "SAVED"
)

// Removal reasons.
const (
	ReasonBroken = "broken"
	ReasonStale  = "stale"
)

// Event is the record written to the journal, the index and the observer
// stream. Fields that do not apply to a kind are left empty.
type Event struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	TimeMs int64  `json:"time_ms"`

	World string `json:"world,omitempty"`
	Pos   [3]int `json:"pos,omitempty"`
	Type  string `json:"type,omitempty"`
	Owner string `json:"owner,omitempty"`
	Actor string `json:"actor,omitempty"`

	Item     string `json:"item,omitempty"`
	Amount   int    `json:"amount,omitempty"`
	DropMode string `json:"drop_mode,omitempty"`
	Produced uint64 `json:"produced,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// SAVED / RELOADED
	Path       string `json:"path,omitempty"`
	Generators int    `json:"generators,omitempty"`
	Players    int    `json:"players,omitempty"`
	Profiles   int    `json:"profiles,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

func NewEvent(kind string, now time.Time) Event {
	return Event{ID: uuid.NewString(), Kind: kind, TimeMs: now.UnixMilli()}
}

func (e Event) Time() time.Time { return time.UnixMilli(e.TimeMs) }
