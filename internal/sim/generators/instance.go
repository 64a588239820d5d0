package generators

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"itemgen.ai/internal/sim/catalogs"
)

// Instance is one placed generator. Its position and owner never change; the
// profile pointer is swapped on reload and the timers are updated by the
// scheduler, so all mutable state is atomic.
type Instance struct {
	Pos      Pos
	Owner    uuid.UUID
	PlacedAt time.Time

	profile        atomic.Pointer[catalogs.Profile]
	lastProduction atomic.Int64 // unix ms
	produced       atomic.Uint64
}

func newInstance(pos Pos, p *catalogs.Profile, owner uuid.UUID, now time.Time) *Instance {
	in := &Instance{Pos: pos, Owner: owner, PlacedAt: now}
	in.profile.Store(p)
	in.lastProduction.Store(now.UnixMilli())
	return in
}

func (in *Instance) Profile() *catalogs.Profile { return in.profile.Load() }

func (in *Instance) ProfileName() string { return in.profile.Load().Name }

func (in *Instance) LastProduction() time.Time { return time.UnixMilli(in.lastProduction.Load()) }

func (in *Instance) Produced() uint64 { return in.produced.Load() }

// Due reports whether the cooldown has fully elapsed at nowMs.
func (in *Instance) Due(nowMs int64) bool {
	return nowMs-in.lastProduction.Load() >= in.Profile().CooldownMillis()
}

// claim marks the instance as fired at nowMs if it is due. Exactly one of
// several concurrent claimers wins.
func (in *Instance) claim(nowMs int64) bool {
	for {
		last := in.lastProduction.Load()
		if nowMs-last < in.Profile().CooldownMillis() {
			return false
		}
		if in.lastProduction.CompareAndSwap(last, nowMs) {
			return true
		}
	}
}

func (in *Instance) recordProduced() uint64 { return in.produced.Add(1) }

func (in *Instance) rebind(p *catalogs.Profile) { in.profile.Store(p) }
