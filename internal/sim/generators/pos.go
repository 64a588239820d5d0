package generators

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Pos is a block position in a named world.
type Pos struct {
	World string
	X     int
	Y     int
	Z     int
}

type Vec3 struct {
	X, Y, Z float64
}

// RegionKey identifies the column of blocks the host loads and unloads as a
// unit (a chunk).
type RegionKey struct {
	World string
	X     int
	Z     int
}

func (p Pos) String() string { return fmt.Sprintf("%s:%d,%d,%d", p.World, p.X, p.Y, p.Z) }

func (p Pos) Less(o Pos) bool {
	if p.World != o.World {
		return p.World < o.World
	}
	if p.X != o.X {
		return p.X < o.X
	}
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	return p.Z < o.Z
}

// Region returns the region containing p. size must be positive.
func (p Pos) Region(size int) RegionKey {
	return RegionKey{World: p.World, X: floorDiv(p.X, size), Z: floorDiv(p.Z, size)}
}

// DropPoint is where produced items appear: centred on the block, slightly
// above its top face.
func (p Pos) DropPoint() Vec3 {
	return Vec3{X: float64(p.X) + 0.5, Y: float64(p.Y) + 1.2, Z: float64(p.Z) + 0.5}
}

func (p Pos) Center() Vec3 {
	return Vec3{X: float64(p.X) + 0.5, Y: float64(p.Y) + 0.5, Z: float64(p.Z) + 0.5}
}

func (p Pos) hash() uint64 {
	var d xxhash.Digest
	d.Reset()
	_, _ = d.WriteString(p.World)
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(int64(p.X)))
	binary.LittleEndian.PutUint64(buf[8:], uint64(int64(p.Y)))
	binary.LittleEndian.PutUint64(buf[16:], uint64(int64(p.Z)))
	_, _ = d.Write(buf[:])
	return d.Sum64()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
