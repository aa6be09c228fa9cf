package entity

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// MaxCoordinate is the largest absolute horizontal or vertical coordinate an
// entity may be positioned at.
const MaxCoordinate = 3e7

// State is the state of an entity at one point in time. States are values:
// the Registry replaces them as a whole, so a State is never observed half
// written.
type State struct {
	ID       int32
	Position mgl64.Vec3
	Rotation Rotation
	OnGround bool
	// Velocity is only meaningful if HasVelocity is true.
	Velocity    mgl64.Vec3
	HasVelocity bool
	// Revision increases with every change of the entity.
	Revision uint64
	// TeleportSeq increases every time the entity is explicitly teleported.
	// Viewers resynchronise the entity with an absolute position when it
	// changes.
	TeleportSeq uint64
}

// ValidPosition checks if every component of pos is finite and within
// MaxCoordinate.
func ValidPosition(pos mgl64.Vec3) bool {
	for _, v := range pos {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > MaxCoordinate {
			return false
		}
	}
	return true
}
