package session

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DeltaScale is the amount of Delta units per block. A Delta covers a
// little under 8 blocks in every direction.
const DeltaScale = 32 * 128

// ErrInvalidDelta is the value panicked with when a displacement that does
// not fit a Delta is about to be sent as a move.
var ErrInvalidDelta = errors.New("session: displacement does not fit delta")

// Delta is a compact displacement in 1/DeltaScale block units.
type Delta [3]int16

// Vec3 returns the displacement in blocks.
func (d Delta) Vec3() mgl64.Vec3 {
	return mgl64.Vec3{float64(d[0]) / DeltaScale, float64(d[1]) / DeltaScale, float64(d[2]) / DeltaScale}
}

// Zero checks if the delta does not move at all.
func (d Delta) Zero() bool {
	return d == Delta{}
}

// fixedPos is a position in Delta units. Positions sent to viewers are
// tracked in these units so that the deltas sent add up to exactly the
// position the viewer ends up at.
type fixedPos [3]int64

// toFixed converts pos to Delta units, rounding to the nearest unit.
func toFixed(pos mgl64.Vec3) fixedPos {
	return fixedPos{
		int64(math.Round(pos[0] * DeltaScale)),
		int64(math.Round(pos[1] * DeltaScale)),
		int64(math.Round(pos[2] * DeltaScale)),
	}
}

// sub returns the displacement from o to p.
func (p fixedPos) sub(o fixedPos) fixedPos {
	return fixedPos{p[0] - o[0], p[1] - o[1], p[2] - o[2]}
}

// add returns p moved by d.
func (p fixedPos) add(d Delta) fixedPos {
	return fixedPos{p[0] + int64(d[0]), p[1] + int64(d[1]), p[2] + int64(d[2])}
}

// fits checks if the displacement p can be encoded as a Delta.
func (p fixedPos) fits() bool {
	for _, v := range p {
		if v < math.MinInt16 || v > math.MaxInt16 {
			return false
		}
	}
	return true
}

// assertDelta converts the displacement p to a Delta. A displacement that
// does not fit means a teleport was routed to a move, which is a bug, so it
// panics.
func assertDelta(p fixedPos) Delta {
	if !p.fits() {
		panic(fmt.Errorf("%w: %v", ErrInvalidDelta, p))
	}
	return Delta{int16(p[0]), int16(p[1]), int16(p[2])}
}
