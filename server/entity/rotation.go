package entity

import "math"

// Rotation is the packed yaw and pitch of an entity. Each angle is stored in
// a byte where 256 steps make a full turn.
type Rotation [2]uint8

// RotationFromDegrees packs yaw and pitch in degrees into a Rotation. Angles
// wrap around, so -90 and 270 pack to the same byte.
func RotationFromDegrees(yaw, pitch float64) Rotation {
	return Rotation{packAngle(yaw), packAngle(pitch)}
}

func packAngle(deg float64) uint8 {
	return uint8(int64(math.Floor(deg * 256 / 360)))
}

// Yaw returns the packed yaw.
func (r Rotation) Yaw() uint8 {
	return r[0]
}

// Pitch returns the packed pitch.
func (r Rotation) Pitch() uint8 {
	return r[1]
}

// Degrees unpacks the rotation. Yaw is returned in [0, 360), pitch in
// [-180, 180) so that looking up stays negative.
func (r Rotation) Degrees() (yaw, pitch float64) {
	return float64(r[0]) * 360 / 256, float64(int8(r[1])) * 360 / 256
}
