package world

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/go-gl/mathgl/mgl64"
)

// ChunkPos holds the position of a chunk. The type is provided as a utility
// struct for keeping track of a chunk's position. Chunks do not themselves
// keep track of that. Chunk positions are different from block positions in
// the way that increasing the X/Z by one means increasing the absolute value
// on the X/Z axis in terms of blocks by 16.
type ChunkPos [2]int32

// String implements fmt.Stringer and returns (x, z).
func (p ChunkPos) String() string {
	return fmt.Sprintf("(%v, %v)", p[0], p[1])
}

// X returns the X coordinate of the chunk position.
func (p ChunkPos) X() int32 {
	return p[0]
}

// Z returns the Z coordinate of the chunk position.
func (p ChunkPos) Z() int32 {
	return p[1]
}

// Hash returns a 64-bit hash of the position.
func (p ChunkPos) Hash() uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[:4], uint32(p[0]))
	binary.LittleEndian.PutUint32(b[4:], uint32(p[1]))
	return xxhash.Sum64(b[:])
}

// Pack packs the position into a single int64. UnpackChunkPos reverses it.
func (p ChunkPos) Pack() int64 {
	return int64(p[0])<<32 | int64(uint32(p[1]))
}

// UnpackChunkPos returns the ChunkPos packed into v by ChunkPos.Pack.
func UnpackChunkPos(v int64) ChunkPos {
	return ChunkPos{int32(v >> 32), int32(uint32(v))}
}

// ChunkPosFromVec3 returns the ChunkPos of the chunk that holds the position
// passed.
func ChunkPosFromVec3(v mgl64.Vec3) ChunkPos {
	return ChunkPos{int32(math.Floor(v[0])) >> 4, int32(math.Floor(v[2])) >> 4}
}

// distanceSq returns the squared distance between two chunk positions.
func (p ChunkPos) distanceSq(o ChunkPos) int64 {
	dx, dz := int64(p[0])-int64(o[0]), int64(p[1])-int64(o[1])
	return dx*dx + dz*dz
}
