package session

import (
	"context"
	"sync/atomic"

	"github.com/dm-vev/chunkstream/server/entity"
	"github.com/dm-vev/chunkstream/server/item"
	"github.com/dm-vev/chunkstream/server/world"
	"github.com/dm-vev/chunkstream/server/world/chunk"
	"github.com/go-gl/mathgl/mgl64"
)

// Handle identifies the connection a Sink call is destined for. The
// Synchronizer never interprets it: it is passed back to the Sink as given
// to Connect.
type Handle uint64

// Sink is the transport a Session dispatches view updates to. A Sink is
// only ever called from the writer goroutine of one Session at a time, so
// calls for the same Handle never overlap. Every call must respect the
// deadline of the context passed: a returned error counts as a failed
// dispatch.
type Sink interface {
	// ViewMoveEntity moves a known entity by delta.
	ViewMoveEntity(ctx context.Context, h Handle, id int32, delta Delta, onGround bool) error
	// ViewMoveEntityAndRotate moves a known entity by delta and sets its
	// rotation.
	ViewMoveEntityAndRotate(ctx context.Context, h Handle, id int32, delta Delta, rot entity.Rotation, onGround bool) error
	// ViewRemoveEntities removes the entities with the ids passed from the
	// view.
	ViewRemoveEntities(ctx context.Context, h Handle, ids []int32) error
	// ViewTeleportEntity sets the absolute position and rotation of an
	// entity. It introduces entities that were not known to the viewer.
	ViewTeleportEntity(ctx context.Context, h Handle, id int32, pos mgl64.Vec3, rot entity.Rotation, onGround bool) error
	// SendPlayerPosition moves the viewer itself and returns the id the
	// client acknowledges the teleport with. rot holds the yaw and pitch in
	// degrees.
	SendPlayerPosition(ctx context.Context, h Handle, pos mgl64.Vec3, rot mgl64.Vec2) (int32, error)
	// SendDisconnect disconnects the viewer with the reason passed.
	SendDisconnect(ctx context.Context, h Handle, reason string) error
	// SendInventorySlot sets the stack in one inventory slot of the viewer.
	SendInventorySlot(ctx context.Context, h Handle, slot int, stack item.Stack) error
}

// ChunkViewer may be implemented by a Sink that also shows chunks. Chunks
// are passed as loaded by the world.Loader of the Session and must not be
// modified.
type ChunkViewer interface {
	ViewChunk(ctx context.Context, h Handle, pos world.ChunkPos, c *chunk.Chunk) error
	ViewChunkUnload(ctx context.Context, h Handle, pos world.ChunkPos) error
}

// NopSink is a Sink that discards every call. SendPlayerPosition returns
// increasing teleport ids.
type NopSink struct {
	teleportID atomic.Int32
}

func (*NopSink) ViewMoveEntity(context.Context, Handle, int32, Delta, bool) error { return nil }
func (*NopSink) ViewMoveEntityAndRotate(context.Context, Handle, int32, Delta, entity.Rotation, bool) error {
	return nil
}
func (*NopSink) ViewRemoveEntities(context.Context, Handle, []int32) error { return nil }
func (*NopSink) ViewTeleportEntity(context.Context, Handle, int32, mgl64.Vec3, entity.Rotation, bool) error {
	return nil
}
func (s *NopSink) SendPlayerPosition(context.Context, Handle, mgl64.Vec3, mgl64.Vec2) (int32, error) {
	return s.teleportID.Add(1), nil
}
func (*NopSink) SendDisconnect(context.Context, Handle, string) error             { return nil }
func (*NopSink) SendInventorySlot(context.Context, Handle, int, item.Stack) error { return nil }
