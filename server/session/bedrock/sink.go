// Package bedrock implements a session.Sink that translates view updates
// into Minecraft: Bedrock Edition packets.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/dm-vev/chunkstream/server/entity"
	"github.com/dm-vev/chunkstream/server/item"
	"github.com/dm-vev/chunkstream/server/session"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// PacketWriter is the connection packets are written to. *minecraft.Conn
// implements it.
type PacketWriter interface {
	WritePacket(pk packet.Packet) error
}

var (
	errUnknownHandle = errors.New("bedrock: unknown handle")
	errUnknownEntity = errors.New("bedrock: entity not viewed")
)

var _ session.Sink = (*Sink)(nil)

// Sink writes view updates as packets to the connection registered for a
// session.Handle. Entity ids are used as runtime and unique ids.
type Sink struct {
	log *slog.Logger

	mu    sync.Mutex
	conns map[session.Handle]*viewer
}

// viewer is the connection of one handle. Bedrock moves entities to
// absolute positions, so the position the client holds for every entity is
// kept to apply deltas to.
type viewer struct {
	conn       PacketWriter
	runtimeID  uint64
	teleportID int32
	// teleports holds the ids of teleports the client has not yet handled,
	// oldest first.
	teleports []int32
	positions map[int32]mgl64.Vec3
}

// maxOutstandingTeleports bounds the teleport ids remembered per viewer.
const maxOutstandingTeleports = 16

// NewSink creates an empty Sink. If log is nil, slog.Default() is used.
func NewSink(log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{log: log, conns: make(map[session.Handle]*viewer)}
}

// Add registers the connection of a handle. runtimeID is the runtime id the
// client knows its own player by.
func (s *Sink) Add(h session.Handle, conn PacketWriter, runtimeID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[h] = &viewer{conn: conn, runtimeID: runtimeID, positions: make(map[int32]mgl64.Vec3)}
}

// Remove forgets the connection of a handle.
func (s *Sink) Remove(h session.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, h)
}

// viewer returns the viewer of h. Calls for one handle never overlap, so the
// viewer may be used without holding the lock.
func (s *Sink) viewer(ctx context.Context, h session.Handle) (*viewer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.conns[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errUnknownHandle, h)
	}
	return v, nil
}

// ViewMoveEntity ...
func (s *Sink) ViewMoveEntity(ctx context.Context, h session.Handle, id int32, delta session.Delta, onGround bool) error {
	return s.move(ctx, h, id, delta, nil, onGround)
}

// ViewMoveEntityAndRotate ...
func (s *Sink) ViewMoveEntityAndRotate(ctx context.Context, h session.Handle, id int32, delta session.Delta, rot entity.Rotation, onGround bool) error {
	return s.move(ctx, h, id, delta, &rot, onGround)
}

func (s *Sink) move(ctx context.Context, h session.Handle, id int32, delta session.Delta, rot *entity.Rotation, onGround bool) error {
	v, err := s.viewer(ctx, h)
	if err != nil {
		return err
	}
	pos, ok := v.positions[id]
	if !ok {
		return fmt.Errorf("move entity %d: %w", id, errUnknownEntity)
	}
	pos = pos.Add(delta.Vec3())
	v.positions[id] = pos

	pk := &packet.MoveActorDelta{
		EntityRuntimeID: uint64(id),
		Position:        vec64To32(pos),
	}
	for i, flag := range [3]uint16{packet.MoveActorDeltaFlagHasX, packet.MoveActorDeltaFlagHasY, packet.MoveActorDeltaFlagHasZ} {
		if delta[i] != 0 {
			pk.Flags |= flag
		}
	}
	if rot != nil {
		yaw, pitch := rot.Degrees()
		pk.Rotation = mgl32.Vec3{float32(pitch), float32(yaw), float32(yaw)}
		pk.Flags |= packet.MoveActorDeltaFlagHasRotX | packet.MoveActorDeltaFlagHasRotY | packet.MoveActorDeltaFlagHasRotZ
	}
	if onGround {
		pk.Flags |= packet.MoveActorDeltaFlagOnGround
	}
	return v.conn.WritePacket(pk)
}

// ViewRemoveEntities ...
func (s *Sink) ViewRemoveEntities(ctx context.Context, h session.Handle, ids []int32) error {
	v, err := s.viewer(ctx, h)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(v.positions, id)
		if err := v.conn.WritePacket(&packet.RemoveActor{EntityUniqueID: int64(id)}); err != nil {
			return err
		}
	}
	return nil
}

// ViewTeleportEntity ...
func (s *Sink) ViewTeleportEntity(ctx context.Context, h session.Handle, id int32, pos mgl64.Vec3, rot entity.Rotation, onGround bool) error {
	v, err := s.viewer(ctx, h)
	if err != nil {
		return err
	}
	v.positions[id] = pos

	yaw, pitch := rot.Degrees()
	var flags byte = packet.MoveFlagTeleport
	if onGround {
		flags |= packet.MoveFlagOnGround
	}
	return v.conn.WritePacket(&packet.MoveActorAbsolute{
		EntityRuntimeID: uint64(id),
		Flags:           flags,
		Position:        vec64To32(pos),
		Rotation:        mgl32.Vec3{float32(pitch), float32(yaw), float32(yaw)},
	})
}

// SendPlayerPosition ...
func (s *Sink) SendPlayerPosition(ctx context.Context, h session.Handle, pos mgl64.Vec3, rot mgl64.Vec2) (int32, error) {
	v, err := s.viewer(ctx, h)
	if err != nil {
		return 0, err
	}
	// The teleport queue is shared with the goroutine reading from the
	// client.
	s.mu.Lock()
	if v.teleportID == math.MaxInt32 {
		v.teleportID = 0
	}
	v.teleportID++
	id := v.teleportID
	if len(v.teleports) == maxOutstandingTeleports {
		v.teleports = v.teleports[1:]
	}
	v.teleports = append(v.teleports, id)
	s.mu.Unlock()

	err = v.conn.WritePacket(&packet.MovePlayer{
		EntityRuntimeID: v.runtimeID,
		Position:        vec64To32(pos.Add(mgl64.Vec3{0, eyeHeight, 0})),
		Yaw:             float32(rot[0]),
		Pitch:           float32(rot[1]),
		HeadYaw:         float32(rot[0]),
		Mode:            packet.MoveModeTeleport,
	})
	return id, err
}

// HandledTeleport returns the id of the oldest teleport sent to the client
// of h that it has not yet handled and marks it handled. Clients handle
// teleports in the order they were sent.
func (s *Sink) HandledTeleport(h session.Handle) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.conns[h]
	if !ok || len(v.teleports) == 0 {
		return 0, false
	}
	id := v.teleports[0]
	v.teleports = v.teleports[1:]
	return id, true
}

// SendDisconnect ...
func (s *Sink) SendDisconnect(ctx context.Context, h session.Handle, reason string) error {
	v, err := s.viewer(ctx, h)
	if err != nil {
		return err
	}
	return v.conn.WritePacket(&packet.Disconnect{Message: reason})
}

// SendInventorySlot ...
func (s *Sink) SendInventorySlot(ctx context.Context, h session.Handle, slot int, stack item.Stack) error {
	v, err := s.viewer(ctx, h)
	if err != nil {
		return err
	}
	return v.conn.WritePacket(&packet.InventorySlot{
		WindowID: protocol.WindowIDInventory,
		Slot:     uint32(slot),
		NewItem:  instanceFromStack(stack),
	})
}

// instanceFromStack converts a stack to its network form. The item id is
// used as network id as is.
func instanceFromStack(stack item.Stack) protocol.ItemInstance {
	if stack.Empty() {
		return protocol.ItemInstance{}
	}
	return protocol.ItemInstance{
		Stack: protocol.ItemStack{
			ItemType: protocol.ItemType{NetworkID: stack.ID},
			Count:    uint16(stack.Count),
		},
	}
}

// vec64To32 converts a mgl64.Vec3 to a mgl32.Vec3.
func vec64To32(vec3 mgl64.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{float32(vec3[0]), float32(vec3[1]), float32(vec3[2])}
}
