// Package wsview streams the view of a session as JSON frames over a
// websocket. It is meant for map viewers and debugging tools rather than
// game clients.
package wsview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dm-vev/chunkstream/server/entity"
	"github.com/dm-vev/chunkstream/server/item"
	"github.com/dm-vev/chunkstream/server/session"
	"github.com/dm-vev/chunkstream/server/world"
	"github.com/dm-vev/chunkstream/server/world/chunk"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
)

// defaultWriteTimeout is used for writes without a context deadline.
const defaultWriteTimeout = 5 * time.Second

var errUnknownHandle = errors.New("wsview: unknown handle")

var (
	_ session.Sink        = (*Sink)(nil)
	_ session.ChunkViewer = (*Sink)(nil)
)

// Frame is a single message sent to a viewer. Type decides which of the
// other fields are set.
type Frame struct {
	Type     string      `json:"type"`
	ID       int32       `json:"id,omitempty"`
	IDs      []int32     `json:"ids,omitempty"`
	Delta    *[3]int16   `json:"delta,omitempty"`
	Pos      *[3]float64 `json:"pos,omitempty"`
	Rot      *[2]float64 `json:"rot,omitempty"`
	OnGround bool        `json:"on_ground,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Slot     *int        `json:"slot,omitempty"`
	Item     *ItemFrame  `json:"item,omitempty"`
	Chunk    *[2]int32   `json:"chunk,omitempty"`
	// Data holds the chunk encoding compressed with zstd.
	Data []byte `json:"data,omitempty"`
}

// ItemFrame is an item stack in a Frame.
type ItemFrame struct {
	ID         int32             `json:"id"`
	Count      uint8             `json:"count"`
	Components map[string]string `json:"components,omitempty"`
}

// Sink writes view updates as Frames to the websocket connection registered
// for a session.Handle.
type Sink struct {
	enc *zstd.Encoder

	mu    sync.Mutex
	conns map[session.Handle]*viewer
}

type viewer struct {
	conn       *websocket.Conn
	teleportID int32
}

// NewSink creates an empty Sink.
func NewSink() *Sink {
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	return &Sink{enc: enc, conns: make(map[session.Handle]*viewer)}
}

// Add registers the connection of a handle.
func (s *Sink) Add(h session.Handle, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[h] = &viewer{conn: conn}
}

// Remove forgets the connection of a handle.
func (s *Sink) Remove(h session.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, h)
}

func (s *Sink) viewer(h session.Handle) (*viewer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.conns[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errUnknownHandle, h)
	}
	return v, nil
}

// write sends f to the viewer of h, using the deadline of ctx as write
// deadline.
func (s *Sink) write(ctx context.Context, h session.Handle, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := s.viewer(h)
	if err != nil {
		return err
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	_ = v.conn.SetWriteDeadline(deadline)
	return v.conn.WriteMessage(websocket.TextMessage, b)
}

// ViewMoveEntity ...
func (s *Sink) ViewMoveEntity(ctx context.Context, h session.Handle, id int32, delta session.Delta, onGround bool) error {
	d := [3]int16(delta)
	return s.write(ctx, h, Frame{Type: "move", ID: id, Delta: &d, OnGround: onGround})
}

// ViewMoveEntityAndRotate ...
func (s *Sink) ViewMoveEntityAndRotate(ctx context.Context, h session.Handle, id int32, delta session.Delta, rot entity.Rotation, onGround bool) error {
	d := [3]int16(delta)
	return s.write(ctx, h, Frame{Type: "move", ID: id, Delta: &d, Rot: rotFrame(rot), OnGround: onGround})
}

// ViewRemoveEntities ...
func (s *Sink) ViewRemoveEntities(ctx context.Context, h session.Handle, ids []int32) error {
	return s.write(ctx, h, Frame{Type: "remove", IDs: ids})
}

// ViewTeleportEntity ...
func (s *Sink) ViewTeleportEntity(ctx context.Context, h session.Handle, id int32, pos mgl64.Vec3, rot entity.Rotation, onGround bool) error {
	p := [3]float64(pos)
	return s.write(ctx, h, Frame{Type: "teleport", ID: id, Pos: &p, Rot: rotFrame(rot), OnGround: onGround})
}

// SendPlayerPosition ...
func (s *Sink) SendPlayerPosition(ctx context.Context, h session.Handle, pos mgl64.Vec3, rot mgl64.Vec2) (int32, error) {
	v, err := s.viewer(h)
	if err != nil {
		return 0, err
	}
	v.teleportID++
	p, r := [3]float64(pos), [2]float64(rot)
	return v.teleportID, s.write(ctx, h, Frame{Type: "player_position", ID: v.teleportID, Pos: &p, Rot: &r})
}

// SendDisconnect sends the reason and closes the websocket.
func (s *Sink) SendDisconnect(ctx context.Context, h session.Handle, reason string) error {
	v, err := s.viewer(h)
	if err != nil {
		return err
	}
	if err := s.write(ctx, h, Frame{Type: "disconnect", Reason: reason}); err != nil {
		return err
	}
	return v.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// SendInventorySlot ...
func (s *Sink) SendInventorySlot(ctx context.Context, h session.Handle, slot int, stack item.Stack) error {
	f := Frame{Type: "inventory_slot", Slot: &slot}
	if !stack.Empty() {
		f.Item = &ItemFrame{ID: stack.ID, Count: stack.Count, Components: stack.Components}
	}
	return s.write(ctx, h, f)
}

// ViewChunk ...
func (s *Sink) ViewChunk(ctx context.Context, h session.Handle, pos world.ChunkPos, c *chunk.Chunk) error {
	p := [2]int32(pos)
	return s.write(ctx, h, Frame{Type: "chunk", Chunk: &p, Data: s.enc.EncodeAll(chunk.Encode(c), nil)})
}

// ViewChunkUnload ...
func (s *Sink) ViewChunkUnload(ctx context.Context, h session.Handle, pos world.ChunkPos) error {
	p := [2]int32(pos)
	return s.write(ctx, h, Frame{Type: "chunk_unload", Chunk: &p})
}

func rotFrame(rot entity.Rotation) *[2]float64 {
	yaw, pitch := rot.Degrees()
	return &[2]float64{yaw, pitch}
}
