// Package session keeps the view of every connected viewer in sync with the
// entity registry and chunk store. A Session remembers what its viewer was
// sent and turns registry changes into the smallest updates that bring the
// viewer up to date, dispatched in order to a Sink.
package session

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dm-vev/chunkstream/server/entity"
	"github.com/dm-vev/chunkstream/server/item"
	"github.com/dm-vev/chunkstream/server/world"
	"github.com/dm-vev/chunkstream/server/world/chunk"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Options are the settings of a single Session passed to
// Synchronizer.Connect.
type Options struct {
	// Name is the name of the viewer, used in logs and for lookups.
	Name string
	// EntityID is the id of the entity of the viewer. If zero, a new entity
	// is spawned.
	EntityID int32
	// Position is the position the viewer spawns at.
	Position mgl64.Vec3
	// Rotation is the yaw and pitch in degrees the viewer spawns with.
	Rotation mgl64.Vec2
	// ChunkRadius overrides Config.ChunkRadius if positive.
	ChunkRadius int
	// EntityRange overrides Config.EntityRange if positive.
	EntityRange float64
}

// Session is the view of one connected viewer. It is created by
// Synchronizer.Connect and is safe for concurrent use.
type Session struct {
	sync   *Synchronizer
	log    *slog.Logger
	id     uuid.UUID
	name   string
	handle Handle
	sink   Sink
	selfID int32
	rng    float64
	loader *world.Loader

	mu sync.Mutex
	// known holds the view of every entity the viewer was introduced to.
	known          *orderedmap.OrderedMap[int32, *EntityView]
	pendingRemoves []int32
	correlation    uint32
	pos            mgl64.Vec3
	rot            mgl64.Vec2
	onGround       bool
	pending        *TeleportRequest
	// early is an acknowledgement received before pending was sent.
	early *int32
	err   error

	// teleportMu orders player teleports in the outbox.
	teleportMu sync.Mutex
	// inventoryMu orders inventory updates in the outbox.
	inventoryMu sync.Mutex
	inventory   [InventorySize]item.Stack

	outbox     chan []dispatch
	done       chan struct{}
	writerDone chan struct{}
	closed     atomic.Bool
	hung       atomic.Bool
	// failures is only accessed by the writer goroutine.
	failures int
}

// EntityView is what a viewer was last sent about an entity.
type EntityView struct {
	// Position is the position the viewer holds for the entity: the last
	// teleport position plus every delta sent since, in Delta precision.
	Position mgl64.Vec3
	Rotation entity.Rotation
	OnGround bool
	// Revision is the entity revision the view was last updated to.
	Revision uint64
	// TeleportID is the session-local correlation id of the last teleport
	// the entity was sent with.
	TeleportID uint32

	base        fixedPos
	teleportSeq uint64
}

// ID returns the unique id of the session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Name returns the name passed in Options.
func (s *Session) Name() string {
	return s.name
}

// Handle returns the Handle passed to Connect.
func (s *Session) Handle() Handle {
	return s.handle
}

// EntityID returns the id of the entity of the viewer.
func (s *Session) EntityID() int32 {
	return s.selfID
}

// Position returns the authoritative position of the viewer.
func (s *Session) Position() mgl64.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Rotation returns the yaw and pitch of the viewer in degrees.
func (s *Session) Rotation() mgl64.Vec2 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rot
}

// Known checks if the viewer currently knows the entity with the id passed.
func (s *Session) Known(id int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known.Get(id)
	return ok
}

// KnownIDs returns the ids of every entity known to the viewer in the order
// they were introduced.
func (s *Session) KnownIDs() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known.Keys()
}

// View returns what the viewer was last sent about an entity.
func (s *Session) View(id int32) (EntityView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.known.Get(id)
	if !ok {
		return EntityView{}, false
	}
	return *v, true
}

// Chunks returns the chunk positions currently loaded for the viewer, or
// nil if the Synchronizer has no Store.
func (s *Session) Chunks() []world.ChunkPos {
	if s.loader == nil {
		return nil
	}
	positions := s.loader.Visible()
	slices.SortFunc(positions, func(a, b world.ChunkPos) int {
		if c := cmp.Compare(a[0], b[0]); c != 0 {
			return c
		}
		return cmp.Compare(a[1], b[1])
	})
	return positions
}

// Closed checks if the session was closed.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Done returns a channel that is closed once the session starts closing.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error the session was torn down with, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close disconnects the viewer with the reason passed. After Close returns
// the Sink of the session is no longer called. Close is a no-op if the
// session was already closed.
func (s *Session) Close(reason string) error {
	if !s.sync.disconnect(s, reason) {
		return ErrSessionClosed
	}
	return nil
}

// HandleChunkLoad queues a chunk for the viewer if its Sink is a
// ChunkViewer.
func (s *Session) HandleChunkLoad(pos world.ChunkPos, c *chunk.Chunk) {
	viewer, ok := s.sink.(ChunkViewer)
	if !ok {
		return
	}
	_ = s.enqueue(dispatch{name: "ViewChunk", call: func(ctx context.Context) error {
		return viewer.ViewChunk(ctx, s.handle, pos, c)
	}})
}

// HandleChunkUnload queues a chunk unload for the viewer if its Sink is a
// ChunkViewer.
func (s *Session) HandleChunkUnload(pos world.ChunkPos) {
	viewer, ok := s.sink.(ChunkViewer)
	if !ok {
		return
	}
	_ = s.enqueue(dispatch{name: "ViewChunkUnload", call: func(ctx context.Context) error {
		return viewer.ViewChunkUnload(ctx, s.handle, pos)
	}})
}
