package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dm-vev/chunkstream/server/entity"
	"github.com/dm-vev/chunkstream/server/world"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// CloseReason is the disconnect reason sent to every session when the
// Synchronizer is closed.
const CloseReason = "disconnectionScreen.serverClosed"

// Synchronizer keeps the sessions of all connected viewers in sync with an
// entity.Registry. A Synchronizer is created through Config.New.
type Synchronizer struct {
	conf     Config
	log      *slog.Logger
	registry *entity.Registry

	// tickMu serialises ticks with each other and with registry removals, so
	// that a removal is never overtaken by a tick computed from an older
	// snapshot.
	tickMu sync.Mutex

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	closed   bool

	dispatched, failed atomic.Uint64
}

var _ entity.RemoveListener = (*Synchronizer)(nil)

// Stats holds counters of a Synchronizer.
type Stats struct {
	Sessions   int
	Dispatched uint64
	Failed     uint64
}

// Connect creates a Session for a viewer that is reached through the Sink and
// Handle passed. The entity of the viewer is added to the Registry and the
// viewer is sent its spawn position.
func (sy *Synchronizer) Connect(h Handle, sink Sink, opts Options) (*Session, error) {
	if sink == nil {
		return nil, errors.New("connect: nil sink")
	}
	if !entity.ValidPosition(opts.Position) {
		return nil, fmt.Errorf("connect at %v: %w", opts.Position, entity.ErrInvalidPosition)
	}
	rot := entity.RotationFromDegrees(opts.Rotation[0], opts.Rotation[1])
	id := opts.EntityID
	var err error
	if id == 0 {
		id, err = sy.registry.Spawn(opts.Position, rot, false)
	} else {
		err = sy.registry.Add(id, opts.Position, rot, false)
	}
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	s := &Session{
		sync:       sy,
		id:         uuid.New(),
		name:       opts.Name,
		handle:     h,
		sink:       sink,
		selfID:     id,
		rng:        sy.conf.EntityRange,
		known:      orderedmap.NewOrderedMap[int32, *EntityView](),
		pos:        opts.Position,
		rot:        opts.Rotation,
		outbox:     make(chan []dispatch, sy.conf.OutboxSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	if opts.EntityRange > 0 {
		s.rng = opts.EntityRange
	}
	s.log = sy.log.With("session", s.id.String(), "name", s.name)
	if sy.conf.Store != nil {
		radius := sy.conf.ChunkRadius
		if opts.ChunkRadius > 0 {
			radius = min(opts.ChunkRadius, sy.conf.MaxChunkRadius)
		}
		s.loader = world.NewLoader(sy.conf.Store, s.id, radius, sy.conf.ChunkLoadRate, s)
		s.loader.Move(world.ChunkPosFromVec3(opts.Position))
	}

	sy.mu.Lock()
	if sy.closed {
		sy.mu.Unlock()
		_ = sy.registry.Remove(id)
		return nil, ErrSessionClosed
	}
	sy.sessions[s.id] = s
	sy.mu.Unlock()

	go s.writeLoop()
	s.log.Info("Session connected.", "entity", id, "pos", opts.Position)

	if _, err := s.requestTeleport(opts.Position, opts.Rotation); err != nil {
		_ = s.Close("")
		return nil, fmt.Errorf("connect: %w", err)
	}
	return s, nil
}

// disconnect closes s. It returns false if s was already closed. The writer
// of the session is stopped first, waiting for a call in flight, after which
// the disconnect is the last call made to the Sink.
func (sy *Synchronizer) disconnect(s *Session, reason string) bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}
	sy.mu.Lock()
	delete(sy.sessions, s.id)
	sy.mu.Unlock()

	close(s.done)
	<-s.writerDone

	if reason != "" && !s.hung.Load() {
		if _, err := s.call(dispatch{name: "SendDisconnect", call: func(ctx context.Context) error {
			return s.sink.SendDisconnect(ctx, s.handle, reason)
		}}); err != nil {
			s.log.Debug("send disconnect: " + err.Error())
		}
	}
	if s.loader != nil {
		s.loader.Close()
	}
	s.mu.Lock()
	s.known = orderedmap.NewOrderedMap[int32, *EntityView]()
	s.pendingRemoves, s.pending = nil, nil
	s.mu.Unlock()

	if err := sy.registry.Remove(s.selfID); err != nil {
		s.log.Debug("remove player entity: " + err.Error())
	}
	s.log.Info("Session closed.", "reason", reason)
	return true
}

// Tick updates every session to a new snapshot of the Registry. Sessions are
// updated concurrently; the updates of a single session are queued in
// order.
func (sy *Synchronizer) Tick(ctx context.Context) error {
	sy.tickMu.Lock()
	defer sy.tickMu.Unlock()

	snap := sy.registry.Snapshot()
	ids := snap.IDs()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sy.conf.Parallelism)
	for _, s := range sy.Sessions() {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.syncEntities(snap, ids); err != nil && !errors.Is(err, ErrSessionClosed) {
				s.log.Debug("sync entities: " + err.Error())
			}
			return nil
		})
	}
	return g.Wait()
}

// LoadChunks loads up to n chunks for every session that uses a chunk
// loader and returns the total amount loaded. Chunks that failed to generate
// are retried by the next call.
func (sy *Synchronizer) LoadChunks(ctx context.Context, n int) (int, error) {
	var total atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sy.conf.Parallelism)
	for _, s := range sy.Sessions() {
		if s.loader == nil {
			continue
		}
		g.Go(func() error {
			count, err := s.loader.Load(ctx, n)
			total.Add(int64(count))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Debug("load chunks: " + err.Error())
			}
			return nil
		})
	}
	err := g.Wait()
	return int(total.Load()), err
}

// HandleEntityRemove drops a removed entity from the view of every session.
// It waits for a running tick to finish.
func (sy *Synchronizer) HandleEntityRemove(id int32) {
	sy.tickMu.Lock()
	defer sy.tickMu.Unlock()
	for _, s := range sy.Sessions() {
		s.forget(id)
	}
}

// Sessions returns all open sessions.
func (sy *Synchronizer) Sessions() []*Session {
	sy.mu.RLock()
	defer sy.mu.RUnlock()
	return slices.Collect(maps.Values(sy.sessions))
}

// Session looks up an open session by its id.
func (sy *Synchronizer) Session(id uuid.UUID) (*Session, bool) {
	sy.mu.RLock()
	defer sy.mu.RUnlock()
	s, ok := sy.sessions[id]
	return s, ok
}

// SessionByName looks up an open session by name, ignoring case.
func (sy *Synchronizer) SessionByName(name string) (*Session, bool) {
	sy.mu.RLock()
	defer sy.mu.RUnlock()
	for _, s := range sy.sessions {
		if strings.EqualFold(s.name, name) {
			return s, true
		}
	}
	return nil, false
}

// Len returns the amount of open sessions.
func (sy *Synchronizer) Len() int {
	sy.mu.RLock()
	defer sy.mu.RUnlock()
	return len(sy.sessions)
}

// Registry returns the Registry the Synchronizer reads from.
func (sy *Synchronizer) Registry() *entity.Registry {
	return sy.registry
}

// Stats returns the counters of the Synchronizer.
func (sy *Synchronizer) Stats() Stats {
	return Stats{Sessions: sy.Len(), Dispatched: sy.dispatched.Load(), Failed: sy.failed.Load()}
}

// Close disconnects every session. Connect fails after Close was called.
func (sy *Synchronizer) Close() error {
	sy.mu.Lock()
	sy.closed = true
	sy.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sy.Sessions() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Close(CloseReason)
		}()
	}
	wg.Wait()
	return nil
}
