package world

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/brentp/intintmap"
	"github.com/dm-vev/chunkstream/server/world/chunk"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// MaxChunkRadius is the largest radius a Loader supports.
const MaxChunkRadius = 32

// loadOrder holds the chunk offsets within MaxChunkRadius of the origin,
// sorted by distance so that the chunks closest to a viewer load first.
var loadOrder = func() []ChunkPos {
	var offsets []ChunkPos
	for x := int32(-MaxChunkRadius); x <= MaxChunkRadius; x++ {
		for z := int32(-MaxChunkRadius); z <= MaxChunkRadius; z++ {
			if x*x+z*z <= MaxChunkRadius*MaxChunkRadius {
				offsets = append(offsets, ChunkPos{x, z})
			}
		}
	}
	slices.SortStableFunc(offsets, func(a, b ChunkPos) int {
		return int(a.distanceSq(ChunkPos{}) - b.distanceSq(ChunkPos{}))
	})
	return offsets
}()

// ChunkListener is notified by a Loader about the chunks it starts and stops
// holding.
type ChunkListener interface {
	// HandleChunkLoad is called for every chunk that became visible.
	HandleChunkLoad(pos ChunkPos, c *chunk.Chunk)
	// HandleChunkUnload is called for every chunk that is no longer visible.
	HandleChunkUnload(pos ChunkPos)
}

// NopChunkListener ignores every chunk.
type NopChunkListener struct{}

func (NopChunkListener) HandleChunkLoad(ChunkPos, *chunk.Chunk) {}
func (NopChunkListener) HandleChunkUnload(ChunkPos)             {}

// Loader loads the chunks within a circular radius around a centre position
// on behalf of one viewer. Chunks are acquired from a Store in order of
// distance and released as soon as they fall outside the radius.
type Loader struct {
	store    *Store
	viewer   uuid.UUID
	radius   int32
	limiter  *rate.Limiter
	listener ChunkListener

	mu     sync.Mutex
	pos    ChunkPos
	loaded *intintmap.Map
	closed bool
}

// NewLoader creates a Loader that acquires chunks from s for viewer within
// radius chunks. At most perSecond chunks are loaded per second; a value of
// zero or less does not limit loading. listener may be nil.
func NewLoader(s *Store, viewer uuid.UUID, radius int, perSecond float64, listener ChunkListener) *Loader {
	radius = min(max(radius, 0), MaxChunkRadius)
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if listener == nil {
		listener = NopChunkListener{}
	}
	return &Loader{
		store:    s,
		viewer:   viewer,
		radius:   int32(radius),
		limiter:  rate.NewLimiter(limit, max(radius*radius, 1)),
		listener: listener,
		loaded:   intintmap.New(64, 0.6),
	}
}

// Radius returns the loading radius in chunks.
func (l *Loader) Radius() int {
	return int(l.radius)
}

// Centre returns the chunk position the Loader loads around.
func (l *Loader) Centre() ChunkPos {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos
}

// Move moves the centre of the Loader to pos. Chunks that are now outside
// the radius are released immediately; chunks that came into range are
// loaded by subsequent calls to Load.
func (l *Loader) Move(pos ChunkPos) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.pos == pos {
		return
	}
	l.pos = pos
	r := int64(l.radius) * int64(l.radius)
	for _, p := range l.positions() {
		if p.distanceSq(pos) > r {
			l.unloadLocked(p)
		}
	}
}

// Load acquires up to n chunks within the radius that are not yet loaded,
// nearest first. It returns the amount of chunks loaded. A chunk whose
// generation failed is skipped and retried by the next call; the last such
// error is returned together with the count.
func (l *Loader) Load(ctx context.Context, n int) (int, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, nil
	}
	centre := l.pos
	var queue []ChunkPos
	for _, off := range loadOrder {
		if len(queue) == n {
			break
		}
		if off.distanceSq(ChunkPos{}) > int64(l.radius)*int64(l.radius) {
			break
		}
		pos := ChunkPos{centre[0] + off[0], centre[1] + off[1]}
		if _, ok := l.loaded.Get(pos.Pack()); !ok {
			queue = append(queue, pos)
		}
	}
	l.mu.Unlock()

	var (
		count   int
		lastErr error
	)
	for _, pos := range queue {
		if !l.limiter.Allow() {
			break
		}
		c, err := l.store.Acquire(ctx, pos, l.viewer)
		if err != nil {
			if errors.Is(err, ctx.Err()) || errors.Is(err, ErrStoreClosed) {
				return count, err
			}
			lastErr = err
			continue
		}
		l.mu.Lock()
		r := int64(l.radius) * int64(l.radius)
		if l.closed || pos.distanceSq(l.pos) > r {
			// Closed or moved away while the chunk was loading.
			l.mu.Unlock()
			l.store.Release(pos, l.viewer)
			continue
		}
		if _, ok := l.loaded.Get(pos.Pack()); !ok {
			l.loaded.Put(pos.Pack(), 1)
			count++
			l.listener.HandleChunkLoad(pos, c)
		}
		l.mu.Unlock()
	}
	return count, lastErr
}

// Loaded checks if the chunk at pos is held by the Loader.
func (l *Loader) Loaded(pos ChunkPos) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loaded.Get(pos.Pack())
	return ok
}

// Chunk returns the chunk at pos if the Loader holds it.
func (l *Loader) Chunk(pos ChunkPos) (*chunk.Chunk, bool) {
	if !l.Loaded(pos) {
		return nil, false
	}
	return l.store.Chunk(pos)
}

// Visible returns the positions of all chunks held by the Loader.
func (l *Loader) Visible() []ChunkPos {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positions()
}

// Len returns the amount of chunks held by the Loader.
func (l *Loader) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded.Size()
}

// Close releases every chunk held by the Loader. Further calls to Load and
// Move do nothing.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, pos := range l.positions() {
		l.unloadLocked(pos)
	}
}

// positions collects the loaded positions. The keys are copied out before
// the caller mutates the map.
func (l *Loader) positions() []ChunkPos {
	positions := make([]ChunkPos, 0, l.loaded.Size())
	for k := range l.loaded.Keys() {
		positions = append(positions, UnpackChunkPos(k))
	}
	return positions
}

func (l *Loader) unloadLocked(pos ChunkPos) {
	l.loaded.Del(pos.Pack())
	l.store.Release(pos, l.viewer)
	l.listener.HandleChunkUnload(pos)
}
