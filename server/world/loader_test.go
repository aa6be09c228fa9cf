package world

import (
	"context"
	"sync"
	"testing"

	"github.com/dm-vev/chunkstream/server/world/chunk"
	"github.com/google/uuid"
)

// recordingListener records the chunk events of a Loader.
type recordingListener struct {
	mu       sync.Mutex
	loaded   []ChunkPos
	unloaded []ChunkPos
}

func (r *recordingListener) HandleChunkLoad(pos ChunkPos, _ *chunk.Chunk) {
	r.mu.Lock()
	r.loaded = append(r.loaded, pos)
	r.mu.Unlock()
}

func (r *recordingListener) HandleChunkUnload(pos ChunkPos) {
	r.mu.Lock()
	r.unloaded = append(r.unloaded, pos)
	r.mu.Unlock()
}

func TestLoaderLoadsNearestFirst(t *testing.T) {
	s := newTestStore(t, Config{})
	listener := &recordingListener{}
	loader := NewLoader(s, uuid.New(), 2, 0, listener)
	loader.Move(ChunkPos{10, 10})

	n, err := loader.Load(context.Background(), 1)
	if err != nil || n != 1 {
		t.Fatalf("expected one chunk loaded, got %d (%v)", n, err)
	}
	if listener.loaded[0] != (ChunkPos{10, 10}) {
		t.Fatalf("expected centre chunk first, got %v", listener.loaded[0])
	}
	n, err = loader.Load(context.Background(), 64)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// x*x+z*z <= 4 holds for 13 offsets.
	if n != 12 || loader.Len() != 13 {
		t.Fatalf("expected 13 chunks in radius 2, got %d", loader.Len())
	}
	if !loader.Loaded(ChunkPos{12, 10}) || loader.Loaded(ChunkPos{12, 11}) {
		t.Fatalf("expected a circular radius")
	}
	if _, ok := loader.Chunk(ChunkPos{9, 10}); !ok {
		t.Fatalf("expected loaded chunk to be readable through the loader")
	}
	if got := s.Viewers(ChunkPos{10, 10}); got != 1 {
		t.Fatalf("expected loader to hold a reference, got %d", got)
	}
}

func TestLoaderReleasesChunksOutsideRadius(t *testing.T) {
	s := newTestStore(t, Config{})
	listener := &recordingListener{}
	loader := NewLoader(s, uuid.New(), 1, 0, listener)
	if _, err := loader.Load(context.Background(), 16); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loader.Len() != 5 {
		t.Fatalf("expected 5 chunks in radius 1, got %d", loader.Len())
	}

	loader.Move(ChunkPos{1, 0})
	// (-1, 0), (0, 1) and (0, -1) are now more than one chunk away.
	if len(listener.unloaded) != 3 {
		t.Fatalf("expected 3 chunks unloaded, got %v", listener.unloaded)
	}
	if s.Viewers(ChunkPos{-1, 0}) != 0 {
		t.Fatalf("expected chunk outside the radius to be released")
	}
	if !loader.Loaded(ChunkPos{0, 0}) {
		t.Fatalf("chunk still in range must stay loaded")
	}

	loader.Close()
	if loader.Len() != 0 || s.Viewers(ChunkPos{1, 0}) != 0 {
		t.Fatalf("expected close to release every chunk")
	}
	if n, _ := loader.Load(context.Background(), 16); n != 0 {
		t.Fatalf("closed loader must not load chunks")
	}
}

func TestLoaderRateLimit(t *testing.T) {
	s := newTestStore(t, Config{})
	// Burst is radius*radius = 4, refilled at one chunk per second.
	loader := NewLoader(s, uuid.New(), 2, 1, nil)
	n, _ := loader.Load(context.Background(), 64)
	if n != 4 {
		t.Fatalf("expected the limiter to allow a burst of 4 chunks, got %d", n)
	}
}

func TestChunkPosPacking(t *testing.T) {
	for _, pos := range []ChunkPos{{0, 0}, {-1, 1}, {1 << 30, -(1 << 30)}, {-5, -7}} {
		if got := UnpackChunkPos(pos.Pack()); got != pos {
			t.Fatalf("expected %v, got %v", pos, got)
		}
	}
}
