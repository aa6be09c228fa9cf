package world

import (
	"github.com/df-mc/goleveldb/leveldb"
	"github.com/dm-vev/chunkstream/server/world/chunk"
)

// Provider represents a value that may provide chunk data to a Store. It
// usually does the reading and writing of the world data so that the Store
// may use it.
type Provider interface {
	// LoadChunk attempts to load the chunk at the position passed. If the
	// chunk was never stored, an error matching leveldb.ErrNotFound is
	// returned.
	LoadChunk(pos ChunkPos) (*chunk.Chunk, error)
	// StoreChunk stores the chunk at the position passed, overwriting any
	// chunk previously stored there.
	StoreChunk(pos ChunkPos, c *chunk.Chunk) error
	// Close closes the provider, saving any pending data.
	Close() error
}

// NopProvider implements a Provider that does not perform any disk I/O. It
// never finds a chunk, so every chunk is generated.
type NopProvider struct{}

func (NopProvider) LoadChunk(ChunkPos) (*chunk.Chunk, error) { return nil, leveldb.ErrNotFound }
func (NopProvider) StoreChunk(ChunkPos, *chunk.Chunk) error  { return nil }
func (NopProvider) Close() error                             { return nil }
