package world

import "github.com/dm-vev/chunkstream/server/world/chunk"

// Generator handles the generation of chunks. It fills the empty chunk passed
// with the contents of the chunk at pos. Implementations must be
// deterministic for a given seed and must not retain c after returning.
type Generator interface {
	// GenerateChunk generates a chunk at a chunk position passed. The
	// generator sets blocks in the chunk that is passed to the method.
	GenerateChunk(pos ChunkPos, seed int64, c *chunk.Chunk) error
}

// NopGenerator is the default generator a Store uses. It leaves every chunk
// empty.
type NopGenerator struct{}

// GenerateChunk ...
func (NopGenerator) GenerateChunk(ChunkPos, int64, *chunk.Chunk) error { return nil }

// GeneratorFunc adapts an ordinary function to the Generator interface.
type GeneratorFunc func(pos ChunkPos, seed int64, c *chunk.Chunk) error

// GenerateChunk calls f(pos, seed, c).
func (f GeneratorFunc) GenerateChunk(pos ChunkPos, seed int64, c *chunk.Chunk) error {
	return f(pos, seed, c)
}
