package generator

import (
	"github.com/dm-vev/chunkstream/server/world"
	"github.com/dm-vev/chunkstream/server/world/chunk"
)

// StubSection is the index of the section Stub fills with blocks.
const StubSection = 10

// Stub generates a fixed placeholder chunk that ignores both position and
// seed: biome 1 everywhere, a light ramp of i%16 in every light entry and a
// single section filled with BlockPlaceholder.
type Stub struct{}

// GenerateChunk ...
func (Stub) GenerateChunk(_ world.ChunkPos, _ int64, c *chunk.Chunk) error {
	for i := range chunk.SectionCount {
		s := c.Section(i)
		s.FillBiome(1)
		for j := range chunk.LightPerSection {
			level := uint8(j % (chunk.MaxLight + 1))
			_ = s.SetSkyLight(j, level)
			_ = s.SetBlockLight(j, level)
		}
	}
	c.Section(StubSection).Fill(BlockPlaceholder)
	return nil
}
