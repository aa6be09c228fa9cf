package generator

import (
	"github.com/dm-vev/chunkstream/server/world"
	"github.com/dm-vev/chunkstream/server/world/chunk"
)

// Layer is a horizontal layer of a Flat world.
type Layer struct {
	Block  uint32
	Height int
}

// Flat generates flat terrain made of Layers stacked from the bottom of the
// chunk upwards.
type Flat struct {
	Layers []Layer
	Biome  uint32
}

// DefaultFlat returns a Flat generator with a bedrock floor, two layers of
// dirt and a grass surface in plains.
func DefaultFlat() Flat {
	return Flat{
		Layers: []Layer{{BlockBedrock, 1}, {BlockDirt, 2}, {BlockGrass, 1}},
		Biome:  BiomePlains,
	}
}

// GenerateChunk ...
func (f Flat) GenerateChunk(_ world.ChunkPos, _ int64, c *chunk.Chunk) error {
	y := int16(chunk.MinY)
	for _, l := range f.Layers {
		for range l.Height {
			if !chunk.InRange(y) {
				break
			}
			for x := uint8(0); x < 16; x++ {
				for z := uint8(0); z < 16; z++ {
					c.SetBlock(x, y, z, l.Block)
				}
			}
			y++
		}
	}
	for i := range chunk.SectionCount {
		c.Section(i).FillBiome(f.Biome)
	}
	lightAbove(c, func(uint8, uint8) int16 { return y - 1 })
	c.MarkClean()
	return nil
}

// lightAbove sets full sky light for every light entry above the surface
// height returned by surface for a column.
func lightAbove(c *chunk.Chunk, surface func(x, z uint8) int16) {
	for x := uint8(0); x < 16; x += 2 {
		for z := uint8(0); z < 16; z++ {
			top := surface(x, z)
			for y := top + 1; y <= chunk.MaxY; y++ {
				s := c.Section(chunk.SectionIndex(y))
				_ = s.SetSkyLight(chunk.BlockIndex(x, uint8(y-chunk.MinY), z)>>1, chunk.MaxLight)
			}
		}
	}
}
