package chunk

import (
	"errors"
	"fmt"
)

const (
	// BlocksPerSection is the amount of block entries held by a Section: 16x16x16.
	BlocksPerSection = 4096
	// BiomesPerSection is the amount of coarse 4x4x4 biome cells held by a Section.
	BiomesPerSection = 64
	// LightPerSection is the amount of light entries held by a Section. Each
	// entry covers a pair of blocks and holds a value in the range 0-15.
	LightPerSection = 2048
	// MaxLight is the highest light level a light entry can hold.
	MaxLight = 15
)

// Air is the block id that is not counted towards a section's block count.
const Air uint32 = 0

// ErrLightRange is returned when a light level outside 0-15 is written.
var ErrLightRange = errors.New("chunk: light level out of range")

// Section is a 16 block tall vertical slice of a Chunk. It holds block, biome
// and light data. The zero value is an empty section filled with air.
type Section struct {
	blocks     [BlocksPerSection]uint32
	biomes     [BiomesPerSection]uint32
	skyLight   [LightPerSection]uint8
	blockLight [LightPerSection]uint8
	blockCount uint16
}

// BlockIndex returns the index of the block at the section-relative position
// passed within the block array of a Section.
func BlockIndex(x, y, z uint8) int {
	return int(y&15)<<8 | int(z&15)<<4 | int(x&15)
}

// BiomeIndex returns the index of the 4x4x4 biome cell that holds the
// section-relative position passed.
func BiomeIndex(x, y, z uint8) int {
	return int((y&15)>>2)<<4 | int((z&15)>>2)<<2 | int((x&15)>>2)
}

// Block returns the block id at index i.
func (s *Section) Block(i int) uint32 {
	return s.blocks[i]
}

// SetBlock sets the block id at index i, keeping the block count in sync.
func (s *Section) SetBlock(i int, id uint32) {
	prev := s.blocks[i]
	if prev == id {
		return
	}
	s.blocks[i] = id
	switch {
	case prev == Air:
		s.blockCount++
	case id == Air:
		s.blockCount--
	}
}

// Fill sets every block of the section to id.
func (s *Section) Fill(id uint32) {
	for i := range s.blocks {
		s.blocks[i] = id
	}
	if id == Air {
		s.blockCount = 0
		return
	}
	s.blockCount = BlocksPerSection
}

// BlockCount returns the amount of non-air blocks in the section.
func (s *Section) BlockCount() int {
	return int(s.blockCount)
}

// Empty checks if the section holds no blocks other than air.
func (s *Section) Empty() bool {
	return s.blockCount == 0
}

// Biome returns the biome id of the cell at index i.
func (s *Section) Biome(i int) uint32 {
	return s.biomes[i]
}

// SetBiome sets the biome id of the cell at index i.
func (s *Section) SetBiome(i int, id uint32) {
	s.biomes[i] = id
}

// FillBiome sets the biome of every cell in the section.
func (s *Section) FillBiome(id uint32) {
	for i := range s.biomes {
		s.biomes[i] = id
	}
}

// SkyLight returns the sky light level of entry i.
func (s *Section) SkyLight(i int) uint8 {
	return s.skyLight[i]
}

// SetSkyLight sets the sky light level of entry i. ErrLightRange is returned
// if level exceeds MaxLight, in which case nothing is written.
func (s *Section) SetSkyLight(i int, level uint8) error {
	if level > MaxLight {
		return fmt.Errorf("%w: sky light %d", ErrLightRange, level)
	}
	s.skyLight[i] = level
	return nil
}

// BlockLight returns the block light level of entry i.
func (s *Section) BlockLight(i int) uint8 {
	return s.blockLight[i]
}

// SetBlockLight sets the block light level of entry i. ErrLightRange is
// returned if level exceeds MaxLight, in which case nothing is written.
func (s *Section) SetBlockLight(i int, level uint8) error {
	if level > MaxLight {
		return fmt.Errorf("%w: block light %d", ErrLightRange, level)
	}
	s.blockLight[i] = level
	return nil
}

// recount recalculates the block count from scratch. It is used after
// decoding, where the stored count is not trusted.
func (s *Section) recount() int {
	n := 0
	for _, b := range s.blocks {
		if b != Air {
			n++
		}
	}
	return n
}
