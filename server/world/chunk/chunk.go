// Package chunk implements the block, biome and light storage of a single
// chunk column. It holds no behaviour beyond keeping its own counters in sync.
package chunk

const (
	// SectionCount is the amount of sections stacked in a Chunk.
	SectionCount = 24
	// MinY is the lowest block Y coordinate of a Chunk.
	MinY = -64
	// MaxY is the highest block Y coordinate of a Chunk.
	MaxY = MinY + SectionCount*16 - 1
)

// Chunk is a 16x384x16 column of blocks split up into 24 sections.
type Chunk struct {
	sections [SectionCount]Section
	modified bool
}

// New returns an empty Chunk filled with air.
func New() *Chunk {
	return &Chunk{}
}

// Section returns the section at index i, counted from the bottom.
func (c *Chunk) Section(i int) *Section {
	return &c.sections[i]
}

// SectionIndex returns the index of the section that contains the block Y
// coordinate passed.
func SectionIndex(y int16) int {
	return int(y-MinY) >> 4
}

// InRange checks if y lies within the vertical range of a Chunk.
func InRange(y int16) bool {
	return y >= MinY && y <= MaxY
}

// Block returns the block id at the chunk-relative x and z and world y. Air
// is returned for y out of range.
func (c *Chunk) Block(x uint8, y int16, z uint8) uint32 {
	if !InRange(y) {
		return Air
	}
	return c.sections[SectionIndex(y)].Block(BlockIndex(x, uint8(y-MinY), z))
}

// SetBlock sets the block id at the chunk-relative x and z and world y and
// marks the chunk modified. Writes out of range are ignored.
func (c *Chunk) SetBlock(x uint8, y int16, z uint8, id uint32) {
	if !InRange(y) {
		return
	}
	c.sections[SectionIndex(y)].SetBlock(BlockIndex(x, uint8(y-MinY), z), id)
	c.modified = true
}

// Biome returns the biome id of the cell holding the block position passed.
func (c *Chunk) Biome(x uint8, y int16, z uint8) uint32 {
	if !InRange(y) {
		return 0
	}
	return c.sections[SectionIndex(y)].Biome(BiomeIndex(x, uint8(y-MinY), z))
}

// HighestBlock returns the Y of the highest non-air block at x, z, or MinY-1
// if the column is empty.
func (c *Chunk) HighestBlock(x uint8, z uint8) int16 {
	for i := SectionCount - 1; i >= 0; i-- {
		s := &c.sections[i]
		if s.Empty() {
			continue
		}
		for y := 15; y >= 0; y-- {
			if s.Block(BlockIndex(x, uint8(y), z)) != Air {
				return int16(MinY + i*16 + y)
			}
		}
	}
	return MinY - 1
}

// BlockCount returns the amount of non-air blocks across all sections.
func (c *Chunk) BlockCount() int {
	n := 0
	for i := range c.sections {
		n += c.sections[i].BlockCount()
	}
	return n
}

// Modified reports if the chunk was changed through SetBlock since it was
// created or last marked clean.
func (c *Chunk) Modified() bool {
	return c.modified
}

// MarkClean clears the modified flag, typically after the chunk was saved.
func (c *Chunk) MarkClean() {
	c.modified = false
}

// MarkModified forces the chunk to be considered modified.
func (c *Chunk) MarkModified() {
	c.modified = true
}

// Clone returns a deep copy of the chunk.
func (c *Chunk) Clone() *Chunk {
	cp := *c
	return &cp
}

// Equal checks if two chunks hold identical block, biome and light data.
func (c *Chunk) Equal(o *Chunk) bool {
	return c.sections == o.sections
}
