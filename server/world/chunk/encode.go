package chunk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrCorrupt is returned by Decode when the data passed is not a valid
// encoded chunk.
var ErrCorrupt = errors.New("chunk: corrupt data")

var magic = [4]byte{'C', 'S', 'C', '1'}

// Encode serialises the chunk into a fixed little-endian layout: a magic
// header, the section count and every section's block count, blocks, biomes,
// sky light and block light in that order.
func Encode(c *Chunk) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 5+SectionCount*(2+BlocksPerSection*4+BiomesPerSection*4+LightPerSection*2)))
	buf.Write(magic[:])
	buf.WriteByte(SectionCount)
	for i := range c.sections {
		s := &c.sections[i]
		_ = binary.Write(buf, binary.LittleEndian, s.blockCount)
		_ = binary.Write(buf, binary.LittleEndian, s.blocks[:])
		_ = binary.Write(buf, binary.LittleEndian, s.biomes[:])
		buf.Write(s.skyLight[:])
		buf.Write(s.blockLight[:])
	}
	return buf.Bytes()
}

// Decode parses data produced by Encode. The returned chunk is not marked
// modified.
func Decode(data []byte) (*Chunk, error) {
	r := bytes.NewReader(data)
	var head [5]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrCorrupt, err)
	}
	if [4]byte(head[:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, head[:4])
	}
	if head[4] != SectionCount {
		return nil, fmt.Errorf("%w: expected %d sections, got %d", ErrCorrupt, SectionCount, head[4])
	}
	c := New()
	for i := range c.sections {
		s := &c.sections[i]
		var count uint16
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, fmt.Errorf("%w: section %d count: %v", ErrCorrupt, i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, s.blocks[:]); err != nil {
			return nil, fmt.Errorf("%w: section %d blocks: %v", ErrCorrupt, i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, s.biomes[:]); err != nil {
			return nil, fmt.Errorf("%w: section %d biomes: %v", ErrCorrupt, i, err)
		}
		if _, err := io.ReadFull(r, s.skyLight[:]); err != nil {
			return nil, fmt.Errorf("%w: section %d sky light: %v", ErrCorrupt, i, err)
		}
		if _, err := io.ReadFull(r, s.blockLight[:]); err != nil {
			return nil, fmt.Errorf("%w: section %d block light: %v", ErrCorrupt, i, err)
		}
		for j := range s.skyLight {
			if s.skyLight[j] > MaxLight || s.blockLight[j] > MaxLight {
				return nil, fmt.Errorf("%w: section %d light entry %d out of range", ErrCorrupt, i, j)
			}
		}
		if n := s.recount(); n != int(count) {
			return nil, fmt.Errorf("%w: section %d block count %d does not match %d blocks", ErrCorrupt, i, count, n)
		}
		s.blockCount = count
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.Len())
	}
	return c, nil
}
