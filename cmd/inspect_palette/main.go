// Command inspect_palette prints the block palette of a chunk stored in a
// chunkstream world: every block id found in the chunk and how often it
// occurs, per section and in total.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/dm-vev/chunkstream/server/world"
	"github.com/dm-vev/chunkstream/server/world/chunk"
	"github.com/dm-vev/chunkstream/server/world/mcdb"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

// paletteEntry is a single block id in the palette of a section.
type paletteEntry struct {
	Section int32 `nbt:"section"`
	ID      int32 `nbt:"id"`
	Count   int32 `nbt:"count"`
}

func main() {
	dir := flag.String("world", "world", "folder of the world database")
	x := flag.Int("x", 0, "chunk X coordinate")
	z := flag.Int("z", 0, "chunk Z coordinate")
	asNBT := flag.Bool("nbt", false, "write the palette as NBT to stdout")
	flag.Parse()

	db, err := mcdb.Config{Log: slog.Default()}.Open(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open world:", err)
		os.Exit(1)
	}
	defer db.Close()

	pos := world.ChunkPos{int32(*x), int32(*z)}
	c, err := db.LoadChunk(pos)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load chunk %v: %v\n", pos, err)
		os.Exit(1)
	}
	entries := palette(c)
	if *asNBT {
		if err := nbt.NewEncoder(os.Stdout).Encode(map[string]any{"palette": entries}); err != nil {
			fmt.Fprintln(os.Stderr, "encode palette:", err)
			os.Exit(1)
		}
		return
	}

	total := make(map[int32]int32)
	section := int32(-1)
	for _, e := range entries {
		if e.Section != section {
			section = e.Section
			fmt.Printf("section %d (y %d):\n", section, chunk.MinY+int(section)*16)
		}
		fmt.Printf("  %6d x %d\n", e.ID, e.Count)
		total[e.ID] += e.Count
	}
	fmt.Printf("chunk %v, %d blocks:\n", pos, c.BlockCount())
	for _, id := range slices.Sorted(maps.Keys(total)) {
		fmt.Printf("  %6d x %d\n", id, total[id])
	}
}

// palette lists the block ids of every non-empty section of c in ascending
// order. Air is left out.
func palette(c *chunk.Chunk) []paletteEntry {
	var entries []paletteEntry
	for i := range chunk.SectionCount {
		counts := make(map[uint32]int32)
		for y := range int16(16) {
			for bx := range uint8(16) {
				for bz := range uint8(16) {
					if id := c.Block(bx, int16(chunk.MinY)+int16(i)*16+y, bz); id != 0 {
						counts[id]++
					}
				}
			}
		}
		for _, id := range slices.Sorted(maps.Keys(counts)) {
			entries = append(entries, paletteEntry{Section: int32(i), ID: int32(id), Count: counts[id]})
		}
	}
	return entries
}
