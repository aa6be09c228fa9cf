package generator

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/dm-vev/chunkstream/server/world"
	"github.com/dm-vev/chunkstream/server/world/chunk"
)

func generate(t *testing.T, g world.Generator, pos world.ChunkPos, seed int64) *chunk.Chunk {
	t.Helper()
	c := chunk.New()
	if err := g.GenerateChunk(pos, seed, c); err != nil {
		t.Fatalf("generate %v: %v", pos, err)
	}
	return c
}

func TestStubLayout(t *testing.T) {
	c := generate(t, Stub{}, world.ChunkPos{4, 2}, 99)
	for i := range chunk.SectionCount {
		s := c.Section(i)
		if s.Biome(0) != 1 || s.Biome(chunk.BiomesPerSection-1) != 1 {
			t.Fatalf("section %d: expected biome 1 everywhere", i)
		}
		for _, j := range []int{0, 15, 16, 17, 2047} {
			if got := s.SkyLight(j); got != uint8(j%16) {
				t.Fatalf("section %d: expected sky light %d at %d, got %d", i, j%16, j, got)
			}
			if got := s.BlockLight(j); got != uint8(j%16) {
				t.Fatalf("section %d: expected block light %d at %d, got %d", i, j%16, j, got)
			}
		}
		want := 0
		if i == StubSection {
			want = chunk.BlocksPerSection
		}
		if s.BlockCount() != want {
			t.Fatalf("section %d: expected %d blocks, got %d", i, want, s.BlockCount())
		}
	}
	if !c.Equal(generate(t, Stub{}, world.ChunkPos{-100, 7}, 1)) {
		t.Fatalf("stub chunks must not depend on position or seed")
	}
}

func TestFlatLayers(t *testing.T) {
	c := generate(t, DefaultFlat(), world.ChunkPos{}, 0)
	want := []uint32{BlockBedrock, BlockDirt, BlockDirt, BlockGrass, chunk.Air}
	for i, id := range want {
		if got := c.Block(5, int16(chunk.MinY+i), 9); got != id {
			t.Fatalf("y %d: expected block %d, got %d", chunk.MinY+i, id, got)
		}
	}
	if got := c.BlockCount(); got != 4*256 {
		t.Fatalf("expected 4 layers of blocks, got %d", got)
	}
	if c.Modified() {
		t.Fatalf("generated chunks must not be marked modified")
	}
}

func TestNoiseDeterministic(t *testing.T) {
	g := NewNoise()
	pos := world.ChunkPos{12, -3}
	a, b := generate(t, g, pos, 42), generate(t, g, pos, 42)
	if !a.Equal(b) {
		t.Fatalf("expected identical chunks for the same seed")
	}
	differs := false
	for _, p := range []world.ChunkPos{{0, 0}, {40, 40}, {-80, 13}} {
		if !generate(t, g, p, 1).Equal(generate(t, g, p, 2)) {
			differs = true
		}
	}
	if !differs {
		t.Fatalf("expected different seeds to produce different terrain")
	}
}

func TestNoiseTerrain(t *testing.T) {
	g := NewNoise()
	c := generate(t, g, world.ChunkPos{7, 7}, 5)
	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			if c.Block(x, chunk.MinY, z) != BlockBedrock {
				t.Fatalf("expected bedrock floor at %d, %d", x, z)
			}
			top := c.HighestBlock(x, z)
			if top < 45 || top > 127 {
				t.Fatalf("surface at %d, %d out of biome elevation range: %d", x, z, top)
			}
			if top < g.WaterLevel {
				t.Fatalf("expected water up to the water level at %d, %d", x, z)
			}
		}
	}
}

func TestPopulatePlacesOresAndGrass(t *testing.T) {
	c := chunk.New()
	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			for y := int16(chunk.MinY + 1); y < 64; y++ {
				c.SetBlock(x, y, z, BlockStone)
			}
			c.SetBlock(x, 64, z, BlockGrass)
		}
	}
	populate(c, rand.New(rand.NewPCG(1, 2)), biomePlains)

	counts := make(map[uint32]int)
	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			for y := int16(chunk.MinY); y <= chunk.MaxY; y++ {
				id := c.Block(x, y, z)
				counts[id]++
				if id == BlockTallGrass && y != 65 {
					t.Fatalf("expected tall grass only on top of grass, got it at y %d", y)
				}
				if y > 65 && id != chunk.Air {
					t.Fatalf("expected only air above the surface, got %d at y %d", id, y)
				}
			}
			if c.Block(x, 64, z) != BlockGrass {
				t.Fatalf("expected grass to stay at %d, %d", x, z)
			}
		}
	}
	if counts[BlockCoalOre] == 0 || counts[BlockIronOre] == 0 {
		t.Fatalf("expected coal and iron veins, got %v", counts)
	}
	if counts[BlockTallGrass] == 0 {
		t.Fatal("expected tall grass in plains")
	}
}

func TestSelectBiome(t *testing.T) {
	cases := []struct {
		temperature, rainfall float64
		want                  uint32
	}{
		{0.1, 0.1, BiomeOcean},
		{0.9, 0.1, BiomeSwamp},
		{0.5, 0.5, BiomePlains},
		{0.9, 0.5, BiomeDesert},
		{0.1, 0.7, BiomeTaiga},
		{0.1, 0.9, BiomeMountains},
	}
	for _, c := range cases {
		if got := selectBiome(c.temperature, c.rainfall).id; got != c.want {
			t.Fatalf("temperature %v rainfall %v: expected biome %d, got %d", c.temperature, c.rainfall, c.want, got)
		}
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"stub", "FLAT", "noise", "void"} {
		if _, err := ByName(name); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	if _, err := ByName("amplified"); !errors.Is(err, ErrUnknownGenerator) {
		t.Fatalf("expected ErrUnknownGenerator, got %v", err)
	}
}
