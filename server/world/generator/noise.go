package generator

import (
	"encoding/binary"
	"math"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
	"github.com/dm-vev/chunkstream/server/world"
	"github.com/dm-vev/chunkstream/server/world/chunk"
)

// smoothSize is the radius of the gaussian kernel used to blend the
// elevation of neighbouring biomes.
const smoothSize = 2

var gaussianKernel = func() [2*smoothSize + 1][2*smoothSize + 1]float64 {
	var k [2*smoothSize + 1][2*smoothSize + 1]float64
	for x := -smoothSize; x <= smoothSize; x++ {
		for z := -smoothSize; z <= smoothSize; z++ {
			k[x+smoothSize][z+smoothSize] = 10 / math.Sqrt(float64(x*x+z*z)+0.2) / 2.5
		}
	}
	return k
}()

// Noise generates hilly terrain with biomes. Biomes are picked from
// temperature and rainfall value noise, the surface height follows a height
// noise bounded by the elevation of the surrounding biomes. Generated chunks
// are populated with ore veins and tall grass.
type Noise struct {
	// WaterLevel is the Y up to which empty space below the surface is
	// filled with water.
	WaterLevel int16
}

// NewNoise returns a Noise generator with the water level at Y 62.
func NewNoise() Noise {
	return Noise{WaterLevel: 62}
}

// Salts separating the noise channels derived from one seed.
const (
	saltHeight uint64 = iota + 1
	saltTemperature
	saltRainfall
	saltJitter
	saltPopulate
)

// GenerateChunk ...
func (n Noise) GenerateChunk(pos world.ChunkPos, seed int64, c *chunk.Chunk) error {
	baseX, baseZ := int64(pos[0])*16, int64(pos[1])*16

	var heights [16][16]int16
	biomes := make(map[[2]int64]biome, 20*20)
	biomeAt := func(x, z int64) biome {
		if b, ok := biomes[[2]int64{x, z}]; ok {
			return b
		}
		b := pickBiome(seed, x, z)
		biomes[[2]int64{x, z}] = b
		return b
	}

	for x := int64(0); x < 16; x++ {
		for z := int64(0); z < 16; z++ {
			wx, wz := baseX+x, baseZ+z
			var minSum, maxSum, weightSum float64
			for sx := int64(-smoothSize); sx <= smoothSize; sx++ {
				for sz := int64(-smoothSize); sz <= smoothSize; sz++ {
					weight := gaussianKernel[sx+smoothSize][sz+smoothSize]
					adjacent := biomeAt(wx+sx, wz+sz)
					minSum += float64(adjacent.minElevation-1) * weight
					maxSum += float64(adjacent.maxElevation) * weight
					weightSum += weight
				}
			}
			minSum /= weightSum
			maxSum /= weightSum

			h := valueNoise(seed, saltHeight, float64(wx)/24, float64(wz)/24)
			height := int16(minSum + (maxSum-minSum)*h)
			heights[x][z] = min(height, chunk.MaxY)
			n.fillColumn(c, uint8(x), uint8(z), heights[x][z], biomeAt(wx, wz))
		}
	}
	r := rand.New(rand.NewPCG(hash(seed, saltPopulate, int64(pos[0]), int64(pos[1])), uint64(seed)))
	populate(c, r, biomeAt(baseX+7, baseZ+7))

	lightAbove(c, func(x, z uint8) int16 {
		return max(heights[x][z], heights[x+1][z], n.WaterLevel)
	})
	c.MarkClean()
	return nil
}

// fillColumn writes the blocks and biome of a single column.
func (n Noise) fillColumn(c *chunk.Chunk, x, z uint8, height int16, b biome) {
	c.SetBlock(x, chunk.MinY, z, BlockBedrock)
	for y := int16(chunk.MinY + 1); y <= height; y++ {
		c.SetBlock(x, y, z, BlockStone)
	}
	for i, id := range b.cover {
		y := height - int16(i)
		if y <= chunk.MinY {
			break
		}
		if height < n.WaterLevel && id == BlockGrass {
			// Grass does not grow under water.
			id = BlockDirt
		}
		c.SetBlock(x, y, z, id)
	}
	for y := height + 1; y <= n.WaterLevel; y++ {
		c.SetBlock(x, y, z, BlockWater)
	}
	if x%4 == 0 && z%4 == 0 {
		for i := range chunk.SectionCount {
			s := c.Section(i)
			for y := uint8(0); y < 16; y += 4 {
				s.SetBiome(chunk.BiomeIndex(x, y, z), b.id)
			}
		}
	}
}

// pickBiome returns the biome at a world column. The column is jittered by
// up to one block so that biome borders are not perfectly straight.
func pickBiome(seed int64, x, z int64) biome {
	jitter := hash(seed, saltJitter, x, z)
	x += int64(jitter>>20&3) - 1
	z += int64(jitter>>22&3) - 1
	temperature := valueNoise(seed, saltTemperature, float64(x)/256, float64(z)/256)
	rainfall := valueNoise(seed, saltRainfall, float64(x)/256, float64(z)/256)
	return selectBiome(temperature, rainfall)
}

// valueNoise returns smoothed lattice noise in [0, 1) at x, z. Lattice
// values are derived from the seed, salt and lattice coordinates only.
func valueNoise(seed int64, salt uint64, x, z float64) float64 {
	x0, z0 := math.Floor(x), math.Floor(z)
	fx, fz := smoothstep(x-x0), smoothstep(z-z0)
	ix, iz := int64(x0), int64(z0)

	v00 := unit(hash(seed, salt, ix, iz))
	v10 := unit(hash(seed, salt, ix+1, iz))
	v01 := unit(hash(seed, salt, ix, iz+1))
	v11 := unit(hash(seed, salt, ix+1, iz+1))

	top := v00 + (v10-v00)*fx
	bottom := v01 + (v11-v01)*fx
	return top + (bottom-top)*fz
}

func smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}

// unit maps a hash to [0, 1) using its top 53 bits.
func unit(h uint64) float64 {
	return float64(h>>11) / (1 << 53)
}

func hash(seed int64, salt uint64, x, z int64) uint64 {
	var b [32]byte
	binary.LittleEndian.PutUint64(b[0:], uint64(seed))
	binary.LittleEndian.PutUint64(b[8:], salt)
	binary.LittleEndian.PutUint64(b[16:], uint64(x))
	binary.LittleEndian.PutUint64(b[24:], uint64(z))
	return xxhash.Sum64(b[:])
}
