package generator

// Biome ids written into chunks by the generators.
const (
	BiomeOcean          uint32 = 0
	BiomePlains         uint32 = 1
	BiomeDesert         uint32 = 2
	BiomeMountains      uint32 = 3
	BiomeForest         uint32 = 4
	BiomeTaiga          uint32 = 5
	BiomeSwamp          uint32 = 6
	BiomeRiver          uint32 = 7
	BiomeIcePlains      uint32 = 12
	BiomeBirchForest    uint32 = 27
	BiomeSmallMountains uint32 = 34
)

// biome describes how the Noise generator shapes the terrain of a biome.
type biome struct {
	id uint32
	// minElevation and maxElevation bound the surface height. They are
	// smoothed across neighbouring columns.
	minElevation, maxElevation int
	// cover is placed on top of the stone, top block first.
	cover []uint32
	// tallGrass is the base number of tall grass placement attempts per
	// chunk.
	tallGrass int
}

var (
	grassCover = []uint32{BlockGrass, BlockDirt, BlockDirt, BlockDirt}
	sandCover  = []uint32{BlockSand, BlockSand, BlockSand}
	snowCover  = []uint32{BlockSnow, BlockGrass, BlockDirt, BlockDirt}

	biomeOcean          = biome{BiomeOcean, 46, 58, sandCover, 5}
	biomePlains         = biome{BiomePlains, 63, 68, grassCover, 12}
	biomeDesert         = biome{BiomeDesert, 63, 74, sandCover, 0}
	biomeMountains      = biome{BiomeMountains, 63, 127, nil, 0}
	biomeSmallMountains = biome{BiomeSmallMountains, 63, 97, grassCover, 0}
	biomeForest         = biome{BiomeForest, 63, 81, grassCover, 3}
	biomeBirchForest    = biome{BiomeBirchForest, 60, 70, grassCover, 0}
	biomeTaiga          = biome{BiomeTaiga, 63, 81, snowCover, 1}
	biomeSwamp          = biome{BiomeSwamp, 62, 63, grassCover, 0}
	biomeRiver          = biome{BiomeRiver, 58, 62, sandCover, 5}
	biomeIcePlains      = biome{BiomeIcePlains, 63, 74, snowCover, 5}
)

// selectBiome picks a biome from the temperature and rainfall at a column,
// both in the range [0, 1).
func selectBiome(temperature, rainfall float64) biome {
	switch {
	case rainfall < 0.25:
		if temperature < 0.7 {
			return biomeOcean
		} else if temperature < 0.85 {
			return biomeRiver
		}
		return biomeSwamp
	case rainfall < 0.6:
		if temperature < 0.25 {
			return biomeIcePlains
		} else if temperature < 0.75 {
			return biomePlains
		}
		return biomeDesert
	case rainfall < 0.8:
		if temperature < 0.25 {
			return biomeTaiga
		} else if temperature < 0.75 {
			return biomeForest
		}
		return biomeBirchForest
	default:
		if temperature < 0.2 {
			return biomeMountains
		} else if temperature < 0.4 {
			return biomeSmallMountains
		}
		return biomeRiver
	}
}
