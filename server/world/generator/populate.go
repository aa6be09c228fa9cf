package generator

import (
	"math"
	"math/rand/v2"

	"github.com/dm-vev/chunkstream/server/world/chunk"
)

// oreVein describes clusters of a block that replace stone.
type oreVein struct {
	material       uint32
	clusters, size int
	minY, maxY     int
}

var oreVeins = []oreVein{
	{BlockCoalOre, 20, 16, 0, 128},
	{BlockIronOre, 20, 8, 0, 64},
	{BlockLapisOre, 1, 6, 0, 32},
	{BlockGoldOre, 2, 8, 0, 32},
	{BlockDiamondOre, 1, 7, 0, 16},
	{BlockDirt, 20, 32, 0, 128},
	{BlockGravel, 10, 16, 0, 128},
}

// populate decorates a generated chunk with ore veins and the tall grass of
// its centre biome. Populators only touch blocks inside the chunk, so the
// result does not depend on the order chunks are generated in.
func populate(c *chunk.Chunk, r *rand.Rand, b biome) {
	for _, v := range oreVeins {
		for range v.clusters {
			x := float64(r.IntN(16))
			y := float64(v.minY + r.IntN(v.maxY-v.minY))
			z := float64(r.IntN(16))
			if c.Block(uint8(x), int16(y), uint8(z)) == BlockStone {
				v.place(c, r, x, y, z)
			}
		}
	}
	placeTallGrass(c, r, b.tallGrass)
}

// place carves an ellipsoid cluster of the vein's material along a random
// horizontal line through x, y, z.
func (v oreVein) place(c *chunk.Chunk, r *rand.Rand, x, y, z float64) {
	size := float64(v.size)
	angle := r.Float64() * math.Pi
	dx, dz := math.Cos(angle)*size/8, math.Sin(angle)*size/8
	x1, x2 := x+dx, x-dx
	z1, z2 := z+dz, z-dz
	y1, y2 := y+float64(r.IntN(3))-1, y+float64(r.IntN(3))-1

	for i := 0.0; i <= size; i++ {
		cx := x1 + (x2-x1)*i/size
		cy := y1 + (y2-y1)*i/size
		cz := z1 + (z2-z1)*i/size
		radius := ((math.Sin(i*math.Pi/size)+1)*r.Float64()*size/16 + 1) / 2

		for bx := math.Floor(cx - radius); bx <= cx+radius; bx++ {
			if bx < 0 || bx > 15 {
				continue
			}
			sx := (bx + 0.5 - cx) / radius
			for by := math.Floor(cy - radius); by <= cy+radius; by++ {
				if by <= chunk.MinY || by > chunk.MaxY {
					continue
				}
				sy := (by + 0.5 - cy) / radius
				for bz := math.Floor(cz - radius); bz <= cz+radius; bz++ {
					if bz < 0 || bz > 15 {
						continue
					}
					sz := (bz + 0.5 - cz) / radius
					if sx*sx+sy*sy+sz*sz >= 1 {
						continue
					}
					lx, ly, lz := uint8(bx), int16(by), uint8(bz)
					if c.Block(lx, ly, lz) == BlockStone {
						c.SetBlock(lx, ly, lz, v.material)
					}
				}
			}
		}
	}
}

// placeTallGrass attempts to place amount (plus up to one) tall grass blocks
// on grass at random columns of the chunk.
func placeTallGrass(c *chunk.Chunk, r *rand.Rand, amount int) {
	if amount <= 0 {
		return
	}
	amount += r.IntN(2)
	for range amount {
		x, z := uint8(r.IntN(16)), uint8(r.IntN(16))
		y := c.HighestBlock(x, z)
		if y < chunk.MaxY && c.Block(x, y, z) == BlockGrass {
			c.SetBlock(x, y+1, z, BlockTallGrass)
		}
	}
}
