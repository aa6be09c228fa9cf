// Package generator implements the terrain generation strategies a
// world.Store may be configured with. Every strategy is deterministic: the
// same position and seed always produce the same chunk.
package generator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dm-vev/chunkstream/server/world"
)

// Block ids written by the generators. The ids are opaque to the engine.
const (
	BlockPlaceholder uint32 = 1
	BlockStone       uint32 = 1
	BlockGrass       uint32 = 2
	BlockDirt        uint32 = 3
	BlockBedrock     uint32 = 7
	BlockWater       uint32 = 9
	BlockSand        uint32 = 12
	BlockGravel      uint32 = 13
	BlockGoldOre     uint32 = 14
	BlockIronOre     uint32 = 15
	BlockCoalOre     uint32 = 16
	BlockLapisOre    uint32 = 21
	BlockTallGrass   uint32 = 31
	BlockDiamondOre  uint32 = 56
	BlockSnow        uint32 = 80
)

// ErrUnknownGenerator is returned by ByName for a name that does not match
// any generator.
var ErrUnknownGenerator = errors.New("generator: unknown generator")

// ByName returns the generator configured by name: "stub", "flat", "noise"
// or "void". Names are case-insensitive.
func ByName(name string) (world.Generator, error) {
	switch strings.ToLower(name) {
	case "stub", "":
		return Stub{}, nil
	case "flat":
		return DefaultFlat(), nil
	case "noise":
		return NewNoise(), nil
	case "void":
		return world.NopGenerator{}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownGenerator, name)
}
