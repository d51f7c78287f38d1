package pow

// RandomX epoch constants: the dataset seed changes every epoch with a fixed
// lag so miners can warm the next dataset ahead of the switch.
const (
	SeedHashEpochLag    = 64
	SeedHashEpochBlocks = 2048
)

// SeedHeight returns the height whose block id seeds the RandomX dataset for
// blocks at the given height.
func SeedHeight(height uint64) uint64 {
	if height <= SeedHashEpochBlocks+SeedHashEpochLag {
		return 0
	}

	return (height - SeedHashEpochLag - 1) & (^uint64(SeedHashEpochBlocks - 1))
}

// SeedHeights returns the current and upcoming seed heights for a block
// height, for pre-warming the next epoch's dataset.
func SeedHeights(height uint64) (seedHeight, nextHeight uint64) {
	return SeedHeight(height), SeedHeight(height + SeedHashEpochLag)
}
