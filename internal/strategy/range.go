package strategy

import "dlmm-range-bot/internal/dlmm"

// MapSingleSidedRange places a width-bin interval on the correct side of
// the activation bin for a single-sided deposit. X liquidity only earns
// once price trades up into its bins, so it sits strictly above the
// activation bin; Y liquidity sits strictly below.
func MapSingleSidedRange(activeBin, width int, side dlmm.Side) (minBin, maxBin int) {
	if width < 1 {
		width = 1
	}
	if side == dlmm.SideY {
		return activeBin - width, activeBin - 1
	}
	return activeBin + 1, activeBin + width
}
