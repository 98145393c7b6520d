package strategy

// Tier buckets a pool by how much price moves per bin.
type Tier string

const (
	TierLow     Tier = "low"
	TierMedium  Tier = "medium"
	TierHigh    Tier = "high"
	TierExtreme Tier = "extreme"
)

// ClassifyVolatility maps a pool's bin step (basis points per bin) to a
// volatility tier. Total over all inputs, no failure mode.
func ClassifyVolatility(binStep int) Tier {
	switch {
	case binStep <= 5:
		return TierLow
	case binStep <= 30:
		return TierMedium
	case binStep <= 60:
		return TierHigh
	default:
		return TierExtreme
	}
}
