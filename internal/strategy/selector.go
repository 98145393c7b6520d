package strategy

import (
	"context"
	"math"
	"time"

	"dlmm-range-bot/internal/dlmm"

	"go.uber.org/zap"
)

// RebalanceContext describes the position a rebalance is replacing. It is
// derived from the closed position and only lives for the duration of the
// next strategy computation.
type RebalanceContext struct {
	PrevMinBinID   int
	PrevMaxBinID   int
	PrevCreatedAt  time.Time
	ExitedAt       time.Time
	RebalanceCount int
	// OvershootBins is how far the activation bin travelled beyond the old
	// range when the exit was detected.
	OvershootBins int
}

func (rc *RebalanceContext) PrevWidth() int {
	return rc.PrevMaxBinID - rc.PrevMinBinID + 1
}

// Recommendation is a validated advisor suggestion.
type Recommendation struct {
	Shape      dlmm.Shape
	WidthBins  int
	Confidence float64
}

// Advisor is the optional external recommendation source. Errors are
// swallowed by the selector; the rule-based result always stands on its own.
type Advisor interface {
	Recommend(ctx context.Context, pool dlmm.PoolSnapshot, activeBin int, rc *RebalanceContext) (Recommendation, error)
}

// Selector computes the range strategy for a deposit: shape by volatility
// tier, width by tier base scaled by momentum and, on rebalance, by how
// badly the previous range failed.
type Selector struct {
	advisor Advisor
	log     *zap.Logger
}

func NewSelector(advisor Advisor, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{advisor: advisor, log: log}
}

const (
	baseWidthLow    = 60
	baseWidthMedium = 40
	baseWidthHigh   = 30

	// Extreme-tier pairs get wider bin counts, shrinking as the per-bin
	// price step grows since each bin already covers more price ground.
	extremeWidthNumerator = 9600
	extremeWidthMin       = 60
	extremeWidthMax       = 160

	extremeTierBoost = 1.15

	advisorMinWidth = 10
)

func shapeForTier(tier Tier) dlmm.Shape {
	switch tier {
	case TierLow:
		return dlmm.ShapeSpot
	case TierMedium:
		return dlmm.ShapeCurve
	default:
		return dlmm.ShapeBidAsk
	}
}

func baseWidth(tier Tier, binStep int) int {
	switch tier {
	case TierLow:
		return baseWidthLow
	case TierMedium:
		return baseWidthMedium
	case TierHigh:
		return baseWidthHigh
	default:
		w := extremeWidthNumerator / binStep
		if w < extremeWidthMin {
			w = extremeWidthMin
		}
		if w > extremeWidthMax {
			w = extremeWidthMax
		}
		return w
	}
}

func momentumMultiplier(label MomentumLabel) float64 {
	switch label {
	case MomentumRising:
		return 1.3
	case MomentumHot:
		return 1.8
	case MomentumParabolic:
		return 2.5
	default:
		return 1.0
	}
}

// rebalanceMultiplier widens the next range based on how quickly and how
// far the previous one was blown through, plus a penalty for repeat exits.
func rebalanceMultiplier(rc *RebalanceContext) float64 {
	age := rc.ExitedAt.Sub(rc.PrevCreatedAt)
	var timeMult float64
	switch {
	case age < 30*time.Minute:
		timeMult = 4.0
	case age < time.Hour:
		timeMult = 3.0
	case age < 4*time.Hour:
		timeMult = 2.0
	case age < 12*time.Hour:
		timeMult = 1.5
	default:
		timeMult = 1.2
	}

	overshootScale := 1.0
	if prevWidth := rc.PrevWidth(); prevWidth > 0 && rc.OvershootBins > 0 {
		ratio := float64(rc.OvershootBins) / float64(prevWidth)
		overshootScale = 1 + 0.24*ratio
		if overshootScale > 1.5 {
			overshootScale = 1.5
		}
	}

	repeatPenalty := 1.0
	switch {
	case rc.RebalanceCount >= 3:
		repeatPenalty = 1.5
	case rc.RebalanceCount >= 2:
		repeatPenalty = 1.3
	}

	return timeMult * overshootScale * repeatPenalty
}

// Select produces the strategy for a deposit into pool at the current
// activation bin. rc is nil for an initial deposit.
func (s *Selector) Select(ctx context.Context, pool dlmm.PoolSnapshot, activeBin int, depositSide dlmm.Side, rc *RebalanceContext) dlmm.StrategyConfig {
	tier := ClassifyVolatility(pool.BinStep)
	momentum := ComputeMomentum(pool)
	shape := shapeForTier(tier)

	mult := momentumMultiplier(momentum.Label)
	if tier == TierExtreme && mult > 1.0 {
		mult *= extremeTierBoost
	}
	width := int(math.Round(float64(baseWidth(tier, pool.BinStep)) * mult))

	floor := 0
	if rc != nil {
		width = int(math.Round(float64(width) * rebalanceMultiplier(rc)))
		floor = rc.PrevWidth() + rc.OvershootBins
	}

	if rec, ok := s.consultAdvisor(ctx, pool, activeBin, rc); ok {
		if rc != nil || momentum.Label == MomentumParabolic {
			// The advisor may never narrow a range known to need widening.
			if rec.WidthBins > width {
				width = rec.WidthBins
			}
		} else {
			width = rec.WidthBins
		}
		shape = rec.Shape
	}

	if width < floor {
		width = floor
	}
	if width > dlmm.MaxBinPerPosition {
		s.log.Info("strategy width capped at chain maximum",
			zap.String("pool", pool.Address.Hex()),
			zap.Int("requested", width),
			zap.Int("cap", dlmm.MaxBinPerPosition),
		)
		width = dlmm.MaxBinPerPosition
	}
	if width < 1 {
		width = 1
	}

	minBin, maxBin := MapSingleSidedRange(activeBin, width, depositSide)
	return dlmm.StrategyConfig{Shape: shape, MinBinID: minBin, MaxBinID: maxBin}
}

// consultAdvisor fetches and validates an external suggestion. Any failure
// or out-of-band field reads as "no recommendation".
func (s *Selector) consultAdvisor(ctx context.Context, pool dlmm.PoolSnapshot, activeBin int, rc *RebalanceContext) (Recommendation, bool) {
	if s.advisor == nil {
		return Recommendation{}, false
	}
	rec, err := s.advisor.Recommend(ctx, pool, activeBin, rc)
	if err != nil {
		s.log.Debug("advisor unavailable, using rule-based strategy",
			zap.String("pool", pool.Address.Hex()), zap.Error(err))
		return Recommendation{}, false
	}
	if !rec.Shape.Valid() {
		s.log.Debug("advisor returned unknown shape, discarding",
			zap.String("pool", pool.Address.Hex()), zap.String("shape", string(rec.Shape)))
		return Recommendation{}, false
	}
	if rec.WidthBins < advisorMinWidth || rec.WidthBins > dlmm.MaxBinPerPosition {
		s.log.Debug("advisor width out of band, discarding",
			zap.String("pool", pool.Address.Hex()), zap.Int("width", rec.WidthBins))
		return Recommendation{}, false
	}
	return rec, true
}
