package strategy

import (
	"dlmm-range-bot/internal/dlmm"
)

type MomentumLabel string

const (
	MomentumCalm      MomentumLabel = "CALM"
	MomentumRising    MomentumLabel = "RISING"
	MomentumHot       MomentumLabel = "HOT"
	MomentumParabolic MomentumLabel = "PARABOLIC"
)

// Momentum is a bounded activity score derived from multi-window volume
// and fee data. Score is always in [0, 1].
type Momentum struct {
	Score    float64
	Label    MomentumLabel
	Turnover float64
}

// Sub-signal saturation points: a 1h window carrying 10% of 24h volume,
// a 4h window carrying its pro-rata 33%, and 100x daily turnover all read
// as maximal.
const (
	shortShareSaturation     = 0.10
	sustainedShareSaturation = 0.33
	turnoverSaturation       = 100.0
)

const (
	weightShort     = 0.35
	weightSustained = 0.30
	weightTurnover  = 0.20
	weightFeeYield  = 0.15
)

// ComputeMomentum scores how unusually active recent trading is. A pool
// with zero 24h volume scores zero and reads CALM.
func ComputeMomentum(pool dlmm.PoolSnapshot) Momentum {
	if pool.Volume24h <= 0 {
		return Momentum{Score: 0, Label: MomentumCalm}
	}

	short := saturate(pool.Volume1h/pool.Volume24h, shortShareSaturation)
	sustained := saturate(pool.Volume4h/pool.Volume24h, sustainedShareSaturation)

	turnover := 0.0
	if pool.LiquidityUSD > 0 {
		turnover = saturate(pool.Volume24h/pool.LiquidityUSD, turnoverSaturation)
	}

	score := weightShort*short +
		weightSustained*sustained +
		weightTurnover*turnover +
		weightFeeYield*feeYieldBonus(pool.FeeAPR)

	return Momentum{
		Score:    score,
		Label:    classifyMomentum(score, turnover),
		Turnover: turnover,
	}
}

func saturate(value, saturation float64) float64 {
	if value <= 0 {
		return 0
	}
	scaled := value / saturation
	if scaled > 1 {
		return 1
	}
	return scaled
}

func feeYieldBonus(feeAPR float64) float64 {
	switch {
	case feeAPR >= 200:
		return 1.0
	case feeAPR >= 100:
		return 0.75
	case feeAPR >= 50:
		return 0.5
	case feeAPR >= 20:
		return 0.25
	default:
		return 0
	}
}

func classifyMomentum(score, turnover float64) MomentumLabel {
	switch {
	case score >= 0.8 && turnover >= 0.9:
		return MomentumParabolic
	case score >= 0.55 || turnover >= 0.75:
		return MomentumHot
	case score >= 0.3:
		return MomentumRising
	default:
		return MomentumCalm
	}
}
