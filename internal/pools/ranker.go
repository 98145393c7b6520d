package pools

import (
	"context"
	"math"
	"sort"

	"dlmm-range-bot/internal/dlmm"
)

// RankMode selects the scoring emphasis.
type RankMode string

const (
	ModeFees     RankMode = "fees"
	ModeVolume   RankMode = "volume"
	ModeBalanced RankMode = "balanced"
)

// Ranker returns up to count pools ordered best-first. The rebalancer keeps
// the current pool if it still ranks within the configured top N.
type Ranker interface {
	Rank(ctx context.Context, count int, mode RankMode) ([]dlmm.PoolSnapshot, error)
}

// Source provides the unranked pool universe, typically a discovery
// service or indexer.
type Source interface {
	Pools(ctx context.Context) ([]dlmm.PoolSnapshot, error)
}

// Scorer ranks a pool universe with a composite of fee yield, volume
// momentum and liquidity depth.
type Scorer struct {
	source Source
}

func NewScorer(source Source) *Scorer {
	return &Scorer{source: source}
}

const minLiquidityUSD = 10_000

func (s *Scorer) Rank(ctx context.Context, count int, mode RankMode) ([]dlmm.PoolSnapshot, error) {
	universe, err := s.source.Pools(ctx)
	if err != nil {
		return nil, err
	}
	type scored struct {
		pool  dlmm.PoolSnapshot
		score float64
	}
	candidates := make([]scored, 0, len(universe))
	for _, pool := range universe {
		score := Score(pool, mode)
		if math.IsNaN(score) || math.IsInf(score, 0) || score <= 0 {
			continue
		}
		candidates = append(candidates, scored{pool: pool, score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if count > len(candidates) {
		count = len(candidates)
	}
	out := make([]dlmm.PoolSnapshot, 0, count)
	for _, c := range candidates[:count] {
		out = append(out, c.pool)
	}
	return out, nil
}

// Score is deterministic per pool and mode. Thin pools are excluded
// outright: a high APR on dust liquidity is noise, not yield.
func Score(pool dlmm.PoolSnapshot, mode RankMode) float64 {
	if pool.LiquidityUSD < minLiquidityUSD || pool.Volume24h <= 0 {
		return 0
	}
	// log-dampened components so one huge pool does not dominate linearly
	feeScore := math.Log1p(pool.FeeAPR)
	volumeScore := math.Log1p(pool.Volume24h / pool.LiquidityUSD)
	depthScore := math.Log1p(pool.LiquidityUSD / minLiquidityUSD)

	switch mode {
	case ModeFees:
		return 0.6*feeScore + 0.25*volumeScore + 0.15*depthScore
	case ModeVolume:
		return 0.25*feeScore + 0.6*volumeScore + 0.15*depthScore
	default:
		return 0.4*feeScore + 0.4*volumeScore + 0.2*depthScore
	}
}
