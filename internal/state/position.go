package state

import (
	"math/big"
	"time"

	"dlmm-range-bot/internal/dlmm"

	"github.com/ethereum/go-ethereum/common"
)

type Status string

const (
	StatusActive      Status = "active"
	StatusRebalancing Status = "rebalancing"
	StatusClosed      Status = "closed"
)

// Position is an engine-owned liquidity position record. Rebalances never
// edit a position's range in place: the old record closes and a new one is
// created, preserving an auditable history.
type Position struct {
	ID             int64
	Wallet         common.Address
	Pool           common.Address
	OnChainID      string
	DepositAmount  *big.Int
	Shape          dlmm.Shape
	MinBinID       int
	MaxBinID       int
	Side           dlmm.Side
	Status         Status
	RebalanceCount int
	// FeesEarned is the running claimed-fee total in home-asset terms.
	FeesEarned float64
	CreatedAt  time.Time
	ClosedAt   *time.Time
}

func (p Position) Strategy() dlmm.StrategyConfig {
	return dlmm.StrategyConfig{Shape: p.Shape, MinBinID: p.MinBinID, MaxBinID: p.MaxBinID}
}

func (p Position) Width() int {
	return p.MaxBinID - p.MinBinID + 1
}
