package dlmm

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Chain-level limits for bin positions. A single atomic operation can
// initialize and fill at most MaxBinPerOperation bins; widening an existing
// position account is bounded per resize call; the account itself can never
// hold more than MaxBinPerPosition bins.
const (
	MaxBinPerOperation = 69
	MaxBinPerResize    = 91
	MaxBinPerPosition  = 1400
)

type Shape string

const (
	ShapeSpot   Shape = "Spot"
	ShapeCurve  Shape = "Curve"
	ShapeBidAsk Shape = "BidAsk"
)

func (s Shape) Valid() bool {
	switch s {
	case ShapeSpot, ShapeCurve, ShapeBidAsk:
		return true
	}
	return false
}

// Side identifies which asset of the pair a single-sided deposit holds.
// X liquidity sits in bins above the activation bin, Y below.
type Side string

const (
	SideX Side = "X"
	SideY Side = "Y"
)

// PoolSnapshot is a read-only view of a ranked pool as delivered by the
// pool ranking service.
type PoolSnapshot struct {
	Address      common.Address
	Name         string
	BinStep      int // basis points of price movement per bin
	Volume1h     float64
	Volume4h     float64
	Volume24h    float64
	Fees4h       float64
	Fees24h      float64
	FeeAPR       float64
	LiquidityUSD float64
	HomeSide     Side
}

// StrategyConfig is an inclusive bin interval plus the liquidity shape to
// spread the deposit across it.
type StrategyConfig struct {
	Shape    Shape
	MinBinID int
	MaxBinID int
}

func (c StrategyConfig) Width() int {
	return c.MaxBinID - c.MinBinID + 1
}

var ErrInvalidStrategy = errors.New("invalid strategy config")

func (c StrategyConfig) Validate() error {
	if !c.Shape.Valid() {
		return fmt.Errorf("%w: unknown shape %q", ErrInvalidStrategy, c.Shape)
	}
	if c.MaxBinID <= c.MinBinID {
		return fmt.Errorf("%w: inverted range [%d, %d]", ErrInvalidStrategy, c.MinBinID, c.MaxBinID)
	}
	if c.Width() > MaxBinPerPosition {
		return fmt.Errorf("%w: width %d exceeds chain maximum %d", ErrInvalidStrategy, c.Width(), MaxBinPerPosition)
	}
	return nil
}

// Contains reports whether the activation bin sits inside the range.
func (c StrategyConfig) Contains(binID int) bool {
	return binID >= c.MinBinID && binID <= c.MaxBinID
}
