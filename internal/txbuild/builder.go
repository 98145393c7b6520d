package txbuild

import (
	"fmt"
	"math/big"

	"dlmm-range-bot/internal/dlmm"

	"github.com/ethereum/go-ethereum/common"
)

type Kind string

const (
	KindInitialize Kind = "initialize_position"
	KindExtend     Kind = "extend_position"
	KindDeposit    Kind = "deposit_by_strategy"
	KindRemove     Kind = "remove_liquidity"
	KindClose      Kind = "close_position"
	KindClaim      Kind = "claim_fees"
)

// BlockRef is the recent chain-state reference every operation of one build
// shares. The submission boundary refuses to submit against a different ref.
type BlockRef struct {
	Hash   common.Hash
	Number uint64
}

// Operation is one chain call, already ABI-packed. Operations from a single
// build form a strict sequence: each later op touches account state an
// earlier op creates, so the caller must submit and confirm them in order.
type Operation struct {
	Seq      int
	Kind     Kind
	Pool     common.Address
	Owner    common.Address
	MinBinID int
	MaxBinID int
	Shape    dlmm.Shape
	Amount   *big.Int
	Calldata []byte
	BlockRef BlockRef
}

func shapeCode(shape dlmm.Shape) uint8 {
	switch shape {
	case dlmm.ShapeCurve:
		return 1
	case dlmm.ShapeBidAsk:
		return 2
	default:
		return 0
	}
}

// BuildPosition turns a strategy plus deposit amount into the ordered
// operation sequence that opens the position. Ranges within a single
// atomic call's capacity produce one op; wider ranges produce an anchored
// initialize, resize steps, and a final full-range deposit.
func BuildPosition(cfg dlmm.StrategyConfig, pool, owner common.Address, amount *big.Int, side dlmm.Side, ref BlockRef) ([]Operation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive")
	}

	width := cfg.Width()
	if width <= dlmm.MaxBinPerOperation {
		calldata, err := managerABI.Pack("initializePosition",
			pool, int32(cfg.MinBinID), int32(cfg.MaxBinID), shapeCode(cfg.Shape), amount)
		if err != nil {
			return nil, err
		}
		return []Operation{{
			Seq:      0,
			Kind:     KindInitialize,
			Pool:     pool,
			Owner:    owner,
			MinBinID: cfg.MinBinID,
			MaxBinID: cfg.MaxBinID,
			Shape:    cfg.Shape,
			Amount:   amount,
			Calldata: calldata,
			BlockRef: ref,
		}}, nil
	}
	return buildWide(cfg, pool, owner, amount, side, ref)
}

// buildWide anchors the initial segment against the activation bin on the
// deposit side and extends away from it step by step. For X deposits the
// range sits above the activation bin, so the anchor is the low edge and
// extension runs upward; Y mirrors downward.
func buildWide(cfg dlmm.StrategyConfig, pool, owner common.Address, amount *big.Int, side dlmm.Side, ref BlockRef) ([]Operation, error) {
	var ops []Operation
	seq := 0

	var initMin, initMax int
	if side == dlmm.SideY {
		initMax = cfg.MaxBinID
		initMin = initMax - dlmm.MaxBinPerOperation + 1
	} else {
		initMin = cfg.MinBinID
		initMax = initMin + dlmm.MaxBinPerOperation - 1
	}
	calldata, err := managerABI.Pack("initializePosition",
		pool, int32(initMin), int32(initMax), shapeCode(cfg.Shape), big.NewInt(0))
	if err != nil {
		return nil, err
	}
	ops = append(ops, Operation{
		Seq: seq, Kind: KindInitialize, Pool: pool, Owner: owner,
		MinBinID: initMin, MaxBinID: initMax, Shape: cfg.Shape,
		Amount: big.NewInt(0), Calldata: calldata, BlockRef: ref,
	})
	seq++

	covMin, covMax := initMin, initMax
	for covMin > cfg.MinBinID || covMax < cfg.MaxBinID {
		var fromBin, toBin int
		if side == dlmm.SideY {
			remaining := covMin - cfg.MinBinID
			step := min(remaining, dlmm.MaxBinPerResize)
			toBin = covMin - 1
			fromBin = covMin - step
			covMin = fromBin
		} else {
			remaining := cfg.MaxBinID - covMax
			step := min(remaining, dlmm.MaxBinPerResize)
			fromBin = covMax + 1
			toBin = covMax + step
			covMax = toBin
		}
		calldata, err := managerABI.Pack("extendPosition", pool, int32(fromBin), int32(toBin))
		if err != nil {
			return nil, err
		}
		ops = append(ops, Operation{
			Seq: seq, Kind: KindExtend, Pool: pool, Owner: owner,
			MinBinID: fromBin, MaxBinID: toBin, Shape: cfg.Shape,
			Calldata: calldata, BlockRef: ref,
		})
		seq++
	}

	calldata, err = managerABI.Pack("depositByStrategy",
		pool, int32(cfg.MinBinID), int32(cfg.MaxBinID), shapeCode(cfg.Shape), amount)
	if err != nil {
		return nil, err
	}
	ops = append(ops, Operation{
		Seq: seq, Kind: KindDeposit, Pool: pool, Owner: owner,
		MinBinID: cfg.MinBinID, MaxBinID: cfg.MaxBinID, Shape: cfg.Shape,
		Amount: amount, Calldata: calldata, BlockRef: ref,
	})
	return ops, nil
}

// BuildRemoveLiquidity drains every bin of an open position.
func BuildRemoveLiquidity(cfg dlmm.StrategyConfig, pool, owner common.Address, ref BlockRef) (Operation, error) {
	if cfg.MaxBinID <= cfg.MinBinID {
		return Operation{}, fmt.Errorf("%w: inverted range [%d, %d]", dlmm.ErrInvalidStrategy, cfg.MinBinID, cfg.MaxBinID)
	}
	calldata, err := managerABI.Pack("removeLiquidity", pool, int32(cfg.MinBinID), int32(cfg.MaxBinID))
	if err != nil {
		return Operation{}, err
	}
	return Operation{
		Kind: KindRemove, Pool: pool, Owner: owner,
		MinBinID: cfg.MinBinID, MaxBinID: cfg.MaxBinID,
		Calldata: calldata, BlockRef: ref,
	}, nil
}

// BuildClosePosition reclaims the position account without touching
// liquidity. Used as the fallback when removal reports empty bins.
func BuildClosePosition(pool, owner common.Address, ref BlockRef) (Operation, error) {
	calldata, err := managerABI.Pack("closePosition", pool)
	if err != nil {
		return Operation{}, err
	}
	return Operation{Kind: KindClose, Pool: pool, Owner: owner, Calldata: calldata, BlockRef: ref}, nil
}

// BuildClaimFees collects accrued swap fees for the position owner.
func BuildClaimFees(pool, owner common.Address, ref BlockRef) (Operation, error) {
	calldata, err := managerABI.Pack("claimFees", pool)
	if err != nil {
		return Operation{}, err
	}
	return Operation{Kind: KindClaim, Pool: pool, Owner: owner, Calldata: calldata, BlockRef: ref}, nil
}
