package fees

import (
	"context"
	"fmt"
	"math/big"

	"dlmm-range-bot/internal/chain"
	"dlmm-range-bot/internal/dlmm"
	"dlmm-range-bot/internal/state"
	"dlmm-range-bot/internal/txbuild"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ChainReader is the slice of the chain query boundary the claimer needs.
// Claimable amounts come from the exchange's per-bin fee accounting, not
// from any checkpoint field on the position record.
type ChainReader interface {
	ClaimableFees(ctx context.Context, pool, owner common.Address) (chain.BinFees, error)
	PriceRatio(ctx context.Context, pool common.Address) (float64, error)
	LatestBlockRef(ctx context.Context) (txbuild.BlockRef, error)
}

type Submitter interface {
	SubmitSequence(ctx context.Context, signer *chain.Signer, ops []txbuild.Operation) ([]common.Hash, error)
}

// Claimer gates fee claims on a configured minimum in home-asset terms.
// It is the only component that grows a position's earned-fee total outside
// of close and rebalance bookkeeping.
type Claimer struct {
	chain    ChainReader
	sub      Submitter
	store    state.Store
	minClaim float64
	log      *zap.Logger
}

func New(reader ChainReader, sub Submitter, store state.Store, minClaim float64, log *zap.Logger) *Claimer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Claimer{chain: reader, sub: sub, store: store, minClaim: minClaim, log: log}
}

const tokenDecimals = 1e18

func weiToFloat(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), big.NewFloat(tokenDecimals)).Float64()
	return f
}

// ClaimableHomeAmount converts both fee sides into home-asset terms using
// the pool's current price of X in Y.
func ClaimableHomeAmount(fees chain.BinFees, homeSide dlmm.Side, priceXInY float64) float64 {
	x := weiToFloat(fees.AmountX)
	y := weiToFloat(fees.AmountY)
	if homeSide == dlmm.SideY {
		return y + x*priceXInY
	}
	if priceXInY <= 0 {
		return x
	}
	return x + y/priceXInY
}

// MaybeClaim claims accrued fees for the position when they clear the
// threshold, returning the claimed amount in home-asset terms. A zero
// return with nil error means the threshold was not met.
func (c *Claimer) MaybeClaim(ctx context.Context, pos state.Position, signer *chain.Signer) (float64, error) {
	binFees, err := c.chain.ClaimableFees(ctx, pos.Pool, pos.Wallet)
	if err != nil {
		return 0, fmt.Errorf("claimable fees: %w", err)
	}
	price, err := c.chain.PriceRatio(ctx, pos.Pool)
	if err != nil {
		return 0, fmt.Errorf("pool price: %w", err)
	}
	claimable := ClaimableHomeAmount(binFees, pos.Side, price)
	if claimable < c.minClaim {
		return 0, nil
	}

	ref, err := c.chain.LatestBlockRef(ctx)
	if err != nil {
		return 0, fmt.Errorf("block ref: %w", err)
	}
	op, err := txbuild.BuildClaimFees(pos.Pool, pos.Wallet, ref)
	if err != nil {
		return 0, err
	}
	if _, err := c.sub.SubmitSequence(ctx, signer, []txbuild.Operation{op}); err != nil {
		return 0, fmt.Errorf("claim submission: %w", err)
	}
	if err := c.store.AddFeesEarned(ctx, pos.ID, claimable); err != nil {
		return 0, fmt.Errorf("record claimed fees: %w", err)
	}
	c.log.Info("claimed position fees",
		zap.Int64("position_id", pos.ID),
		zap.String("pool", pos.Pool.Hex()),
		zap.Float64("amount_home", claimable),
	)
	return claimable, nil
}
