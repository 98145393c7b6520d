package rebalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dlmm-range-bot/internal/alerts"
	"dlmm-range-bot/internal/chain"
	"dlmm-range-bot/internal/dlmm"
	"dlmm-range-bot/internal/pools"
	"dlmm-range-bot/internal/state"
	"dlmm-range-bot/internal/strategy"
	"dlmm-range-bot/internal/txbuild"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type Outcome string

const (
	// OutcomeRebalanced: old position closed, replacement active.
	OutcomeRebalanced Outcome = "rebalanced"
	// OutcomeClosed: no viable pool, position closed. Terminal but not an
	// error.
	OutcomeClosed Outcome = "closed"
	// OutcomeSkipped: the position was not active when the rebalance tried
	// to take it, typically because another tick already holds it.
	OutcomeSkipped Outcome = "skipped"
)

type Result struct {
	Outcome       Outcome
	NewPositionID int64
	Pool          common.Address
	SwitchedPool  bool
	WidthBins     int
}

// ChainReader is the query-side slice the rebalancer needs.
type ChainReader interface {
	ActiveBin(ctx context.Context, pool common.Address) (int, error)
	LatestBlockRef(ctx context.Context) (txbuild.BlockRef, error)
}

type Submitter interface {
	SubmitSequence(ctx context.Context, signer *chain.Signer, ops []txbuild.Operation) ([]common.Hash, error)
}

type Config struct {
	CandidateCount int
	KeepWithinTop  int
	RankMode       pools.RankMode
}

// Rebalancer closes an out-of-range position and opens a replacement at a
// recomputed range, possibly on a different pool. Its status transitions
// run through the store's CAS so concurrent monitor ticks skip a position
// that is already mid-rebalance, and a failure always reverts the record
// to active rather than stranding it.
type Rebalancer struct {
	store    state.Store
	ranker   pools.Ranker
	selector *strategy.Selector
	chain    ChainReader
	sub      Submitter
	notifier alerts.Notifier
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

func New(store state.Store, ranker pools.Ranker, selector *strategy.Selector, reader ChainReader, sub Submitter, notifier alerts.Notifier, cfg Config, log *zap.Logger) *Rebalancer {
	if cfg.CandidateCount <= 0 {
		cfg.CandidateCount = 10
	}
	if cfg.KeepWithinTop <= 0 {
		cfg.KeepWithinTop = 3
	}
	if cfg.RankMode == "" {
		cfg.RankMode = pools.ModeFees
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Rebalancer{
		store:    store,
		ranker:   ranker,
		selector: selector,
		chain:    reader,
		sub:      sub,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Rebalance runs the full cycle for one position. exitBin is the activation
// bin observed at detection time, used to size the overshoot. The error
// return reports a failed attempt that is eligible for retry on the next
// monitor tick; OutcomeClosed is a completed, non-exceptional result.
func (r *Rebalancer) Rebalance(ctx context.Context, pos state.Position, signer *chain.Signer, exitBin int) (Result, error) {
	taken, err := r.store.TransitionStatus(ctx, pos.ID, state.StatusActive, state.StatusRebalancing)
	if err != nil {
		return Result{}, fmt.Errorf("mark rebalancing: %w", err)
	}
	if !taken {
		return Result{Outcome: OutcomeSkipped}, nil
	}

	result, err := r.run(ctx, pos, signer, exitBin)
	if err != nil {
		// Never leave the record stuck in rebalancing: revert to active so
		// the next tick can retry.
		if reverted, revertErr := r.store.TransitionStatus(ctx, pos.ID, state.StatusRebalancing, state.StatusActive); revertErr != nil || !reverted {
			r.log.Error("failed to revert position status after rebalance failure",
				zap.Int64("position_id", pos.ID), zap.Error(revertErr))
		}
		r.notify(ctx, pos.Wallet, alerts.KindRebalanceFailed,
			fmt.Sprintf("rebalance failed, will retry: %v", err), pos.ID)
		return Result{}, err
	}
	return result, nil
}

func (r *Rebalancer) run(ctx context.Context, pos state.Position, signer *chain.Signer, exitBin int) (Result, error) {
	if err := r.teardown(ctx, pos, signer); err != nil {
		return Result{}, err
	}

	newPool, found, err := r.reselectPool(ctx, pos.Pool)
	if err != nil {
		return Result{}, fmt.Errorf("pool reselection: %w", err)
	}
	if !found {
		// Terminal: nothing viable to redeploy into.
		if err := r.store.ClosePosition(ctx, pos.ID, r.now()); err != nil {
			return Result{}, fmt.Errorf("close position record: %w", err)
		}
		r.notify(ctx, pos.Wallet, alerts.KindPositionClosed,
			"no viable pool found for rebalance; position closed", pos.ID)
		r.log.Warn("rebalance found no viable pool, position closed",
			zap.Int64("position_id", pos.ID))
		return Result{Outcome: OutcomeClosed}, nil
	}

	rc := &strategy.RebalanceContext{
		PrevMinBinID:   pos.MinBinID,
		PrevMaxBinID:   pos.MaxBinID,
		PrevCreatedAt:  pos.CreatedAt,
		ExitedAt:       r.now(),
		RebalanceCount: pos.RebalanceCount + 1,
		OvershootBins:  overshoot(pos.MinBinID, pos.MaxBinID, exitBin),
	}

	activeBin, err := r.chain.ActiveBin(ctx, newPool.Address)
	if err != nil {
		return Result{}, fmt.Errorf("active bin for %s: %w", newPool.Address.Hex(), err)
	}
	depositSide := newPool.HomeSide
	if depositSide == "" {
		depositSide = pos.Side
	}
	cfg := r.selector.Select(ctx, newPool, activeBin, depositSide, rc)

	ref, err := r.chain.LatestBlockRef(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("block ref: %w", err)
	}
	ops, err := txbuild.BuildPosition(cfg, newPool.Address, pos.Wallet, pos.DepositAmount, depositSide, ref)
	if err != nil {
		return Result{}, fmt.Errorf("build position: %w", err)
	}
	hashes, err := r.sub.SubmitSequence(ctx, signer, ops)
	if err != nil {
		if errors.Is(err, chain.ErrInsufficientFunds) {
			return Result{}, fmt.Errorf("deposit rejected, consider a smaller amount: %w", err)
		}
		return Result{}, fmt.Errorf("submit position: %w", err)
	}

	if err := r.store.ClosePosition(ctx, pos.ID, r.now()); err != nil {
		return Result{}, fmt.Errorf("close old record: %w", err)
	}
	if err := r.store.IncrementRebalanceCount(ctx, pos.ID); err != nil {
		return Result{}, fmt.Errorf("increment rebalance count: %w", err)
	}
	replacement := &state.Position{
		Wallet:         pos.Wallet,
		Pool:           newPool.Address,
		OnChainID:      hashes[len(hashes)-1].Hex(),
		DepositAmount:  pos.DepositAmount,
		Shape:          cfg.Shape,
		MinBinID:       cfg.MinBinID,
		MaxBinID:       cfg.MaxBinID,
		Side:           depositSide,
		Status:         state.StatusActive,
		RebalanceCount: pos.RebalanceCount + 1,
		CreatedAt:      r.now(),
	}
	if err := r.store.CreatePosition(ctx, replacement); err != nil {
		return Result{}, fmt.Errorf("create replacement record: %w", err)
	}

	switched := newPool.Address != pos.Pool
	r.log.Info("position rebalanced",
		zap.Int64("old_position_id", pos.ID),
		zap.Int64("new_position_id", replacement.ID),
		zap.String("pool", newPool.Address.Hex()),
		zap.Bool("switched_pool", switched),
		zap.Int("width", cfg.Width()),
		zap.String("shape", string(cfg.Shape)),
	)
	r.notify(ctx, pos.Wallet, alerts.KindRebalanced,
		fmt.Sprintf("rebalanced into %s, %d bins (%s)", newPool.Name, cfg.Width(), cfg.Shape), replacement.ID)
	return Result{
		Outcome:       OutcomeRebalanced,
		NewPositionID: replacement.ID,
		Pool:          newPool.Address,
		SwitchedPool:  switched,
		WidthBins:     cfg.Width(),
	}, nil
}

// teardown drains and closes the on-chain position. A removal rejected for
/// empty bins is not a failure: the close-only path reclaims the account.
func (r *Rebalancer) teardown(ctx context.Context, pos state.Position, signer *chain.Signer) error {
	ref, err := r.chain.LatestBlockRef(ctx)
	if err != nil {
		return fmt.Errorf("block ref: %w", err)
	}
	removeOp, err := txbuild.BuildRemoveLiquidity(pos.Strategy(), pos.Pool, pos.Wallet, ref)
	if err != nil {
		return err
	}
	claimOp, err := txbuild.BuildClaimFees(pos.Pool, pos.Wallet, ref)
	if err != nil {
		return err
	}
	closeOp, err := txbuild.BuildClosePosition(pos.Pool, pos.Wallet, ref)
	if err != nil {
		return err
	}
	_, err = r.sub.SubmitSequence(ctx, signer, []txbuild.Operation{removeOp, claimOp, closeOp})
	if err == nil {
		return nil
	}
	if !errors.Is(err, chain.ErrNoLiquidity) {
		return fmt.Errorf("remove liquidity: %w", err)
	}
	r.log.Info("position already empty, falling back to close-only reclaim",
		zap.Int64("position_id", pos.ID))
	if _, err := r.sub.SubmitSequence(ctx, signer, []txbuild.Operation{closeOp}); err != nil {
		return fmt.Errorf("close-only reclaim: %w", err)
	}
	return nil
}

// reselectPool keeps the current pool while it stays within the top N,
// otherwise switches to the best-ranked candidate.
func (r *Rebalancer) reselectPool(ctx context.Context, current common.Address) (dlmm.PoolSnapshot, bool, error) {
	ranked, err := r.ranker.Rank(ctx, r.cfg.CandidateCount, r.cfg.RankMode)
	if err != nil {
		return dlmm.PoolSnapshot{}, false, err
	}
	if len(ranked) == 0 {
		return dlmm.PoolSnapshot{}, false, nil
	}
	top := r.cfg.KeepWithinTop
	if top > len(ranked) {
		top = len(ranked)
	}
	for _, pool := range ranked[:top] {
		if pool.Address == current {
			return pool, true, nil
		}
	}
	return ranked[0], true, nil
}

func overshoot(minBin, maxBin, exitBin int) int {
	switch {
	case exitBin > maxBin:
		return exitBin - maxBin
	case exitBin < minBin:
		return minBin - exitBin
	default:
		return 0
	}
}

func (r *Rebalancer) notify(ctx context.Context, wallet common.Address, kind alerts.Kind, message string, positionID int64) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, wallet, kind, message, positionID); err != nil {
		r.log.Warn("notification failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}
