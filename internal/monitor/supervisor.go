package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dlmm-range-bot/internal/alerts"
	"dlmm-range-bot/internal/chain"
	"dlmm-range-bot/internal/config"
	"dlmm-range-bot/internal/metrics"
	"dlmm-range-bot/internal/rebalance"
	"dlmm-range-bot/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// BinSource answers "where is the activation bin right now". The live
// implementation is the websocket feed cache with an RPC fallback behind it.
type BinSource interface {
	ActiveBin(ctx context.Context, pool common.Address) (int, error)
}

type Rebalancer interface {
	Rebalance(ctx context.Context, pos state.Position, signer *chain.Signer, exitBin int) (rebalance.Result, error)
}

type FeeClaimer interface {
	MaybeClaim(ctx context.Context, pos state.Position, signer *chain.Signer) (float64, error)
}

// Event reports one position observation to an observer, mainly the
// analytics writer. Status is "in_range", "out_of_range", "error",
// "rebalanced", "closed" or "fees_claimed"; the last three carry the
// lifecycle fields.
type Event struct {
	Wallet     common.Address
	PositionID int64
	Pool       common.Address
	ActiveBin  int
	MinBinID   int
	MaxBinID   int
	Status     string
	At         time.Time

	// Lifecycle outcomes only.
	NewPositionID int64
	WidthBins     int
	FeesClaimed   float64
}

func eventFor(pos state.Position, activeBin int, status string) Event {
	return Event{
		Wallet:     pos.Wallet,
		PositionID: pos.ID,
		Pool:       pos.Pool,
		ActiveBin:  activeBin,
		MinBinID:   pos.MinBinID,
		MaxBinID:   pos.MaxBinID,
		Status:     status,
		At:         time.Now().UTC(),
	}
}

// Supervisor runs one monitoring loop per wallet. Loops are independent:
// each has its own ticker and cancel, and a slow or failing position check
// never stalls another wallet. Start is idempotent per wallet.
type Supervisor struct {
	store      state.Store
	bins       BinSource
	rebalancer Rebalancer
	claimer    FeeClaimer
	notifier   alerts.Notifier
	cfg        config.MonitorConfig
	met        *metrics.Metrics
	log        *zap.Logger
	observer   func(Event)

	mu    sync.Mutex
	loops map[common.Address]*loop
	wg    sync.WaitGroup
}

type loop struct {
	signer *chain.Signer
	cancel context.CancelFunc
}

func NewSupervisor(store state.Store, bins BinSource, rebalancer Rebalancer, claimer FeeClaimer, notifier alerts.Notifier, cfg config.MonitorConfig, met *metrics.Metrics, log *zap.Logger) *Supervisor {
	if met == nil {
		met = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		store:      store,
		bins:       bins,
		rebalancer: rebalancer,
		claimer:    claimer,
		notifier:   notifier,
		cfg:        cfg,
		met:        met,
		log:        log,
		loops:      make(map[common.Address]*loop),
	}
}

// SetObserver installs a per-check callback. Must be called before Start.
func (s *Supervisor) SetObserver(fn func(Event)) {
	s.observer = fn
}

// Start launches the monitoring loop for a wallet. Returns false if the
// wallet is already being monitored.
func (s *Supervisor) Start(ctx context.Context, wallet common.Address, signer *chain.Signer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.loops[wallet]; running {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.loops[wallet] = &loop{signer: signer, cancel: cancel}
	s.wg.Add(1)
	go s.run(loopCtx, wallet, signer)
	s.log.Info("wallet monitor started", zap.String("wallet", wallet.Hex()))
	return true
}

// Stop cancels one wallet's loop. Returns false if it was not running.
func (s *Supervisor) Stop(wallet common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, running := s.loops[wallet]
	if !running {
		return false
	}
	l.cancel()
	delete(s.loops, wallet)
	s.log.Info("wallet monitor stopped", zap.String("wallet", wallet.Hex()))
	return true
}

// Monitoring reports whether a wallet currently has a loop.
func (s *Supervisor) Monitoring(wallet common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.loops[wallet]
	return running
}

// Shutdown cancels every loop and waits for them to drain.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for wallet, l := range s.loops {
		l.cancel()
		delete(s.loops, wallet)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context, wallet common.Address, signer *chain.Signer) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	// Immediate first pass so a restart re-checks positions without
	// waiting out a full interval.
	s.tick(ctx, wallet, signer)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, wallet, signer)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context, wallet common.Address, signer *chain.Signer) {
	positions, err := s.store.ActivePositions(ctx, wallet)
	if err != nil {
		s.log.Error("failed to load active positions",
			zap.String("wallet", wallet.Hex()), zap.Error(err))
		return
	}
	for _, pos := range positions {
		if ctx.Err() != nil {
			return
		}
		// One bad position must not poison the rest of the tick.
		s.checkPosition(ctx, pos, signer)
	}
}

func (s *Supervisor) checkPosition(ctx context.Context, pos state.Position, signer *chain.Signer) {
	s.met.RangeChecks.Inc()
	// The timeout bounds only the bin query: a wedged RPC lookup must not
	// stall the tick. Rebalance and claim submissions carry their own
	// bounds (retry budget, confirm timeout, HTTP client timeout) and a
	// multi-operation teardown-plus-build legitimately outlasts any
	// per-query deadline.
	binCtx, cancel := context.WithTimeout(ctx, s.cfg.PositionTimeout)
	activeBin, err := s.bins.ActiveBin(binCtx, pos.Pool)
	cancel()
	if err != nil {
		s.log.Warn("active bin lookup failed",
			zap.Int64("position_id", pos.ID),
			zap.String("pool", pos.Pool.Hex()),
			zap.Error(err))
		s.emit(eventFor(pos, 0, "error"))
		return
	}

	if !pos.Strategy().Contains(activeBin) {
		if s.handleRangeExit(ctx, pos, signer, activeBin) {
			return
		}
	} else {
		s.emit(eventFor(pos, activeBin, "in_range"))
	}

	// The position is still active (in range, alert-only, or a failed
	// rebalance attempt): fees keep accruing, so the claim gate runs.
	s.maybeClaimFees(ctx, pos, signer, activeBin)
}

// handleRangeExit reports true when the position no longer exists as an
// active record, so the caller must not act on it further.
func (s *Supervisor) handleRangeExit(ctx context.Context, pos state.Position, signer *chain.Signer, activeBin int) bool {
	s.met.RangeExits.Inc()
	s.log.Info("position out of range",
		zap.Int64("position_id", pos.ID),
		zap.String("pool", pos.Pool.Hex()),
		zap.Int("active_bin", activeBin),
		zap.Int("min_bin", pos.MinBinID),
		zap.Int("max_bin", pos.MaxBinID))
	s.emit(eventFor(pos, activeBin, "out_of_range"))

	if s.rebalancer == nil || signer == nil {
		// Alert-only mode: the wallet signs elsewhere, we just nag.
		s.alertOutOfRange(ctx, pos, activeBin)
		return false
	}

	s.met.RebalancesStarted.Inc()
	res, err := s.rebalancer.Rebalance(ctx, pos, signer, activeBin)
	if err != nil {
		s.met.RebalancesFailed.Inc()
		s.log.Error("rebalance failed",
			zap.Int64("position_id", pos.ID), zap.Error(err))
		return false
	}
	switch res.Outcome {
	case rebalance.OutcomeRebalanced:
		s.met.RebalancesComplete.Inc()
		e := eventFor(pos, activeBin, "rebalanced")
		e.NewPositionID = res.NewPositionID
		e.WidthBins = res.WidthBins
		s.emit(e)
	case rebalance.OutcomeClosed:
		s.met.PositionsClosed.Inc()
		s.emit(eventFor(pos, activeBin, "closed"))
	}
	return true
}

func (s *Supervisor) maybeClaimFees(ctx context.Context, pos state.Position, signer *chain.Signer, activeBin int) {
	if s.claimer == nil || signer == nil {
		return
	}
	claimed, err := s.claimer.MaybeClaim(ctx, pos, signer)
	if err != nil {
		s.log.Warn("fee claim check failed",
			zap.Int64("position_id", pos.ID), zap.Error(err))
		return
	}
	if claimed > 0 {
		s.met.FeeClaims.Inc()
		e := eventFor(pos, activeBin, "fees_claimed")
		e.FeesClaimed = claimed
		s.emit(e)
		s.notify(ctx, pos.Wallet, alerts.KindFeesClaimed,
			fmt.Sprintf("claimed %.6f in fees", claimed), pos.ID)
	}
}

// alertOutOfRange sends at most one out-of-range alert per position per
// cooldown window, stamped through the store's kv so the de-dup survives
// restarts.
func (s *Supervisor) alertOutOfRange(ctx context.Context, pos state.Position, activeBin int) {
	if s.notifier == nil {
		return
	}
	key := fmt.Sprintf("alert:out_of_range:%d", pos.ID)
	if stamp, ok, err := s.store.Get(ctx, key); err == nil && ok {
		if last, perr := time.Parse(time.RFC3339, stamp); perr == nil &&
			time.Since(last) < s.cfg.AlertCooldown {
			return
		}
	}
	msg := fmt.Sprintf("out of range: activation bin %d left [%d, %d]",
		activeBin, pos.MinBinID, pos.MaxBinID)
	if err := s.notifier.Notify(ctx, pos.Wallet, alerts.KindOutOfRange, msg, pos.ID); err != nil {
		s.log.Warn("out-of-range alert failed",
			zap.Int64("position_id", pos.ID), zap.Error(err))
		return
	}
	s.met.AlertsSent.Inc()
	if err := s.store.Set(ctx, key, time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.log.Warn("failed to stamp alert cooldown", zap.Error(err))
	}
}

func (s *Supervisor) emit(e Event) {
	if s.observer == nil {
		return
	}
	s.observer(e)
}

func (s *Supervisor) notify(ctx context.Context, wallet common.Address, kind alerts.Kind, message string, positionID int64) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, wallet, kind, message, positionID); err != nil {
		s.log.Warn("notification failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}
