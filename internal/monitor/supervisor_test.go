package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"dlmm-range-bot/internal/alerts"
	"dlmm-range-bot/internal/chain"
	"dlmm-range-bot/internal/config"
	"dlmm-range-bot/internal/dlmm"
	"dlmm-range-bot/internal/rebalance"
	"dlmm-range-bot/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

type fakeBins struct {
	mu          sync.Mutex
	bins        map[common.Address]int
	errs        map[common.Address]error
	hadDeadline bool
}

func (f *fakeBins) ActiveBin(ctx context.Context, pool common.Address) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.hadDeadline = ctx.Deadline()
	if err := f.errs[pool]; err != nil {
		return 0, err
	}
	return f.bins[pool], nil
}

type fakeRebalancer struct {
	mu          sync.Mutex
	calls       []int64
	exitBins    []int
	result      rebalance.Result
	err         error
	hadDeadline bool
}

func (f *fakeRebalancer) Rebalance(ctx context.Context, pos state.Position, signer *chain.Signer, exitBin int) (rebalance.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.hadDeadline = ctx.Deadline()
	f.calls = append(f.calls, pos.ID)
	f.exitBins = append(f.exitBins, exitBin)
	return f.result, f.err
}

type fakeClaimer struct {
	mu      sync.Mutex
	calls   int
	claimed float64
}

func (f *fakeClaimer) MaybeClaim(ctx context.Context, pos state.Position, signer *chain.Signer) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.claimed, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []alerts.Kind
}

func (r *recordingNotifier) Notify(ctx context.Context, wallet common.Address, kind alerts.Kind, message string, positionID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	return nil
}

func (r *recordingNotifier) sent() []alerts.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerts.Kind(nil), r.kinds...)
}

var (
	monWallet = common.HexToAddress("0x2222222222222222222222222222222222222222")
	monPool   = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
)

func monitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		TickInterval:    10 * time.Millisecond,
		AlertCooldown:   30 * time.Minute,
		PositionTimeout: time.Second,
	}
}

func seedPosition(t *testing.T, store state.Store, pool common.Address, minBin, maxBin int) state.Position {
	t.Helper()
	p := &state.Position{
		Wallet:        monWallet,
		Pool:          pool,
		OnChainID:     "0x1",
		DepositAmount: big.NewInt(1e18),
		Shape:         dlmm.ShapeSpot,
		MinBinID:      minBin,
		MaxBinID:      maxBin,
		Side:          dlmm.SideY,
		Status:        state.StatusActive,
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.CreatePosition(context.Background(), p); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return *p
}

// testSigner: any non-nil signer enables the rebalance/claim paths.
func testSigner(t *testing.T) *chain.Signer {
	t.Helper()
	s, err := chain.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return s
}

func TestTickInRangeClaimsFees(t *testing.T) {
	store := state.NewMemoryStore()
	seedPosition(t, store, monPool, 100, 139)
	bins := &fakeBins{bins: map[common.Address]int{monPool: 120}}
	reb := &fakeRebalancer{}
	claimer := &fakeClaimer{claimed: 1.5}
	notifier := &recordingNotifier{}

	s := NewSupervisor(store, bins, reb, claimer, notifier, monitorConfig(), nil, nil)
	var events []Event
	s.SetObserver(func(e Event) { events = append(events, e) })
	s.tick(context.Background(), monWallet, testSigner(t))

	if len(reb.calls) != 0 {
		t.Error("in-range position must not trigger a rebalance")
	}
	if claimer.calls != 1 {
		t.Errorf("claimer calls = %d, want 1", claimer.calls)
	}
	sent := notifier.sent()
	if len(sent) != 1 || sent[0] != alerts.KindFeesClaimed {
		t.Errorf("notifications = %v, want fees_claimed", sent)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want in_range then fees_claimed", len(events))
	}
	if events[0].Status != "in_range" || events[0].MinBinID != 100 || events[0].MaxBinID != 139 {
		t.Errorf("in_range event = %+v, want range [100, 139]", events[0])
	}
	if events[1].Status != "fees_claimed" || events[1].FeesClaimed != 1.5 {
		t.Errorf("fee claim event = %+v, want 1.5 claimed", events[1])
	}
}

func TestTickOutOfRangeTriggersRebalance(t *testing.T) {
	store := state.NewMemoryStore()
	pos := seedPosition(t, store, monPool, 100, 139)
	bins := &fakeBins{bins: map[common.Address]int{monPool: 155}}
	reb := &fakeRebalancer{result: rebalance.Result{Outcome: rebalance.OutcomeRebalanced, NewPositionID: 2, WidthBins: 91}}
	claimer := &fakeClaimer{}

	s := NewSupervisor(store, bins, reb, claimer, &recordingNotifier{}, monitorConfig(), nil, nil)
	var events []Event
	s.SetObserver(func(e Event) { events = append(events, e) })
	s.tick(context.Background(), monWallet, testSigner(t))

	if len(reb.calls) != 1 || reb.calls[0] != pos.ID {
		t.Fatalf("rebalancer calls = %v, want [%d]", reb.calls, pos.ID)
	}
	if reb.exitBins[0] != 155 {
		t.Errorf("exit bin = %d, want observed activation bin", reb.exitBins[0])
	}
	if claimer.calls != 0 {
		t.Error("out-of-range position must not run the fee claim check")
	}
	var statuses []string
	for _, e := range events {
		statuses = append(statuses, e.Status)
	}
	if len(statuses) != 2 || statuses[0] != "out_of_range" || statuses[1] != "rebalanced" {
		t.Fatalf("event statuses = %v", statuses)
	}
	if events[0].MinBinID != 100 || events[0].MaxBinID != 139 {
		t.Errorf("out_of_range event range = [%d, %d], want [100, 139]", events[0].MinBinID, events[0].MaxBinID)
	}
	if events[1].NewPositionID != 2 || events[1].WidthBins != 91 {
		t.Errorf("rebalanced event = %+v, want replacement position 2 at width 91", events[1])
	}
}

// The per-position timeout bounds the bin lookup only: a rebalance tears
// down and rebuilds across several confirmed transactions and must not
// inherit a deadline sized for a single chain query.
func TestPositionTimeoutScopedToBinLookup(t *testing.T) {
	store := state.NewMemoryStore()
	seedPosition(t, store, monPool, 100, 139)
	bins := &fakeBins{bins: map[common.Address]int{monPool: 155}}
	reb := &fakeRebalancer{result: rebalance.Result{Outcome: rebalance.OutcomeRebalanced}}

	s := NewSupervisor(store, bins, reb, nil, &recordingNotifier{}, monitorConfig(), nil, nil)
	s.tick(context.Background(), monWallet, testSigner(t))

	if !bins.hadDeadline {
		t.Error("bin lookup context must carry the position timeout")
	}
	if reb.hadDeadline {
		t.Error("rebalance context must not inherit the bin lookup deadline")
	}
}

func TestTickAlertOnlyModeDedupes(t *testing.T) {
	store := state.NewMemoryStore()
	seedPosition(t, store, monPool, 100, 139)
	bins := &fakeBins{bins: map[common.Address]int{monPool: 90}}
	notifier := &recordingNotifier{}

	// No rebalancer wired: watch-and-alert only.
	s := NewSupervisor(store, bins, nil, nil, notifier, monitorConfig(), nil, nil)
	s.tick(context.Background(), monWallet, nil)
	s.tick(context.Background(), monWallet, nil)
	s.tick(context.Background(), monWallet, nil)

	sent := notifier.sent()
	if len(sent) != 1 || sent[0] != alerts.KindOutOfRange {
		t.Errorf("notifications = %v, want a single deduped out_of_range", sent)
	}
}

func TestTickAlertResendsAfterCooldown(t *testing.T) {
	store := state.NewMemoryStore()
	pos := seedPosition(t, store, monPool, 100, 139)
	bins := &fakeBins{bins: map[common.Address]int{monPool: 90}}
	notifier := &recordingNotifier{}

	s := NewSupervisor(store, bins, nil, nil, notifier, monitorConfig(), nil, nil)
	s.tick(context.Background(), monWallet, nil)

	// Backdate the cooldown stamp past the window.
	key := fmt.Sprintf("alert:out_of_range:%d", pos.ID)
	stale := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	if err := store.Set(context.Background(), key, stale); err != nil {
		t.Fatalf("set stamp: %v", err)
	}
	s.tick(context.Background(), monWallet, nil)

	if got := len(notifier.sent()); got != 2 {
		t.Errorf("alerts sent = %d, want 2 after cooldown expiry", got)
	}
}

func TestTickIsolatesFailingPosition(t *testing.T) {
	store := state.NewMemoryStore()
	badPool := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
	seedPosition(t, store, badPool, 100, 139)
	good := seedPosition(t, store, monPool, 100, 139)
	bins := &fakeBins{
		bins: map[common.Address]int{monPool: 160},
		errs: map[common.Address]error{badPool: errors.New("feed down")},
	}
	reb := &fakeRebalancer{result: rebalance.Result{Outcome: rebalance.OutcomeRebalanced}}

	s := NewSupervisor(store, bins, reb, nil, &recordingNotifier{}, monitorConfig(), nil, nil)
	s.tick(context.Background(), monWallet, testSigner(t))

	if len(reb.calls) != 1 || reb.calls[0] != good.ID {
		t.Errorf("rebalancer calls = %v, want only the healthy position %d", reb.calls, good.ID)
	}
}

func TestStartIsIdempotentAndStopCancels(t *testing.T) {
	store := state.NewMemoryStore()
	bins := &fakeBins{bins: map[common.Address]int{}}
	s := NewSupervisor(store, bins, nil, nil, nil, monitorConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !s.Start(ctx, monWallet, nil) {
		t.Fatal("first Start returned false")
	}
	if s.Start(ctx, monWallet, nil) {
		t.Error("second Start for the same wallet must return false")
	}
	if !s.Monitoring(monWallet) {
		t.Error("wallet should be monitored after Start")
	}
	if !s.Stop(monWallet) {
		t.Error("Stop returned false for a running loop")
	}
	if s.Stop(monWallet) {
		t.Error("Stop must return false once the loop is gone")
	}
	if s.Monitoring(monWallet) {
		t.Error("wallet still reported as monitored after Stop")
	}
	s.Shutdown()
}
