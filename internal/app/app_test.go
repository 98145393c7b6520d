package app

import (
	"testing"
	"time"

	"dlmm-range-bot/internal/analytics"
	"dlmm-range-bot/internal/config"
	"dlmm-range-bot/internal/monitor"

	"github.com/ethereum/go-ethereum/common"
)

// Well-known throwaway dev key.
const (
	devKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestLoadSignersResolvesDelegatedKey(t *testing.T) {
	t.Setenv("TEST_WALLET_KEY", devKey)
	signers, err := loadSigners([]config.WalletConfig{
		{Address: devAddress, PrivateKeyEnv: "TEST_WALLET_KEY"},
	})
	if err != nil {
		t.Fatalf("loadSigners: %v", err)
	}
	signer := signers[common.HexToAddress(devAddress)]
	if signer == nil {
		t.Fatal("expected a signer for the delegated wallet")
	}
	if signer.Address() != common.HexToAddress(devAddress) {
		t.Errorf("signer address = %s", signer.Address().Hex())
	}
}

func TestLoadSignersAlertOnlyWallet(t *testing.T) {
	signers, err := loadSigners([]config.WalletConfig{
		{Address: devAddress},
	})
	if err != nil {
		t.Fatalf("loadSigners: %v", err)
	}
	signer, ok := signers[common.HexToAddress(devAddress)]
	if !ok {
		t.Fatal("wallet without key must still be tracked")
	}
	if signer != nil {
		t.Error("wallet without key must have a nil signer")
	}
}

func TestLoadSignersRejectsKeyAddressMismatch(t *testing.T) {
	t.Setenv("TEST_WALLET_KEY", devKey)
	_, err := loadSigners([]config.WalletConfig{
		{Address: "0x1111111111111111111111111111111111111111", PrivateKeyEnv: "TEST_WALLET_KEY"},
	})
	if err == nil {
		t.Fatal("expected error for key signing for a different address")
	}
}

func TestLoadSignersRejectsEmptyEnv(t *testing.T) {
	_, err := loadSigners([]config.WalletConfig{
		{Address: devAddress, PrivateKeyEnv: "TEST_WALLET_KEY_UNSET"},
	})
	if err == nil {
		t.Fatal("expected error for unset key env")
	}
}

func TestLoadSignersRejectsMalformedAddress(t *testing.T) {
	_, err := loadSigners([]config.WalletConfig{
		{Address: "not-an-address"},
	})
	if err == nil {
		t.Fatal("expected error for malformed wallet address")
	}
}

type recordingSink struct {
	checks []analytics.PositionCheck
	events []analytics.RebalanceEvent
}

func (s *recordingSink) EnqueueCheck(c analytics.PositionCheck) { s.checks = append(s.checks, c) }
func (s *recordingSink) EnqueueEvent(e analytics.RebalanceEvent) { s.events = append(s.events, e) }

func TestObserveLifecycleRoutesChecks(t *testing.T) {
	sink := &recordingSink{}
	observe := observeLifecycle(sink)

	wallet := common.HexToAddress(devAddress)
	pool := common.HexToAddress("0x2222222222222222222222222222222222222222")
	observe(monitor.Event{
		Wallet:     wallet,
		PositionID: 7,
		Pool:       pool,
		ActiveBin:  105,
		MinBinID:   80,
		MaxBinID:   148,
		Status:     "in_range",
		At:         time.Now().UTC(),
	})

	if len(sink.events) != 0 {
		t.Fatalf("in_range must not produce a lifecycle event, got %d", len(sink.events))
	}
	if len(sink.checks) != 1 {
		t.Fatalf("checks = %d, want 1", len(sink.checks))
	}
	c := sink.checks[0]
	if c.MinBinID != 80 || c.MaxBinID != 148 {
		t.Errorf("check range = [%d, %d], want [80, 148]", c.MinBinID, c.MaxBinID)
	}
	if c.ActiveBin != 105 || c.Status != "in_range" {
		t.Errorf("check = %+v", c)
	}
}

func TestObserveLifecycleRoutesOutcomes(t *testing.T) {
	sink := &recordingSink{}
	observe := observeLifecycle(sink)

	wallet := common.HexToAddress(devAddress)
	pool := common.HexToAddress("0x2222222222222222222222222222222222222222")
	observe(monitor.Event{
		Wallet:        wallet,
		PositionID:    7,
		Pool:          pool,
		Status:        "rebalanced",
		NewPositionID: 8,
		WidthBins:     91,
		At:            time.Now().UTC(),
	})
	observe(monitor.Event{
		Wallet:      wallet,
		PositionID:  8,
		Pool:        pool,
		Status:      "fees_claimed",
		FeesClaimed: 1.25,
		At:          time.Now().UTC(),
	})
	observe(monitor.Event{
		Wallet:     wallet,
		PositionID: 8,
		Pool:       pool,
		Status:     "closed",
		At:         time.Now().UTC(),
	})

	if len(sink.checks) != 0 {
		t.Fatalf("lifecycle outcomes must not land in position checks, got %d", len(sink.checks))
	}
	if len(sink.events) != 3 {
		t.Fatalf("events = %d, want 3", len(sink.events))
	}
	reb := sink.events[0]
	if reb.Kind != "rebalanced" || reb.NewPositionID != 8 || reb.WidthBins != 91 {
		t.Errorf("rebalanced event = %+v", reb)
	}
	claim := sink.events[1]
	if claim.Kind != "fees_claimed" || claim.FeesClaimed != 1.25 {
		t.Errorf("fee claim event = %+v", claim)
	}
	if sink.events[2].Kind != "closed" {
		t.Errorf("closed event = %+v", sink.events[2])
	}
}
