package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dlmm-range-bot/internal/dlmm"
	"dlmm-range-bot/internal/txbuild"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Well-known anvil/hardhat test key, not a live wallet.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testOps(t *testing.T) []txbuild.Operation {
	t.Helper()
	cfg := dlmm.StrategyConfig{Shape: dlmm.ShapeSpot, MinBinID: 1, MaxBinID: 250}
	ops, err := txbuild.BuildPosition(cfg, common.HexToAddress("0x01"), common.HexToAddress("0x02"),
		big.NewInt(1e18), dlmm.SideX, txbuild.BlockRef{Number: 7})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return ops
}

type fakeChain struct {
	sent      []string
	failOn    int
	failMsg   string
	confirmed map[string]bool
}

func newFakeChain(failOn int, failMsg string) *fakeChain {
	return &fakeChain{failOn: failOn, failMsg: failMsg, confirmed: map[string]bool{}}
}

func (f *fakeChain) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params map[string]string `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "sendOperation":
			idx := len(f.sent)
			if f.failOn >= 0 && idx == f.failOn {
				_ = json.NewEncoder(w).Encode(map[string]string{"error": f.failMsg})
				return
			}
			hash := common.BigToHash(big.NewInt(int64(idx + 1))).Hex()
			f.sent = append(f.sent, hash)
			f.confirmed[hash] = true
			_ = json.NewEncoder(w).Encode(map[string]string{"tx_hash": hash})
		case "getOperationStatus":
			status := "pending"
			if f.confirmed[req.Params["tx_hash"]] {
				status = "confirmed"
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
		default:
			http.Error(w, "unknown method", http.StatusBadRequest)
		}
	}
}

func TestSubmitSequenceOrdered(t *testing.T) {
	fake := newFakeChain(-1, "")
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := New(srv.URL, time.Second, zap.NewNop())
	signer, err := NewSigner(testKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	sub := NewSubmitter(client, zap.NewNop())

	ops := testOps(t)
	hashes, err := sub.SubmitSequence(context.Background(), signer, ops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hashes) != len(ops) {
		t.Fatalf("expected %d hashes, got %d", len(ops), len(hashes))
	}
	if len(fake.sent) != len(ops) {
		t.Fatalf("expected %d submissions, got %d", len(ops), len(fake.sent))
	}
}

func TestSubmitSequenceInsufficientFunds(t *testing.T) {
	fake := newFakeChain(0, "execution reverted: insufficient funds for deposit")
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := New(srv.URL, time.Second, zap.NewNop())
	signer, _ := NewSigner(testKey)
	sub := NewSubmitter(client, zap.NewNop())

	_, err := sub.SubmitSequence(context.Background(), signer, testOps(t))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestSubmitSequenceAbortsOnMidFailure(t *testing.T) {
	// Third op rejected: the committed prefix is returned, nothing after
	// the failure is submitted.
	fake := newFakeChain(2, "no liquidity in range")
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := New(srv.URL, time.Second, zap.NewNop())
	signer, _ := NewSigner(testKey)
	sub := NewSubmitter(client, zap.NewNop())

	ops := testOps(t)
	hashes, err := sub.SubmitSequence(context.Background(), signer, ops)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("expected ErrNoLiquidity classification, got %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("expected 2 committed ops, got %d", len(hashes))
	}
	if len(fake.sent) != 2 {
		t.Fatalf("expected submission to stop after failure, got %d sends", len(fake.sent))
	}
}

func TestClassifySubmissionError(t *testing.T) {
	if !errors.Is(classifySubmissionError("Insufficient Balance"), ErrInsufficientFunds) {
		t.Error("expected insufficient funds classification")
	}
	if !errors.Is(classifySubmissionError("position has no liquidity"), ErrNoLiquidity) {
		t.Error("expected no liquidity classification")
	}
	err := classifySubmissionError("nonce too low")
	if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrNoLiquidity) {
		t.Error("generic error must not match sentinels")
	}
	if err.Error() != "nonce too low" {
		t.Errorf("underlying message not preserved: %v", err)
	}
}

func TestSerializeSequence(t *testing.T) {
	client := New("http://unused", time.Second, zap.NewNop())
	sub := NewSubmitter(client, zap.NewNop())
	ops := testOps(t)
	blobs, err := sub.Serialize(ops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blobs) != len(ops) {
		t.Fatalf("expected %d blobs, got %d", len(ops), len(blobs))
	}
	decoded, err := txbuild.DecodeOperation(blobs[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != ops[0].Kind {
		t.Fatalf("expected %s, got %s", ops[0].Kind, decoded.Kind)
	}
}
