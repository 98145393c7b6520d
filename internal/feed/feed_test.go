package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var feedPool = common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")

type fallbackFunc func(ctx context.Context, pool common.Address) (int, error)

func (f fallbackFunc) ActiveBin(ctx context.Context, pool common.Address) (int, error) {
	return f(ctx, pool)
}

func TestHandleCachesBinUpdates(t *testing.T) {
	s := NewStream("ws://unused", time.Second, 0, nil)
	s.handle([]byte(`{"topic":"activeBin","pool":"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee","bin":8312}`))

	bin, at, ok := s.CachedBin(feedPool)
	if !ok {
		t.Fatal("update not cached")
	}
	if bin != 8312 {
		t.Errorf("bin = %d, want 8312", bin)
	}
	if time.Since(at) > time.Minute {
		t.Errorf("stale observation time %s", at)
	}
}

func TestHandleIgnoresOtherTopicsAndGarbage(t *testing.T) {
	s := NewStream("ws://unused", time.Second, 0, nil)
	s.handle([]byte(`{"topic":"trades","pool":"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee","bin":1}`))
	s.handle([]byte(`{"topic":"activeBin","pool":"not-an-address","bin":2}`))
	s.handle([]byte(`not json`))

	if _, _, ok := s.CachedBin(feedPool); ok {
		t.Error("non-bin traffic must not populate the cache")
	}
}

func TestBinSourcePrefersFreshCache(t *testing.T) {
	s := NewStream("ws://unused", time.Second, 0, nil)
	s.handle([]byte(`{"topic":"activeBin","pool":"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee","bin":500}`))
	rpcCalls := 0
	src := NewBinSource(s, fallbackFunc(func(ctx context.Context, pool common.Address) (int, error) {
		rpcCalls++
		return 999, nil
	}), time.Minute, nil)

	bin, err := src.ActiveBin(context.Background(), feedPool)
	if err != nil {
		t.Fatalf("active bin: %v", err)
	}
	if bin != 500 {
		t.Errorf("bin = %d, want cached 500", bin)
	}
	if rpcCalls != 0 {
		t.Errorf("rpc calls = %d, want 0 with a fresh cache", rpcCalls)
	}
}

func TestBinSourceFallsBackWhenStale(t *testing.T) {
	s := NewStream("ws://unused", time.Second, 0, nil)
	s.handle([]byte(`{"topic":"activeBin","pool":"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee","bin":500}`))
	src := NewBinSource(s, fallbackFunc(func(ctx context.Context, pool common.Address) (int, error) {
		return 777, nil
	}), time.Minute, nil)
	src.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }

	bin, err := src.ActiveBin(context.Background(), feedPool)
	if err != nil {
		t.Fatalf("active bin: %v", err)
	}
	if bin != 777 {
		t.Errorf("bin = %d, want rpc 777 past staleness window", bin)
	}
}

func TestBinSourceWithoutStreamPollsRPC(t *testing.T) {
	wantErr := errors.New("rpc down")
	src := NewBinSource(nil, fallbackFunc(func(ctx context.Context, pool common.Address) (int, error) {
		return 0, wantErr
	}), time.Minute, nil)

	if _, err := src.ActiveBin(context.Background(), feedPool); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want rpc error passthrough", err)
	}
}
