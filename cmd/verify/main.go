package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"dlmm-range-bot/internal/advisor"
	"dlmm-range-bot/internal/chain"
	"dlmm-range-bot/internal/config"
	"dlmm-range-bot/internal/dlmm"
	"dlmm-range-bot/internal/logging"
	"dlmm-range-bot/internal/pools"
	"dlmm-range-bot/internal/strategy"
	"dlmm-range-bot/internal/txbuild"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// verify exercises the read path and the planning path against a live RPC
// endpoint without touching chain state: rank pools, pick a strategy, build
// the operation sequence and print it. With -submit it signs and submits
// the sequence with the named wallet's delegated key.

const defaultRPCTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "optional config path")
	poolArg := flag.String("pool", "", "pool address; empty picks the top-ranked pool")
	sideArg := flag.String("side", "y", "deposit side: x or y")
	amountArg := flag.String("amount", "1000000000000000000", "deposit amount in smallest units")
	walletArg := flag.String("wallet", "", "wallet address for the deposit plan")
	submit := flag.Bool("submit", false, "sign and submit instead of printing the plan")
	flag.Parse()

	_ = godotenv.Load(".env")

	logCfg := config.LoggingConfig{Level: "info"}
	rpcURL := strings.TrimSpace(os.Getenv("DLMM_RPC_URL"))
	timeout := defaultRPCTimeout
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
		logCfg = cfg.Log
		rpcURL = cfg.RPC.BaseURL
		if cfg.RPC.Timeout > 0 {
			timeout = cfg.RPC.Timeout
		}
	}
	if rpcURL == "" {
		fatal(fmt.Errorf("rpc url is required: pass -config or set DLMM_RPC_URL"))
	}

	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := chain.New(rpcURL, timeout, log)
	ref, err := client.LatestBlockRef(ctx)
	if err != nil {
		fatal(fmt.Errorf("rpc unreachable: %w", err))
	}
	log.Info("rpc reachable", zap.Uint64("block", ref.Number))

	pool, err := pickPool(ctx, client, *poolArg)
	if err != nil {
		fatal(err)
	}
	activeBin, err := client.ActiveBin(ctx, pool.Address)
	if err != nil {
		fatal(fmt.Errorf("active bin: %w", err))
	}
	log.Info("pool selected",
		zap.String("pool", pool.Address.Hex()),
		zap.String("name", pool.Name),
		zap.Int("bin_step", pool.BinStep),
		zap.Int("active_bin", activeBin),
	)

	side, err := parseSide(*sideArg, pool)
	if err != nil {
		fatal(err)
	}
	amount, ok := new(big.Int).SetString(*amountArg, 10)
	if !ok || amount.Sign() <= 0 {
		fatal(fmt.Errorf("invalid -amount %q", *amountArg))
	}
	wallet, signer, err := resolveWallet(cfg, *walletArg)
	if err != nil {
		fatal(err)
	}

	selector := newSelector(cfg, log)
	strategyCfg := selector.Select(ctx, pool, activeBin, side, nil)
	log.Info("strategy selected",
		zap.String("shape", string(strategyCfg.Shape)),
		zap.Int("min_bin", strategyCfg.MinBinID),
		zap.Int("max_bin", strategyCfg.MaxBinID),
		zap.Int("width", strategyCfg.Width()),
	)

	ops, err := txbuild.BuildPosition(strategyCfg, pool.Address, wallet, amount, side, ref)
	if err != nil {
		fatal(fmt.Errorf("build position: %w", err))
	}

	if !*submit {
		printPlan(ops)
		return
	}
	if signer == nil {
		fatal(fmt.Errorf("-submit requires a delegated key for wallet %s", wallet.Hex()))
	}
	hashes, err := chain.NewSubmitter(client, log).SubmitSequence(ctx, signer, ops)
	if err != nil {
		fatal(fmt.Errorf("submitted %d of %d operations: %w", len(hashes), len(ops), err))
	}
	for _, h := range hashes {
		fmt.Println(h.Hex())
	}
}

func pickPool(ctx context.Context, client *chain.Client, arg string) (dlmm.PoolSnapshot, error) {
	if arg != "" {
		if !common.IsHexAddress(arg) {
			return dlmm.PoolSnapshot{}, fmt.Errorf("invalid -pool %q", arg)
		}
		want := common.HexToAddress(arg)
		universe, err := client.Pools(ctx)
		if err != nil {
			return dlmm.PoolSnapshot{}, err
		}
		for _, p := range universe {
			if p.Address == want {
				return p, nil
			}
		}
		return dlmm.PoolSnapshot{}, fmt.Errorf("pool %s not listed by the venue", want.Hex())
	}
	ranked, err := pools.NewScorer(client).Rank(ctx, 1, pools.ModeFees)
	if err != nil {
		return dlmm.PoolSnapshot{}, err
	}
	if len(ranked) == 0 {
		return dlmm.PoolSnapshot{}, fmt.Errorf("no pools pass the ranking filters")
	}
	return ranked[0], nil
}

func parseSide(arg string, pool dlmm.PoolSnapshot) (dlmm.Side, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "x":
		return dlmm.SideX, nil
	case "y":
		return dlmm.SideY, nil
	case "":
		if pool.HomeSide != "" {
			return pool.HomeSide, nil
		}
		return dlmm.SideY, nil
	default:
		return "", fmt.Errorf("invalid -side %q, want x or y", arg)
	}
}

func resolveWallet(cfg *config.Config, arg string) (common.Address, *chain.Signer, error) {
	if arg != "" {
		if !common.IsHexAddress(arg) {
			return common.Address{}, nil, fmt.Errorf("invalid -wallet %q", arg)
		}
		addr := common.HexToAddress(arg)
		if cfg != nil {
			for _, w := range cfg.Wallets {
				if common.HexToAddress(w.Address) == addr && w.PrivateKeyEnv != "" {
					signer, err := chain.NewSigner(os.Getenv(w.PrivateKeyEnv))
					if err != nil {
						return common.Address{}, nil, fmt.Errorf("wallet %s: %w", addr.Hex(), err)
					}
					return addr, signer, nil
				}
			}
		}
		return addr, nil, nil
	}
	if cfg != nil && len(cfg.Wallets) > 0 {
		w := cfg.Wallets[0]
		addr := common.HexToAddress(w.Address)
		if w.PrivateKeyEnv != "" {
			signer, err := chain.NewSigner(os.Getenv(w.PrivateKeyEnv))
			if err != nil {
				return common.Address{}, nil, fmt.Errorf("wallet %s: %w", addr.Hex(), err)
			}
			return addr, signer, nil
		}
		return addr, nil, nil
	}
	return common.Address{}, nil, fmt.Errorf("no wallet: pass -wallet or configure wallets")
}

func newSelector(cfg *config.Config, log *zap.Logger) *strategy.Selector {
	if cfg == nil || cfg.Advisor.BaseURL == "" {
		return strategy.NewSelector(nil, log)
	}
	return strategy.NewSelector(advisor.New(cfg.Advisor.BaseURL, cfg.Advisor.Timeout, cfg.Advisor.CacheTTL, log), log)
}

func printPlan(ops []txbuild.Operation) {
	type planOp struct {
		Seq      int    `json:"seq"`
		Kind     string `json:"kind"`
		MinBinID int    `json:"min_bin_id"`
		MaxBinID int    `json:"max_bin_id"`
		Shape    string `json:"shape,omitempty"`
		Amount   string `json:"amount,omitempty"`
		Calldata string `json:"calldata_bytes"`
	}
	plan := make([]planOp, len(ops))
	for i, op := range ops {
		p := planOp{
			Seq:      op.Seq,
			Kind:     string(op.Kind),
			MinBinID: op.MinBinID,
			MaxBinID: op.MaxBinID,
			Shape:    string(op.Shape),
			Calldata: fmt.Sprintf("%d", len(op.Calldata)),
		}
		if op.Amount != nil {
			p.Amount = op.Amount.String()
		}
		plan[i] = p
	}
	out, _ := json.MarshalIndent(plan, "", "  ")
	fmt.Println(string(out))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
