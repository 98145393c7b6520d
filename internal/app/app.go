package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dlmm-range-bot/internal/advisor"
	"dlmm-range-bot/internal/alerts"
	"dlmm-range-bot/internal/analytics"
	"dlmm-range-bot/internal/chain"
	"dlmm-range-bot/internal/config"
	"dlmm-range-bot/internal/feed"
	"dlmm-range-bot/internal/fees"
	"dlmm-range-bot/internal/metrics"
	"dlmm-range-bot/internal/monitor"
	"dlmm-range-bot/internal/pools"
	"dlmm-range-bot/internal/rebalance"
	"dlmm-range-bot/internal/state"
	"dlmm-range-bot/internal/state/sqlite"
	"dlmm-range-bot/internal/strategy"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// App wires the engine together: one store, one chain boundary, one
// supervisor running a loop per monitored wallet.
type App struct {
	cfg        *config.Config
	log        *zap.Logger
	store      state.Store
	chain      *chain.Client
	stream     *feed.Stream
	supervisor *monitor.Supervisor
	analytics  *analytics.Writer
	prom       *metrics.Prometheus
	signers    map[common.Address]*chain.Signer
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	chainClient := chain.New(cfg.RPC.BaseURL, cfg.RPC.Timeout, log)
	submitter := chain.NewSubmitter(chainClient, log)

	signers, err := loadSigners(cfg.Wallets)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var stream *feed.Stream
	if cfg.Feed.Enabled {
		stream = feed.NewStream(cfg.Feed.URL, cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval, log)
	}
	binSource := feed.NewBinSource(stream, chainClient, 2*cfg.Monitor.TickInterval, log)

	advisorClient := advisor.New(cfg.Advisor.BaseURL, cfg.Advisor.Timeout, cfg.Advisor.CacheTTL, log)
	selector := strategy.NewSelector(advisorClient, log)
	ranker := pools.NewScorer(chainClient)
	notifier := alerts.NewTelegram(cfg.Telegram, log)

	var met *metrics.Metrics
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		met = prom.Metrics
	} else {
		met = metrics.NewNoop()
	}

	analyticsWriter, err := analytics.New(cfg.Analytics, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("analytics init: %w", err)
	}

	rebalancer := rebalance.New(store, ranker, selector, chainClient, submitter, notifier, rebalance.Config{
		CandidateCount: cfg.Rebalance.CandidateCount,
		KeepWithinTop:  cfg.Rebalance.KeepWithinTop,
		RankMode:       pools.RankMode(cfg.Rebalance.RankMode),
	}, log)
	claimer := fees.New(chainClient, submitter, store, cfg.Fees.MinClaimHomeAsset, log)
	supervisor := monitor.NewSupervisor(store, binSource, rebalancer, claimer, notifier, cfg.Monitor, met, log)

	if analyticsWriter != nil {
		supervisor.SetObserver(observeLifecycle(analyticsWriter))
	}

	return &App{
		cfg:        cfg,
		log:        log,
		store:      store,
		chain:      chainClient,
		stream:     stream,
		supervisor: supervisor,
		analytics:  analyticsWriter,
		prom:       prom,
		signers:    signers,
	}, nil
}

// lifecycleSink is the slice of the analytics writer the observer needs.
type lifecycleSink interface {
	EnqueueCheck(c analytics.PositionCheck)
	EnqueueEvent(e analytics.RebalanceEvent)
}

// observeLifecycle routes monitor events into analytics: lifecycle
// outcomes (rebalanced, closed, fees_claimed) land in lifecycle_events,
// everything else is a position_checks sample.
func observeLifecycle(sink lifecycleSink) func(monitor.Event) {
	return func(e monitor.Event) {
		switch e.Status {
		case "rebalanced", "closed", "fees_claimed":
			sink.EnqueueEvent(analytics.RebalanceEvent{
				Time:          e.At,
				Wallet:        e.Wallet.Hex(),
				PositionID:    e.PositionID,
				NewPositionID: e.NewPositionID,
				Pool:          e.Pool.Hex(),
				Kind:          e.Status,
				WidthBins:     e.WidthBins,
				FeesClaimed:   e.FeesClaimed,
			})
		default:
			sink.EnqueueCheck(analytics.PositionCheck{
				Time:       e.At,
				Wallet:     e.Wallet.Hex(),
				PositionID: e.PositionID,
				Pool:       e.Pool.Hex(),
				ActiveBin:  e.ActiveBin,
				MinBinID:   e.MinBinID,
				MaxBinID:   e.MaxBinID,
				Status:     e.Status,
			})
		}
	}
}

// loadSigners resolves each wallet's delegated key from its named
// environment variable and checks it against the declared address. Wallets
// without a key run in alert-only mode.
func loadSigners(wallets []config.WalletConfig) (map[common.Address]*chain.Signer, error) {
	signers := make(map[common.Address]*chain.Signer)
	for _, w := range wallets {
		if !common.IsHexAddress(w.Address) {
			return nil, fmt.Errorf("wallet %q is not a valid address", w.Address)
		}
		addr := common.HexToAddress(w.Address)
		if w.PrivateKeyEnv == "" {
			signers[addr] = nil
			continue
		}
		key := strings.TrimSpace(os.Getenv(w.PrivateKeyEnv))
		if key == "" {
			return nil, fmt.Errorf("wallet %s: %s is empty", addr.Hex(), w.PrivateKeyEnv)
		}
		signer, err := chain.NewSigner(key)
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", addr.Hex(), err)
		}
		if signer.Address() != addr {
			return nil, fmt.Errorf("wallet %s: key in %s signs for %s", addr.Hex(), w.PrivateKeyEnv, signer.Address().Hex())
		}
		signers[addr] = signer
	}
	return signers, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.analytics.Close()

	a.analytics.Start(ctx)
	if a.stream != nil {
		go func() {
			if err := a.stream.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Error("feed stream terminated", zap.Error(err))
			}
		}()
	}
	if a.prom != nil {
		go a.serveMetrics(ctx)
	}

	if err := a.recover(ctx); err != nil {
		return err
	}
	for addr, signer := range a.signers {
		if a.supervisor.Start(ctx, addr, signer) {
			a.log.Info("monitoring configured wallet",
				zap.String("wallet", addr.Hex()),
				zap.Bool("delegated", signer != nil))
		}
	}

	<-ctx.Done()
	a.supervisor.Shutdown()
	return ctx.Err()
}

// recover restarts monitoring for every wallet the store says still has
// active positions, including wallets dropped from the config since the
// last run. Those orphans run alert-only.
func (a *App) recover(ctx context.Context) error {
	wallets, err := a.store.WalletsWithActivePositions(ctx)
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	for _, wallet := range wallets {
		signer, configured := a.signers[wallet]
		if !configured {
			a.log.Warn("active positions for unconfigured wallet, monitoring alert-only",
				zap.String("wallet", wallet.Hex()))
		}
		if a.supervisor.Start(ctx, wallet, signer) {
			a.log.Info("recovered wallet monitor", zap.String("wallet", wallet.Hex()))
		}
	}
	return nil
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Error("metrics server failed", zap.Error(err))
	}
}
