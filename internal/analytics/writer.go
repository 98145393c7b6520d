package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"dlmm-range-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// PositionCheck is one monitor observation of a position against the
// activation bin.
type PositionCheck struct {
	Time       time.Time
	Wallet     string
	PositionID int64
	Pool       string
	ActiveBin  int
	MinBinID   int
	MaxBinID   int
	Status     string
}

/// RebalanceEvent records one completed lifecycle transition: a rebalance,
// a terminal close, or a fee claim.
type RebalanceEvent struct {
	Time          time.Time
	Wallet        string
	PositionID    int64
	NewPositionID int64
	Pool          string
	Kind          string
	WidthBins     int
	FeesClaimed   float64
}

// Writer streams monitor observations into TimescaleDB on a best-effort
// basis: a full queue drops the sample rather than stalling a monitor
// tick, and insert failures are logged and forgotten.
type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	checks     chan PositionCheck
	events     chan RebalanceEvent
	started    atomic.Bool
	dropChecks atomic.Uint64
	dropEvents atomic.Uint64
}

func New(cfg config.AnalyticsConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("analytics dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		checks: make(chan PositionCheck, queueSize),
		events: make(chan RebalanceEvent, queueSize),
	}
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueCheck(check PositionCheck) {
	if w == nil {
		return
	}
	select {
	case w.checks <- check:
		return
	default:
		if w.dropChecks.Add(1) == 1 && w.log != nil {
			w.log.Warn("analytics check queue full")
		}
	}
}

func (w *Writer) EnqueueEvent(event RebalanceEvent) {
	if w == nil {
		return
	}
	select {
	case w.events <- event:
		return
	default:
		if w.dropEvents.Add(1) == 1 && w.log != nil {
			w.log.Warn("analytics event queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case check := <-w.checks:
			w.writeCheck(ctx, check)
		case event := <-w.events:
			w.writeEvent(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("analytics db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		wallet TEXT NOT NULL,
		position_id BIGINT NOT NULL,
		pool TEXT NOT NULL,
		active_bin INTEGER NOT NULL,
		min_bin INTEGER NOT NULL,
		max_bin INTEGER NOT NULL,
		status TEXT NOT NULL
	)`, w.table("position_checks"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		wallet TEXT NOT NULL,
		position_id BIGINT NOT NULL,
		new_position_id BIGINT NOT NULL,
		pool TEXT NOT NULL,
		kind TEXT NOT NULL,
		width_bins INTEGER NOT NULL,
		fees_claimed DOUBLE PRECISION NOT NULL DEFAULT 0
	)`, w.table("lifecycle_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("position_checks"))); err != nil && w.log != nil {
		w.log.Warn("position_checks hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("lifecycle_events"))); err != nil && w.log != nil {
		w.log.Warn("lifecycle_events hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeCheck(ctx context.Context, check PositionCheck) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, wallet, position_id, pool, active_bin, min_bin, max_bin, status
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, w.table("position_checks"))
	if _, err := w.db.ExecContext(ctx, query,
		check.Time,
		check.Wallet,
		check.PositionID,
		check.Pool,
		check.ActiveBin,
		check.MinBinID,
		check.MaxBinID,
		check.Status,
	); err != nil && w.log != nil {
		w.log.Warn("position check insert failed", zap.Error(err))
	}
}

func (w *Writer) writeEvent(ctx context.Context, event RebalanceEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, wallet, position_id, new_position_id, pool, kind, width_bins, fees_claimed
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, w.table("lifecycle_events"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.Wallet,
		event.PositionID,
		event.NewPositionID,
		event.Pool,
		event.Kind,
		event.WidthBins,
		event.FeesClaimed,
	); err != nil && w.log != nil {
		w.log.Warn("lifecycle event insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return fmt.Sprintf("%s.%s", w.schema, name)
}
