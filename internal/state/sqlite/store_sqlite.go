package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"dlmm-range-bot/internal/dlmm"
	"dlmm-range-bot/internal/state"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under the per-wallet monitor loops.
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS positions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	wallet           TEXT NOT NULL,
	pool             TEXT NOT NULL,
	onchain_id       TEXT NOT NULL,
	deposit_amount   TEXT NOT NULL,
	shape            TEXT NOT NULL,
	min_bin          INTEGER NOT NULL,
	max_bin          INTEGER NOT NULL,
	side             TEXT NOT NULL,
	status           TEXT NOT NULL,
	rebalance_count  INTEGER NOT NULL DEFAULT 0,
	fees_earned      REAL NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	closed_at        INTEGER
);
CREATE INDEX IF NOT EXISTS idx_positions_wallet_status ON positions (wallet, status);
CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL);
`)
	return err
}

func (s *Store) CreatePosition(ctx context.Context, p *state.Position) error {
	if p.DepositAmount == nil {
		return errors.New("deposit amount is required")
	}
	if p.Status == "" {
		p.Status = state.StatusActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO positions (wallet, pool, onchain_id, deposit_amount, shape, min_bin, max_bin, side, status, rebalance_count, fees_earned, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Wallet.Hex(), p.Pool.Hex(), p.OnChainID, p.DepositAmount.String(),
		string(p.Shape), p.MinBinID, p.MaxBinID, string(p.Side),
		string(p.Status), p.RebalanceCount, p.FeesEarned, p.CreatedAt.UnixMilli())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

const positionColumns = `id, wallet, pool, onchain_id, deposit_amount, shape, min_bin, max_bin, side, status, rebalance_count, fees_earned, created_at, closed_at`

func scanPosition(row interface{ Scan(...any) error }) (state.Position, error) {
	var (
		p         state.Position
		wallet    string
		pool      string
		amount    string
		shape     string
		side      string
		status    string
		createdMS int64
		closedMS  sql.NullInt64
	)
	err := row.Scan(&p.ID, &wallet, &pool, &p.OnChainID, &amount, &shape,
		&p.MinBinID, &p.MaxBinID, &side, &status, &p.RebalanceCount,
		&p.FeesEarned, &createdMS, &closedMS)
	if err != nil {
		return state.Position{}, err
	}
	p.Wallet = common.HexToAddress(wallet)
	p.Pool = common.HexToAddress(pool)
	dep, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return state.Position{}, fmt.Errorf("position %d: invalid deposit amount %q", p.ID, amount)
	}
	p.DepositAmount = dep
	p.Shape = dlmm.Shape(shape)
	p.Side = dlmm.Side(side)
	p.Status = state.Status(status)
	p.CreatedAt = time.UnixMilli(createdMS).UTC()
	if closedMS.Valid {
		t := time.UnixMilli(closedMS.Int64).UTC()
		p.ClosedAt = &t
	}
	return p, nil
}

func (s *Store) Position(ctx context.Context, id int64) (state.Position, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.Position{}, false, nil
		}
		return state.Position{}, false, err
	}
	return p, true, nil
}

func (s *Store) ActivePositions(ctx context.Context, wallet common.Address) ([]state.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE wallet = ? AND status = ? ORDER BY id`,
		wallet.Hex(), string(state.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []state.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) WalletsWithActivePositions(ctx context.Context) ([]common.Address, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT wallet FROM positions WHERE status = ? ORDER BY wallet`,
		string(state.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []common.Address
	for rows.Next() {
		var wallet string
		if err := rows.Scan(&wallet); err != nil {
			return nil, err
		}
		out = append(out, common.HexToAddress(wallet))
	}
	return out, rows.Err()
}

func (s *Store) TransitionStatus(ctx context.Context, id int64, from, to state.Status) (bool, error) {
	if from == state.StatusClosed {
		return false, errors.New("closed positions accept no transitions")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE positions SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ClosePosition(ctx context.Context, id int64, closedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE positions SET status = ?, closed_at = ? WHERE id = ? AND status != ?`,
		string(state.StatusClosed), closedAt.UnixMilli(), id, string(state.StatusClosed))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("position %d not found or already closed", id)
	}
	return nil
}

func (s *Store) IncrementRebalanceCount(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions SET rebalance_count = rebalance_count + 1 WHERE id = ?`, id)
	return err
}

func (s *Store) AddFeesEarned(ctx context.Context, id int64, amount float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions SET fees_earned = fees_earned + ? WHERE id = ?`, amount, id)
	return err
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
