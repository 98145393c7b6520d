package state

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Store is the single source of truth for position records. Implementations
// must serialize concurrent access to the same record; TransitionStatus is
// the compare-and-set primitive the monitor and rebalancer coordinate on.
type Store interface {
	CreatePosition(ctx context.Context, p *Position) error
	Position(ctx context.Context, id int64) (Position, bool, error)
	ActivePositions(ctx context.Context, wallet common.Address) ([]Position, error)
	WalletsWithActivePositions(ctx context.Context) ([]common.Address, error)

	// TransitionStatus atomically moves a position from one status to
	// another, reporting false when the record was not in the expected
	// status. A closed position never re-enters any other status.
	TransitionStatus(ctx context.Context, id int64, from, to Status) (bool, error)
	ClosePosition(ctx context.Context, id int64, closedAt time.Time) error
	IncrementRebalanceCount(ctx context.Context, id int64) error
	AddFeesEarned(ctx context.Context, id int64, amount float64) error

	// Small kv surface for engine bookkeeping (alert de-dup stamps etc.).
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	Close() error
}
