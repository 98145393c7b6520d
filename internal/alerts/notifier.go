package alerts

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type Kind string

const (
	KindOutOfRange      Kind = "out_of_range"
	KindRebalanced      Kind = "rebalanced"
	KindRebalanceFailed Kind = "rebalance_failed"
	KindPositionClosed  Kind = "position_closed"
	KindFeesClaimed     Kind = "fees_claimed"
)

// Notifier is the notification sink. Rate limiting is the caller's job;
// the monitor de-duplicates out-of-range alerts per position.
type Notifier interface {
	Notify(ctx context.Context, wallet common.Address, kind Kind, message string, positionID int64) error
}
