package feed

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Fallback is the RPC path used when the stream cache has no fresh answer.
type Fallback interface {
	ActiveBin(ctx context.Context, pool common.Address) (int, error)
}

// BinSource serves activation bins from the stream cache when fresh, from
// RPC otherwise. With a nil stream it degrades to pure polling.
type BinSource struct {
	stream     *Stream
	fallback   Fallback
	staleAfter time.Duration
	log        *zap.Logger
	now        func() time.Time
}

func NewBinSource(stream *Stream, fallback Fallback, staleAfter time.Duration, log *zap.Logger) *BinSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &BinSource{
		stream:     stream,
		fallback:   fallback,
		staleAfter: staleAfter,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (b *BinSource) ActiveBin(ctx context.Context, pool common.Address) (int, error) {
	if b.stream != nil {
		if bin, at, ok := b.stream.CachedBin(pool); ok && b.now().Sub(at) <= b.staleAfter {
			return bin, nil
		}
		// First miss also registers interest so later reads hit the cache.
		if err := b.stream.Watch(ctx, pool); err != nil {
			b.log.Debug("stream subscription failed, serving from rpc",
				zap.String("pool", pool.Hex()), zap.Error(err))
		}
	}
	return b.fallback.ActiveBin(ctx, pool)
}
