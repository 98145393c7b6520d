package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// binUpdate is the stream payload for an activation-bin move.
type binUpdate struct {
	Topic string `json:"topic"`
	Pool  string `json:"pool"`
	Bin   int    `json:"bin"`
}

// Stream holds one websocket to the DEX event feed and keeps a per-pool
// activation-bin cache current. It reconnects forever with a fixed delay
// and replays its pool subscriptions after each reconnect; readers that
// find the cache stale fall back to RPC, so a flapping feed degrades to
// polling rather than failing checks.
type Stream struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	pools map[common.Address]struct{}
	cache map[common.Address]cachedBin
}

type cachedBin struct {
	bin       int
	updatedAt time.Time
}

func NewStream(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
		pools:          make(map[common.Address]struct{}),
		cache:          make(map[common.Address]cachedBin),
	}
}

// Watch adds a pool to the subscription set. Safe before or after Run; a
// subscription added mid-stream is sent on the live connection and replayed
// on reconnect like the rest.
func (s *Stream) Watch(ctx context.Context, pool common.Address) error {
	s.mu.Lock()
	if _, ok := s.pools[pool]; ok {
		s.mu.Unlock()
		return nil
	}
	s.pools[pool] = struct{}{}
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return writeJSON(ctx, conn, subscribeMessage(pool))
}

// CachedBin returns the last streamed activation bin for a pool, with its
// observation time. ok is false when the pool has never been seen.
func (s *Stream) CachedBin(pool common.Address) (bin int, at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cache[pool]
	return c.bin, c.updatedAt, ok
}

// Run blocks until ctx is done, reconnecting after every stream failure.
func (s *Stream) Run(ctx context.Context) error {
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logStreamEnd(err)
		s.reset()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Stream) runOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	s.mu.Lock()
	s.conn = conn
	pools := make([]common.Address, 0, len(s.pools))
	for pool := range s.pools {
		pools = append(pools, pool)
	}
	s.mu.Unlock()

	for _, pool := range pools {
		if err := writeJSON(ctx, conn, subscribeMessage(pool)); err != nil {
			return fmt.Errorf("resubscribe %s: %w", pool.Hex(), err)
		}
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		s.pingLoop(pingCtx, conn)
	}()
	err = s.readLoop(ctx, conn)
	cancelPing()
	<-pingDone
	return err
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.handle(data)
	}
}

func (s *Stream) handle(data []byte) {
	var upd binUpdate
	if err := json.Unmarshal(data, &upd); err != nil || upd.Topic != topicActiveBin {
		return
	}
	if !common.IsHexAddress(upd.Pool) {
		s.log.Debug("bin update with malformed pool address", zap.String("pool", upd.Pool))
		return
	}
	pool := common.HexToAddress(upd.Pool)
	s.mu.Lock()
	s.cache[pool] = cachedBin{bin: upd.Bin, updatedAt: time.Now().UTC()}
	s.mu.Unlock()
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	if s.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (s *Stream) logStreamEnd(err error) {
	if err == nil {
		return
	}
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
		s.log.Info("feed stream closed", zap.String("reason", closeErr.Reason))
		return
	}
	s.log.Warn("feed stream ended, reconnecting", zap.Error(err))
}

func (s *Stream) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "reset")
		s.conn = nil
	}
}

const topicActiveBin = "activeBin"

func subscribeMessage(pool common.Address) map[string]any {
	return map[string]any{
		"method": "subscribe",
		"topic":  topicActiveBin,
		"pool":   strings.ToLower(pool.Hex()),
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

var pingMessage = map[string]any{"method": "ping"}
