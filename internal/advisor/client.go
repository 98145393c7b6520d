package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"dlmm-range-bot/internal/dlmm"
	"dlmm-range-bot/internal/strategy"

	"go.uber.org/zap"
)

// Client consults an external model for an alternate range suggestion.
// It is a pure enhancement: every failure mode surfaces as an error that
// the selector swallows.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	log     *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedRec
	ttl   time.Duration
}

type cachedRec struct {
	rec      strategy.Recommendation
	storedAt time.Time
}

var ErrDisabled = errors.New("advisor disabled")

func New(baseURL string, timeout, cacheTTL time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		log:     log,
		cache:   make(map[string]cachedRec),
		ttl:     cacheTTL,
	}
}

type request struct {
	Pool        string  `json:"pool"`
	Name        string  `json:"name"`
	BinStep     int     `json:"bin_step"`
	ActiveBin   int     `json:"active_bin"`
	Volume1h    float64 `json:"volume_1h"`
	Volume4h    float64 `json:"volume_4h"`
	Volume24h   float64 `json:"volume_24h"`
	FeeAPR      float64 `json:"fee_apr"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	Rebalance   bool    `json:"rebalance"`
	PrevWidth   int     `json:"prev_width,omitempty"`
	RebalanceCt int     `json:"rebalance_count,omitempty"`
}

type response struct {
	Shape      string  `json:"shape"`
	WidthBins  int     `json:"width_bins"`
	Confidence float64 `json:"confidence"`
}

// Recommend implements strategy.Advisor. Responses are cached per
// pool + activation bin + rebalance flag so repeated selector runs within
// one rebalance do not re-query the model.
func (c *Client) Recommend(ctx context.Context, pool dlmm.PoolSnapshot, activeBin int, rc *strategy.RebalanceContext) (strategy.Recommendation, error) {
	if c.baseURL == "" {
		return strategy.Recommendation{}, ErrDisabled
	}
	key := fmt.Sprintf("%s:%d:%t", pool.Address.Hex(), activeBin, rc != nil)
	if rec, ok := c.cached(key); ok {
		return rec, nil
	}

	req := request{
		Pool:         pool.Address.Hex(),
		Name:         pool.Name,
		BinStep:      pool.BinStep,
		ActiveBin:    activeBin,
		Volume1h:     pool.Volume1h,
		Volume4h:     pool.Volume4h,
		Volume24h:    pool.Volume24h,
		FeeAPR:       pool.FeeAPR,
		LiquidityUSD: pool.LiquidityUSD,
		Rebalance:    rc != nil,
	}
	if rc != nil {
		req.PrevWidth = rc.PrevWidth()
		req.RebalanceCt = rc.RebalanceCount
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return strategy.Recommendation{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/recommend", bytes.NewReader(payload))
	if err != nil {
		return strategy.Recommendation{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return strategy.Recommendation{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return strategy.Recommendation{}, fmt.Errorf("advisor http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return strategy.Recommendation{}, fmt.Errorf("advisor response: %w", err)
	}
	rec := strategy.Recommendation{
		Shape:      dlmm.Shape(parsed.Shape),
		WidthBins:  parsed.WidthBins,
		Confidence: parsed.Confidence,
	}
	// Schema violations are the selector's call to discard, but an empty
	// body is malformed outright.
	if parsed.Shape == "" || parsed.WidthBins == 0 {
		return strategy.Recommendation{}, errors.New("advisor response missing shape or width")
	}
	c.store(key, rec)
	return rec, nil
}

func (c *Client) cached(key string) (strategy.Recommendation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok {
		return strategy.Recommendation{}, false
	}
	if time.Since(entry.storedAt) > c.ttl {
		delete(c.cache, key)
		return strategy.Recommendation{}, false
	}
	return entry.rec, true
}

func (c *Client) store(key string, rec strategy.Recommendation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cachedRec{rec: rec, storedAt: time.Now()}
}
