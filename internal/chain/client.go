package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"dlmm-range-bot/internal/dlmm"
	"dlmm-range-bot/internal/txbuild"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Client is the read side of the chain boundary: activation bins, per-bin
// fee accounting, pool price and recent block references.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type rpcRequest struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	payload, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s: http %d: %s", method, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// ActiveBin returns the bin currently holding the pool's trading price.
func (c *Client) ActiveBin(ctx context.Context, pool common.Address) (int, error) {
	var out struct {
		ActiveBin int `json:"active_bin"`
	}
	params := map[string]string{"pool": pool.Hex()}
	if err := c.call(ctx, "getActiveBin", params, &out); err != nil {
		return 0, err
	}
	return out.ActiveBin, nil
}

// BinFees is the exchange's authoritative per-bin claimable accounting for
// one owner, summed per side. This is distinct from any internal fee
// checkpoint a position record may carry.
type BinFees struct {
	AmountX *big.Int
	AmountY *big.Int
}

func (c *Client) ClaimableFees(ctx context.Context, pool, owner common.Address) (BinFees, error) {
	var out struct {
		Bins []struct {
			BinID   int    `json:"bin_id"`
			AmountX string `json:"amount_x"`
			AmountY string `json:"amount_y"`
		} `json:"bins"`
	}
	params := map[string]string{"pool": pool.Hex(), "owner": owner.Hex()}
	if err := c.call(ctx, "getClaimableFees", params, &out); err != nil {
		return BinFees{}, err
	}
	total := BinFees{AmountX: new(big.Int), AmountY: new(big.Int)}
	for _, bin := range out.Bins {
		x, ok := new(big.Int).SetString(bin.AmountX, 10)
		if !ok {
			return BinFees{}, fmt.Errorf("bin %d: invalid amount_x %q", bin.BinID, bin.AmountX)
		}
		y, ok := new(big.Int).SetString(bin.AmountY, 10)
		if !ok {
			return BinFees{}, fmt.Errorf("bin %d: invalid amount_y %q", bin.BinID, bin.AmountY)
		}
		total.AmountX.Add(total.AmountX, x)
		total.AmountY.Add(total.AmountY, y)
	}
	return total, nil
}

// PriceRatio returns the current price of asset X denominated in asset Y.
func (c *Client) PriceRatio(ctx context.Context, pool common.Address) (float64, error) {
	var out struct {
		Price float64 `json:"price"`
	}
	params := map[string]string{"pool": pool.Hex()}
	if err := c.call(ctx, "getPoolPrice", params, &out); err != nil {
		return 0, err
	}
	if out.Price <= 0 {
		return 0, fmt.Errorf("getPoolPrice: non-positive price %f", out.Price)
	}
	return out.Price, nil
}

// Pools lists the venue's pool universe with rolling volume and fee
// aggregates, unranked.
func (c *Client) Pools(ctx context.Context) ([]dlmm.PoolSnapshot, error) {
	var out struct {
		Pools []struct {
			Address      string  `json:"address"`
			Name         string  `json:"name"`
			BinStep      int     `json:"bin_step"`
			Volume1h     float64 `json:"volume_1h"`
			Volume4h     float64 `json:"volume_4h"`
			Volume24h    float64 `json:"volume_24h"`
			Fees4h       float64 `json:"fees_4h"`
			Fees24h      float64 `json:"fees_24h"`
			FeeAPR       float64 `json:"fee_apr"`
			LiquidityUSD float64 `json:"liquidity_usd"`
			HomeSide     string  `json:"home_side"`
		} `json:"pools"`
	}
	if err := c.call(ctx, "getPools", map[string]string{}, &out); err != nil {
		return nil, err
	}
	snapshots := make([]dlmm.PoolSnapshot, 0, len(out.Pools))
	for _, p := range out.Pools {
		if !common.IsHexAddress(p.Address) {
			c.log.Debug("pool listing with malformed address", zap.String("address", p.Address))
			continue
		}
		snapshots = append(snapshots, dlmm.PoolSnapshot{
			Address:      common.HexToAddress(p.Address),
			Name:         p.Name,
			BinStep:      p.BinStep,
			Volume1h:     p.Volume1h,
			Volume4h:     p.Volume4h,
			Volume24h:    p.Volume24h,
			Fees4h:       p.Fees4h,
			Fees24h:      p.Fees24h,
			FeeAPR:       p.FeeAPR,
			LiquidityUSD: p.LiquidityUSD,
			HomeSide:     dlmm.Side(p.HomeSide),
		})
	}
	return snapshots, nil
}

// LatestBlockRef fetches the chain-state reference shared by every
// operation of one build.
func (c *Client) LatestBlockRef(ctx context.Context) (txbuild.BlockRef, error) {
	var out struct {
		Hash   string `json:"hash"`
		Number uint64 `json:"number"`
	}
	if err := c.call(ctx, "getLatestBlock", map[string]string{}, &out); err != nil {
		return txbuild.BlockRef{}, err
	}
	return txbuild.BlockRef{Hash: common.HexToHash(out.Hash), Number: out.Number}, nil
}
