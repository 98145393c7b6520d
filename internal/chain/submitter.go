package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dlmm-range-bot/internal/txbuild"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// ErrInsufficientFunds marks a submission rejected for lack of balance so
// callers can suggest a smaller deposit instead of retrying blindly.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrNoLiquidity marks a removal against bins that hold nothing; callers
// fall back to a close-only reclaim instead of treating it as a failure.
var ErrNoLiquidity = errors.New("position holds no liquidity")

const (
	submitRetries  = 3
	initialBackoff = 300 * time.Millisecond
	confirmPoll    = 500 * time.Millisecond
	confirmTimeout = 45 * time.Second
)

// Submitter is the write side of the chain boundary. Operations of one
// sequence are submitted and confirmed strictly in order: each later op
// depends on account state the previous one created.
type Submitter struct {
	client *Client
	log    *zap.Logger
}

func NewSubmitter(client *Client, log *zap.Logger) *Submitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Submitter{client: client, log: log}
}

// SubmitSequence signs, sends and confirms every operation in order,
// aborting at the first failure. The returned hashes cover the committed
// prefix even on error.
func (s *Submitter) SubmitSequence(ctx context.Context, signer *Signer, ops []txbuild.Operation) ([]common.Hash, error) {
	if signer == nil {
		return nil, errors.New("delegated signer is required for submission")
	}
	if len(ops) == 0 {
		return nil, errors.New("operation sequence is empty")
	}
	hashes := make([]common.Hash, 0, len(ops))
	for _, op := range ops {
		hash, err := s.submitOne(ctx, signer, op)
		if err != nil {
			return hashes, fmt.Errorf("op %d (%s): %w", op.Seq, op.Kind, err)
		}
		hashes = append(hashes, hash)
		if err := s.awaitConfirmation(ctx, hash); err != nil {
			return hashes, fmt.Errorf("op %d (%s) confirmation: %w", op.Seq, op.Kind, err)
		}
	}
	return hashes, nil
}

// Serialize returns the msgpack envelopes of a sequence for wallets that
// sign externally.
func (s *Submitter) Serialize(ops []txbuild.Operation) ([][]byte, error) {
	out := make([][]byte, 0, len(ops))
	for _, op := range ops {
		data, err := txbuild.EncodeOperation(op)
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", op.Seq, err)
		}
		out = append(out, data)
	}
	return out, nil
}

func (s *Submitter) submitOne(ctx context.Context, signer *Signer, op txbuild.Operation) (common.Hash, error) {
	signature, err := signer.SignOperation(op)
	if err != nil {
		return common.Hash{}, err
	}
	params := map[string]string{
		"from":       signer.Address().Hex(),
		"calldata":   hexutil.Encode(op.Calldata),
		"signature":  signature,
		"block_hash": op.BlockRef.Hash.Hex(),
	}
	var out struct {
		TxHash string `json:"tx_hash"`
		Error  string `json:"error"`
	}
	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		err := s.client.call(ctx, "sendOperation", params, &out)
		if err == nil && out.Error == "" {
			break
		}
		if err == nil {
			err = classifySubmissionError(out.Error)
		}
		// Deterministic rejections never succeed on retry.
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrNoLiquidity) || attempt == submitRetries-1 {
			return common.Hash{}, err
		}
		s.log.Warn("operation submit failed, retrying",
			zap.Int("seq", op.Seq), zap.String("kind", string(op.Kind)), zap.Error(err))
		select {
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	if out.TxHash == "" {
		return common.Hash{}, errors.New("empty tx hash in submission response")
	}
	return common.HexToHash(out.TxHash), nil
}

func (s *Submitter) awaitConfirmation(ctx context.Context, hash common.Hash) error {
	deadline := time.NewTimer(confirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(confirmPoll)
	defer ticker.Stop()
	params := map[string]string{"tx_hash": hash.Hex()}
	for {
		var out struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := s.client.call(ctx, "getOperationStatus", params, &out); err == nil {
			switch out.Status {
			case "confirmed":
				return nil
			case "failed":
				return classifySubmissionError(out.Error)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("tx %s not confirmed within %s", hash.Hex(), confirmTimeout)
		case <-ticker.C:
		}
	}
}

// classifySubmissionError maps chain-side rejection text onto the error
// taxonomy, preserving the underlying message for generic failures.
func classifySubmissionError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "insufficient funds"),
		strings.Contains(lower, "insufficient balance"),
		strings.Contains(lower, "exceeds balance"):
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, msg)
	case strings.Contains(lower, "no liquidity"),
		strings.Contains(lower, "empty bins"):
		return fmt.Errorf("%w: %s", ErrNoLiquidity, msg)
	case msg == "":
		return errors.New("operation rejected without reason")
	default:
		return errors.New(msg)
	}
}
