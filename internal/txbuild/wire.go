package txbuild

import (
	"errors"
	"fmt"
	"math/big"

	"dlmm-range-bot/internal/dlmm"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vmihailenco/msgpack/v5"
)

// wireOperation is the msgpack envelope handed across the submission
// boundary. Amounts travel as decimal strings so big integers survive.
type wireOperation struct {
	Seq         int    `msgpack:"seq"`
	Kind        string `msgpack:"kind"`
	Pool        string `msgpack:"pool"`
	Owner       string `msgpack:"owner"`
	MinBinID    int    `msgpack:"min_bin"`
	MaxBinID    int    `msgpack:"max_bin"`
	Shape       string `msgpack:"shape"`
	Amount      string `msgpack:"amount"`
	Calldata    []byte `msgpack:"calldata"`
	BlockHash   string `msgpack:"block_hash"`
	BlockNumber uint64 `msgpack:"block_number"`
}

func EncodeOperation(op Operation) ([]byte, error) {
	if op.Kind == "" {
		return nil, errors.New("operation kind is required")
	}
	if len(op.Calldata) == 0 {
		return nil, errors.New("operation calldata is required")
	}
	amount := "0"
	if op.Amount != nil {
		amount = op.Amount.String()
	}
	return msgpack.Marshal(wireOperation{
		Seq:         op.Seq,
		Kind:        string(op.Kind),
		Pool:        op.Pool.Hex(),
		Owner:       op.Owner.Hex(),
		MinBinID:    op.MinBinID,
		MaxBinID:    op.MaxBinID,
		Shape:       string(op.Shape),
		Amount:      amount,
		Calldata:    op.Calldata,
		BlockHash:   op.BlockRef.Hash.Hex(),
		BlockNumber: op.BlockRef.Number,
	})
}

func DecodeOperation(data []byte) (Operation, error) {
	var wire wireOperation
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return Operation{}, fmt.Errorf("operation envelope: %w", err)
	}
	amount, ok := new(big.Int).SetString(wire.Amount, 10)
	if !ok {
		return Operation{}, fmt.Errorf("invalid operation amount %q", wire.Amount)
	}
	return Operation{
		Seq:      wire.Seq,
		Kind:     Kind(wire.Kind),
		Pool:     common.HexToAddress(wire.Pool),
		Owner:    common.HexToAddress(wire.Owner),
		MinBinID: wire.MinBinID,
		MaxBinID: wire.MaxBinID,
		Shape:    dlmm.Shape(wire.Shape),
		Amount:   amount,
		Calldata: wire.Calldata,
		BlockRef: BlockRef{
			Hash:   common.HexToHash(wire.BlockHash),
			Number: wire.BlockNumber,
		},
	}, nil
}
