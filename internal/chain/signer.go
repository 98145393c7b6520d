package chain

import (
	"crypto/ecdsa"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"dlmm-range-bot/internal/txbuild"
)

// Signer holds a wallet's delegated key. Wallets without one get serialized
// operations back instead of signed submissions.
type Signer struct {
	privKey *ecdsa.PrivateKey
	address common.Address
}

func NewSigner(hexKey string) (*Signer, error) {
	clean := strings.TrimSpace(hexKey)
	if clean == "" {
		return nil, errors.New("private key is required")
	}
	clean = strings.TrimPrefix(clean, "0x")
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, err
	}
	return &Signer{privKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// SignOperation signs the keccak digest of the operation envelope. The
// digest covers calldata and block ref, so a replay against different chain
// state fails verification.
func (s *Signer) SignOperation(op txbuild.Operation) (string, error) {
	envelope, err := txbuild.EncodeOperation(op)
	if err != nil {
		return "", err
	}
	digest := crypto.Keccak256(envelope)
	sig, err := crypto.Sign(digest, s.privKey)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}
