package ethereum

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sserrano44/GibberWallet/internal/message"
)

// KeySigner signs legacy EIP-155 transactions with a private key held in memory
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner wraps an existing private key
func NewKeySigner(key *ecdsa.PrivateKey) (*KeySigner, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// LoadKey reads a hex encoded private key from path. Surrounding whitespace and
// an optional 0x prefix are ignored.
func LoadKey(path string) (*KeySigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	hexKey := strings.TrimPrefix(strings.TrimSpace(string(data)), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key in %s: %w", path, err)
	}

	return NewKeySigner(key)
}

// GenerateKey creates a signer with a fresh random key
func GenerateKey() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewKeySigner(key)
}

// Address returns the account the signer signs for
func (s *KeySigner) Address() string {
	return strings.ToLower(s.address.Hex())
}

// Sign builds the transaction described by desc and signs it for desc.ChainID
func (s *KeySigner) Sign(desc message.TxDescriptor) (*message.TxResult, error) {
	tx, chainID, err := BuildTransaction(desc)
	if err != nil {
		return nil, err
	}

	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed transaction: %w", err)
	}

	return &message.TxResult{
		RawTx:  hexutil.Encode(raw),
		TxHash: signed.Hash().Hex(),
	}, nil
}

// BuildTransaction converts a descriptor into an unsigned legacy transaction and
// its chain id
func BuildTransaction(desc message.TxDescriptor) (*types.Transaction, *big.Int, error) {
	desc = desc.Normalize()
	if err := desc.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid transaction descriptor: %w", err)
	}

	chainID, err := hexutil.DecodeBig(desc.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid chainId: %w", err)
	}
	nonce, err := hexutil.DecodeUint64(desc.Nonce)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid nonce: %w", err)
	}
	gasPrice, err := hexutil.DecodeBig(desc.GasPrice)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid gasPrice: %w", err)
	}
	gasLimit, err := hexutil.DecodeUint64(desc.GasLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid gasLimit: %w", err)
	}
	value, err := hexutil.DecodeBig(desc.Value)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid value: %w", err)
	}
	data, err := hexutil.Decode(desc.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid data: %w", err)
	}

	to := common.HexToAddress(desc.To)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	})

	return tx, chainID, nil
}

// DecodeSigned parses a raw signed transaction as produced by Sign
func DecodeSigned(raw string) (*types.Transaction, error) {
	b, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid raw transaction hex: %w", err)
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("invalid raw transaction: %w", err)
	}
	return &tx, nil
}
