package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/sserrano44/GibberWallet/internal/orchestrator"
)

// RPCBroadcaster submits signed transactions to an Ethereum node over JSON-RPC
type RPCBroadcaster struct {
	client *ethclient.Client
	url    string
	logger *slog.Logger
}

// DialBroadcaster connects to the node at rpcURL
func DialBroadcaster(ctx context.Context, rpcURL string, logger *slog.Logger) (*RPCBroadcaster, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}

	return &RPCBroadcaster{client: client, url: rpcURL, logger: logger}, nil
}

// Broadcast submits raw and returns the transaction hash
func (b *RPCBroadcaster) Broadcast(ctx context.Context, raw string) (string, error) {
	tx, err := DecodeSigned(raw)
	if err != nil {
		return "", err
	}

	if err := b.client.SendTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	hash := tx.Hash().Hex()
	b.logger.Info("Transaction broadcast",
		slog.String("hash", hash),
		slog.Uint64("nonce", tx.Nonce()),
	)
	return hash, nil
}

// GetReceipt returns the receipt of a mined transaction, or nil while it is pending
func (b *RPCBroadcaster) GetReceipt(ctx context.Context, hash string) (*orchestrator.Receipt, error) {
	r, err := b.client.TransactionReceipt(ctx, common.HexToHash(hash))
	if errors.Is(err, goethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt for %s: %w", hash, err)
	}

	receipt := &orchestrator.Receipt{
		TxHash:  r.TxHash.Hex(),
		Status:  r.Status,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		receipt.BlockNumber = r.BlockNumber.Uint64()
	}
	return receipt, nil
}

// Close releases the RPC connection
func (b *RPCBroadcaster) Close() {
	b.client.Close()
}
