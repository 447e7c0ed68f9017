package orchestrator

import (
	"context"

	"github.com/sserrano44/GibberWallet/internal/message"
)

// TxSigner signs transaction descriptors with a key it holds
type TxSigner interface {
	Sign(desc message.TxDescriptor) (*message.TxResult, error)
}

// Broadcaster submits signed transactions to the network
type Broadcaster interface {
	Broadcast(ctx context.Context, raw string) (string, error)
	// GetReceipt returns nil without error while the transaction is pending
	GetReceipt(ctx context.Context, hash string) (*Receipt, error)
}

// Approver asks a human whether a transaction may be signed. It may block for as
// long as ctx allows.
type Approver interface {
	Approve(ctx context.Context, desc message.TxDescriptor) bool
}

// ApprovalFunc adapts a function to Approver
type ApprovalFunc func(ctx context.Context, desc message.TxDescriptor) bool

// Approve implements Approver
func (f ApprovalFunc) Approve(ctx context.Context, desc message.TxDescriptor) bool {
	return f(ctx, desc)
}

// Receipt is the outcome of a mined transaction
type Receipt struct {
	TxHash      string `json:"hash"`
	BlockNumber uint64 `json:"block_number"`
	Status      uint64 `json:"status"`
	GasUsed     uint64 `json:"gas_used"`
}

// Succeeded reports whether the transaction executed without reverting
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == 1
}

// SignedTx is a transaction signed by the remote signer
type SignedTx struct {
	Raw  string `json:"raw"`
	Hash string `json:"hash"`
}
