package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sserrano44/GibberWallet/internal/message"
	"github.com/sserrano44/GibberWallet/internal/session"
)

var (
	// ErrNoBroadcaster is returned by network operations on a client built without one
	ErrNoBroadcaster = errors.New("no broadcaster configured")
	// ErrReceiptTimeout is returned when a broadcast transaction is not mined in time
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")
)

// Session is the part of session.Client the orchestrator drives
type Session interface {
	Request(ctx context.Context, desc message.TxDescriptor) (*message.TxResult, error)
	Cancel()
	Active() bool
	Snapshot() session.Snapshot
}

// ClientConfig controls receipt polling
type ClientConfig struct {
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
}

// DefaultClientConfig returns the default polling settings
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PollInterval:   2 * time.Second,
		ReceiptTimeout: 2 * time.Minute,
	}
}

// Client is the online side of the wallet
type Client struct {
	session     Session
	broadcaster Broadcaster
	cfg         ClientConfig
	logger      *slog.Logger
}

// NewClient creates a client. broadcaster may be nil when transactions are only
// signed and handed back to the caller.
func NewClient(sess Session, broadcaster Broadcaster, cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = def.ReceiptTimeout
	}
	return &Client{
		session:     sess,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logger,
	}
}

// SendSignRequest sends desc to the signer and returns what it signed. Session
// failures are returned as *session.TransportError. The request is sent once: a
// failed exchange after the handshake is never repeated.
func (c *Client) SendSignRequest(ctx context.Context, desc message.TxDescriptor) (*SignedTx, error) {
	desc = desc.Normalize()
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrInvalidRequest, err)
	}

	result, err := c.session.Request(ctx, desc)
	if err != nil {
		return nil, err
	}

	return &SignedTx{Raw: result.RawTx, Hash: result.TxHash}, nil
}

// Broadcast submits a signed transaction and returns its hash
func (c *Client) Broadcast(ctx context.Context, tx *SignedTx) (string, error) {
	if c.broadcaster == nil {
		return "", ErrNoBroadcaster
	}

	hash, err := c.broadcaster.Broadcast(ctx, tx.Raw)
	if err != nil {
		return "", err
	}
	if hash != tx.Hash {
		c.logger.Warn("Node reported a different transaction hash",
			slog.String("signed", tx.Hash),
			slog.String("node", hash),
		)
	}
	return hash, nil
}

// Transfer signs desc remotely, broadcasts it and waits until it is mined
func (c *Client) Transfer(ctx context.Context, desc message.TxDescriptor) (*Receipt, error) {
	if c.broadcaster == nil {
		return nil, ErrNoBroadcaster
	}

	tx, err := c.SendSignRequest(ctx, desc)
	if err != nil {
		return nil, err
	}

	hash, err := c.Broadcast(ctx, tx)
	if err != nil {
		return nil, err
	}

	return c.WaitForReceipt(ctx, hash)
}

// WaitForReceipt polls for the receipt of hash until it is mined, ctx is done or
// the receipt timeout elapses
func (c *Client) WaitForReceipt(ctx context.Context, hash string) (*Receipt, error) {
	if c.broadcaster == nil {
		return nil, ErrNoBroadcaster
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.broadcaster.GetReceipt(ctx, hash)
		if err != nil && ctx.Err() == nil {
			return nil, err
		}
		if receipt != nil {
			c.logger.Info("Transaction mined",
				slog.String("hash", hash),
				slog.Uint64("block", receipt.BlockNumber),
				slog.Uint64("status", receipt.Status),
			)
			return receipt, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash)
			}
			return nil, ctx.Err()
		}
	}
}

// Cancel aborts the session in flight, if any
func (c *Client) Cancel() {
	c.session.Cancel()
}

// Active reports whether a session is in flight
func (c *Client) Active() bool {
	return c.session.Active()
}

// Snapshot returns the state of the underlying session
func (c *Client) Snapshot() session.Snapshot {
	return c.session.Snapshot()
}
