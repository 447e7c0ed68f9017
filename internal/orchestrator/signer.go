package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/sserrano44/GibberWallet/internal/message"
	"github.com/sserrano44/GibberWallet/internal/session"
)

// Responder is the part of session.Responder the signer drives
type Responder interface {
	Listen(ctx context.Context, decide session.Decider) error
	Stats() session.ResponderStats
}

// SignerConfig restricts what the signer accepts
type SignerConfig struct {
	// ChainID is the only chain signed for; 0 accepts any
	ChainID uint64
}

// Signer is the air-gapped side of the wallet
type Signer struct {
	responder Responder
	signer    TxSigner
	cfg       SignerConfig
	logger    *slog.Logger
}

// NewSigner creates a signer service
func NewSigner(responder Responder, signer TxSigner, cfg SignerConfig, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		responder: responder,
		signer:    signer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Serve answers requests until ctx is done. Every request on the expected chain is
// put to approve; approved ones are signed, all others rejected.
func (s *Signer) Serve(ctx context.Context, approve ApprovalFunc) error {
	if approve == nil {
		return errors.New("an approval function is required")
	}
	if s.signer == nil {
		return errors.New("a transaction signer is required")
	}

	err := s.responder.Listen(ctx, s.decider(approve))
	if err != nil {
		return fmt.Errorf("signer stopped: %w", err)
	}
	return nil
}

func (s *Signer) decider(approve ApprovalFunc) session.Decider {
	return func(ctx context.Context, desc message.TxDescriptor) (*message.TxResult, error) {
		if err := s.checkChain(desc); err != nil {
			s.logger.Warn("Request for unexpected chain",
				slog.String("chain_id", desc.ChainID),
				slog.Uint64("expected", s.cfg.ChainID),
			)
			return nil, err
		}

		if !approve(ctx, desc) {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: signer shutting down", session.ErrRejected)
			}
			return nil, fmt.Errorf("%w by user", session.ErrRejected)
		}

		result, err := s.signer.Sign(desc)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

func (s *Signer) checkChain(desc message.TxDescriptor) error {
	if s.cfg.ChainID == 0 {
		return nil
	}
	chainID, err := hexutil.DecodeUint64(desc.ChainID)
	if err != nil {
		return fmt.Errorf("%w: chainId %q", session.ErrInvalidRequest, desc.ChainID)
	}
	if chainID != s.cfg.ChainID {
		return fmt.Errorf("%w: chain %d not accepted", session.ErrRejected, chainID)
	}
	return nil
}

// Stats returns signer side counters
func (s *Signer) Stats() session.ResponderStats {
	return s.responder.Stats()
}
