package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sserrano44/GibberWallet/internal/message"
	"github.com/sserrano44/GibberWallet/internal/metrics"
)

// Decider settles one transaction request: it asks for approval and signs.
// It returns ErrRejected (possibly wrapped) when the request is refused and
// ErrInvalidRequest when it cannot be honoured; any other error is a signing failure.
type Decider func(ctx context.Context, desc message.TxDescriptor) (*message.TxResult, error)

// ResponderState is the signer side state
type ResponderState string

const (
	ResponderIdle             ResponderState = "idle"
	ResponderAwaitingApproval ResponderState = "awaiting_approval"
)

// Responder is the signer side of the protocol. It answers every Connect and
// processes one TxRequest at a time.
type Responder struct {
	ch      Channel
	logger  *slog.Logger
	metrics *metrics.Metrics

	// the single approval slot
	busy atomic.Bool

	mu        sync.Mutex
	pendingID string
	decide    Decider
	ctx       context.Context
	wg        sync.WaitGroup
	stats     ResponderStats
}

// ResponderStats represents signer side counters
type ResponderStats struct {
	State          ResponderState `json:"state"`
	PendingID      string         `json:"pending_id,omitempty"`
	Connects       uint64         `json:"connects"`
	Requests       uint64         `json:"requests"`
	Signed         uint64         `json:"signed"`
	Rejected       uint64         `json:"rejected"`
	Invalid        uint64         `json:"invalid"`
	SigningFailed  uint64         `json:"signing_failed"`
	BusyRejections uint64         `json:"busy_rejections"`
	Acks           uint64         `json:"acks"`
	PeerErrors     uint64         `json:"peer_errors"`
}

// NewResponder creates a signer side responder
func NewResponder(ch Channel, logger *slog.Logger, m *metrics.Metrics) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{ch: ch, logger: logger, metrics: m}
}

// Listen answers envelopes until ctx is done, then stops listening and waits for
// an approval in progress to finish
func (r *Responder) Listen(ctx context.Context, decide Decider) error {
	r.mu.Lock()
	r.decide = decide
	r.ctx = ctx
	r.mu.Unlock()

	if err := r.ch.StartListening(r.handle); err != nil {
		return &TransportError{Reason: ListenError, Err: err}
	}
	r.logger.Info("Signer listening")

	<-ctx.Done()

	err := r.ch.StopListening()
	r.wg.Wait()

	r.logger.Info("Signer stopped listening")
	return err
}

func (r *Responder) handle(env *message.Envelope) {
	switch env.Kind {
	case message.KindConnect:
		r.count(func(s *ResponderStats) { s.Connects++ })
		r.reply(env, message.KindConnectAck, message.ConnectPayload{Role: message.RoleSigner})

	case message.KindTxRequest:
		r.handleRequest(env)

	case message.KindAck:
		r.count(func(s *ResponderStats) { s.Acks++ })
		r.logger.Info("Client acknowledged response", slog.String("re", env.InReplyTo))

	case message.KindError:
		r.count(func(s *ResponderStats) { s.PeerErrors++ })
		payload, _ := message.DecodeError(env)
		r.logger.Warn("Client reported error",
			slog.String("re", env.InReplyTo),
			slog.String("code", string(payload.Code)),
			slog.String("message", payload.Message),
		)

	default:
		r.logger.Debug("Ignoring envelope", slog.String("kind", string(env.Kind)), slog.String("id", env.ID))
	}
}

func (r *Responder) handleRequest(env *message.Envelope) {
	r.count(func(s *ResponderStats) { s.Requests++ })

	if !r.busy.CompareAndSwap(false, true) {
		r.count(func(s *ResponderStats) { s.BusyRejections++ })
		r.metrics.RecordBusyRejection()
		r.metrics.RecordSignerRequest("busy")
		r.logger.Warn("Request refused, another is awaiting approval",
			slog.String("id", env.ID),
			slog.String("pending", r.PendingID()),
		)
		r.replyError(env, message.CodeBusy, "Busy")
		return
	}

	desc, err := message.DecodeTxDescriptor(env)
	if err == nil {
		desc = desc.Normalize()
		err = desc.Validate()
	}
	if err != nil {
		r.busy.Store(false)
		r.count(func(s *ResponderStats) { s.Invalid++ })
		r.metrics.RecordSignerRequest("invalid")
		r.replyError(env, message.CodeInvalidRequest, err.Error())
		return
	}

	r.mu.Lock()
	r.pendingID = env.ID
	decide, ctx := r.decide, r.ctx
	r.mu.Unlock()

	r.logger.Info("Transaction request awaiting approval",
		slog.String("id", env.ID),
		slog.String("to", desc.To),
		slog.String("value", desc.Value),
		slog.String("chain_id", desc.ChainID),
	)

	// approval may take minutes; the dispatcher must keep running meanwhile
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release()
		r.settle(ctx, decide, env, desc)
	}()
}

func (r *Responder) settle(ctx context.Context, decide Decider, env *message.Envelope, desc message.TxDescriptor) {
	result, err := decide(ctx, desc)

	switch {
	case err == nil && result != nil:
		r.count(func(s *ResponderStats) { s.Signed++ })
		r.metrics.RecordSignerRequest("signed")
		r.logger.Info("Transaction signed", slog.String("id", env.ID), slog.String("hash", result.TxHash))
		r.reply(env, message.KindTxResponse, result)

	case errors.Is(err, ErrRejected):
		r.count(func(s *ResponderStats) { s.Rejected++ })
		r.metrics.RecordSignerRequest("rejected")
		r.logger.Info("Transaction rejected", slog.String("id", env.ID), slog.String("reason", err.Error()))
		r.replyError(env, message.CodeRejected, err.Error())

	case errors.Is(err, ErrInvalidRequest):
		r.count(func(s *ResponderStats) { s.Invalid++ })
		r.metrics.RecordSignerRequest("invalid")
		r.replyError(env, message.CodeInvalidRequest, err.Error())

	default:
		msg := "signer returned no result"
		if err != nil {
			msg = err.Error()
		}
		r.count(func(s *ResponderStats) { s.SigningFailed++ })
		r.metrics.RecordSignerRequest("signing_failed")
		r.logger.Error("Signing failed", slog.String("id", env.ID), slog.String("error", msg))
		r.replyError(env, message.CodeSigningFailed, msg)
	}
}

func (r *Responder) release() {
	r.mu.Lock()
	r.pendingID = ""
	r.mu.Unlock()
	r.busy.Store(false)
}

func (r *Responder) reply(to *message.Envelope, kind message.Kind, payload any) {
	env, err := message.Reply(to, kind, payload)
	if err != nil {
		r.logger.Error("Failed to build reply", slog.String("kind", string(kind)), slog.String("error", err.Error()))
		return
	}
	r.send(env)
}

func (r *Responder) replyError(to *message.Envelope, code message.ErrorCode, msg string) {
	env, err := message.NewError(to, code, msg)
	if err != nil {
		r.logger.Error("Failed to build error reply", slog.String("error", err.Error()))
		return
	}
	r.send(env)
}

func (r *Responder) send(env *message.Envelope) {
	if err := r.ch.Transmit(context.Background(), env); err != nil {
		r.logger.Error("Failed to transmit reply",
			slog.String("kind", string(env.Kind)),
			slog.String("re", env.InReplyTo),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Responder) count(f func(*ResponderStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.stats)
}

// State reports whether a request is awaiting approval
func (r *Responder) State() ResponderState {
	if r.busy.Load() {
		return ResponderAwaitingApproval
	}
	return ResponderIdle
}

// PendingID returns the id of the request awaiting approval
func (r *Responder) PendingID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingID
}

// Stats returns signer side counters
func (r *Responder) Stats() ResponderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	s.State = r.State()
	s.PendingID = r.pendingID
	return s
}
