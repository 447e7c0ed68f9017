package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sserrano44/GibberWallet/internal/channel"
	"github.com/sserrano44/GibberWallet/internal/message"
	"github.com/sserrano44/GibberWallet/internal/metrics"
)

// Channel is the part of the channel adapter a session needs
type Channel interface {
	Transmit(ctx context.Context, env *message.Envelope) error
	Expect(match channel.Predicate) (*channel.Wait, error)
	StartListening(h channel.Handler) error
	StopListening() error
}

// Client drives a Machine over a Channel, one request at a time
type Client struct {
	ch      Channel
	machine *Machine
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	active atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewClient creates a client driver
func NewClient(ch Channel, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		ch:      ch,
		machine: NewMachine(cfg),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Request runs one session for desc and returns the signed transaction. Failures
// are returned as *TransportError, except a request that is invalid or arrives while
// another is in flight.
func (c *Client) Request(ctx context.Context, desc message.TxDescriptor) (*message.TxResult, error) {
	if !c.active.CompareAndSwap(false, true) {
		return nil, ErrSessionActive
	}
	defer c.active.Store(false)

	step, err := c.machine.Initiate(desc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()

	started := c.now()
	c.metrics.RecordSessionStarted()
	c.logger.Info("Session started",
		slog.String("cid", c.machine.CorrelationID()),
		slog.String("to", desc.To),
		slog.String("value", desc.Value),
	)

	result, terr := c.run(ctx, step)

	if err := c.ch.StopListening(); err != nil {
		c.logger.Warn("Failed to stop listening", slog.String("error", err.Error()))
	}

	outcome := "completed"
	if terr != nil {
		outcome = string(terr.Reason)
	}
	c.metrics.RecordSessionOutcome(outcome, c.now().Sub(started).Seconds())

	if terr != nil {
		c.logger.Warn("Session failed",
			slog.String("reason", string(terr.Reason)),
			slog.String("error", terr.Error()),
			slog.Int("attempts", c.machine.Attempt()),
		)
		c.machine.Reset()
		return nil, terr
	}

	c.logger.Info("Session completed", slog.String("hash", result.TxHash))
	c.machine.Reset()
	return result, nil
}

func (c *Client) run(ctx context.Context, step Step) (*message.TxResult, *TransportError) {
	if err := c.ch.StartListening(c.handleStray); err != nil {
		c.machine.Fail(&TransportError{Reason: ListenError, Err: err})
		return nil, &TransportError{Reason: ListenError, Err: err}
	}

	for {
		if step.Outcome != nil {
			if step.Send != nil {
				// best effort, the result is already ours
				if err := c.ch.Transmit(ctx, step.Send); err != nil {
					c.logger.Warn("Failed to send ack", slog.String("error", err.Error()))
				}
			}
			return step.Outcome.Result, step.Outcome.Err
		}

		if step.Send == nil {
			// the machine was cancelled underneath us
			return nil, &TransportError{Reason: Cancelled}
		}

		next, terr := c.exchange(ctx, step.Send)
		if terr != nil {
			return nil, terr
		}
		step = next
	}
}

// exchange transmits env and waits for the reply or the deadline
func (c *Client) exchange(ctx context.Context, env *message.Envelope) (Step, *TransportError) {
	w, err := c.ch.Expect(c.machine.Expects)
	if err != nil {
		return c.machine.Fail(&TransportError{Reason: ListenError, Err: err}), nil
	}

	if err := c.ch.Transmit(ctx, env); err != nil {
		w.Cancel()
		if ctx.Err() != nil {
			return Step{}, c.cancelled(ctx.Err())
		}
		return c.machine.Fail(transmitFailure(err)), nil
	}
	c.machine.MarkSent(c.now())

	attempt := c.machine.Attempt()
	deadline := c.machine.Deadline()
	if deadline.IsZero() {
		// cancelled while playing
		w.Cancel()
		return Step{}, c.cancelled(nil)
	}

	reply, err := w.Wait(ctx, deadline.Sub(c.now()))
	switch {
	case err == nil:
		step := c.machine.Deliver(reply)
		if step.Empty() && c.machine.State() == Idle {
			return Step{}, c.cancelled(nil)
		}
		return step, nil

	case errors.Is(err, channel.ErrWaitTimeout):
		now := c.now()
		if now.Before(deadline) {
			now = deadline
		}
		step := c.machine.Expire(now)
		if step.Empty() {
			return Step{}, c.cancelled(nil)
		}
		if step.Send != nil && c.machine.Attempt() > attempt {
			c.metrics.RecordHandshakeRetry()
			c.logger.Info("No answer, retrying connect",
				slog.Int("attempt", c.machine.Attempt()),
				slog.String("cid", c.machine.CorrelationID()),
			)
		}
		return step, nil

	case ctx.Err() != nil:
		return Step{}, c.cancelled(ctx.Err())

	default:
		// listening was stopped underneath the wait
		return Step{}, c.cancelled(err)
	}
}

func (c *Client) cancelled(cause error) *TransportError {
	c.machine.Cancel()
	if err := c.ch.StopListening(); err != nil {
		c.logger.Warn("Failed to stop listening", slog.String("error", err.Error()))
	}
	return &TransportError{Reason: Cancelled, Err: cause}
}

func transmitFailure(err error) *TransportError {
	switch {
	case errors.Is(err, channel.ErrCodecUnavailable):
		return &TransportError{Reason: CodecUnavailable, Err: err}
	case errors.Is(err, channel.ErrListen):
		return &TransportError{Reason: ListenError, Err: err}
	default:
		return &TransportError{Reason: PlaybackError, Err: err}
	}
}

// handleStray answers envelopes no wait claimed while the session is active
func (c *Client) handleStray(env *message.Envelope) {
	switch env.Kind {
	case message.KindTxRequest:
		reply, err := message.NewError(env, message.CodeBusy, "Busy")
		if err != nil {
			return
		}
		c.metrics.RecordBusyRejection()
		if err := c.ch.Transmit(context.Background(), reply); err != nil {
			c.logger.Warn("Failed to answer stray request", slog.String("error", err.Error()))
		}
	default:
		c.logger.Debug("Ignoring unexpected envelope",
			slog.String("kind", string(env.Kind)),
			slog.String("id", env.ID),
			slog.String("re", env.InReplyTo),
		)
	}
}

// Cancel aborts the session in flight, if any
func (c *Client) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		c.logger.Info("Session cancelled by user")
		cancel()
	}
}

// Active reports whether a session is in flight
func (c *Client) Active() bool {
	return c.active.Load()
}

// Snapshot returns the machine state for monitoring
func (c *Client) Snapshot() Snapshot {
	return c.machine.Snapshot()
}
