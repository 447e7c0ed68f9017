package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/sserrano44/GibberWallet/internal/message"
)

// State of the client machine
type State int

const (
	Idle State = iota
	Handshaking
	RequestSent      // TxRequest handed to the channel
	AwaitingResponse // TxRequest played, reply wait armed
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Handshaking:
		return "handshaking"
	case RequestSent:
		return "request_sent"
	case AwaitingResponse:
		return "awaiting_response"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether the state ends a session
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// Config configures the client machine
type Config struct {
	HandshakeTimeout time.Duration
	ResponseTimeout  time.Duration
	MaxRetries       int  // Connect re-sends after the first
	SendAck          bool // acknowledge a TxResponse
}

// DefaultConfig returns the default session timing
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		ResponseTimeout:  30 * time.Second,
		MaxRetries:       3,
		SendAck:          true,
	}
}

// Outcome is the terminal result of a session
type Outcome struct {
	Result *message.TxResult
	Err    *TransportError
}

// Step is what the caller must do after a transition. Send, when set, must be
// transmitted; Outcome, when set, ends the session.
type Step struct {
	Send    *message.Envelope
	Outcome *Outcome
}

// Empty reports whether the step requires no action
func (s Step) Empty() bool {
	return s.Send == nil && s.Outcome == nil
}

// Machine is the client side of one request/response cycle
type Machine struct {
	cfg Config

	mu            sync.Mutex
	state         State
	request       message.TxDescriptor
	correlationID string
	pendingID     string
	connectIDs    map[string]bool // every Connect sent this session
	attempt       int             // Connects sent
	deadline      time.Time
	outcome       *Outcome
}

// Snapshot is a point-in-time view of the machine for monitoring
type Snapshot struct {
	State         string    `json:"state"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	PendingID     string    `json:"pending_id,omitempty"`
	Attempt       int       `json:"attempt"`
	Deadline      time.Time `json:"deadline,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// NewMachine creates an idle machine
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// Initiate starts a session for req and returns the Connect to transmit
func (m *Machine) Initiate(req message.TxDescriptor) (Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Idle {
		return Step{}, ErrSessionActive
	}

	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return Step{}, fmt.Errorf("invalid transaction request: %w", err)
	}

	connect, err := message.New(message.KindConnect, message.ConnectPayload{Role: message.RoleClient}, "")
	if err != nil {
		return Step{}, err
	}

	m.clear()
	m.request = req
	m.correlationID = connect.CorrelationID
	m.connectIDs = map[string]bool{connect.ID: true}
	m.pendingID = connect.ID
	m.attempt = 1
	m.state = Handshaking

	return Step{Send: connect}, nil
}

// MarkSent arms the deadline for the envelope just transmitted
func (m *Machine) MarkSent(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Handshaking:
		m.deadline = now.Add(m.cfg.HandshakeTimeout)
	case RequestSent:
		m.deadline = now.Add(m.cfg.ResponseTimeout)
		m.state = AwaitingResponse
	}
}

// Expects reports whether env is a reply the current state is waiting for
func (m *Machine) Expects(env *message.Envelope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expects(env)
}

func (m *Machine) expects(env *message.Envelope) bool {
	if env == nil || env.CorrelationID != m.correlationID {
		return false
	}

	switch m.state {
	case Handshaking:
		// a ConnectAck for any of our Connects counts, the peer may have heard an earlier one
		return (env.Kind == message.KindConnectAck || env.Kind == message.KindError) &&
			m.connectIDs[env.InReplyTo]
	case RequestSent, AwaitingResponse:
		return (env.Kind == message.KindTxResponse || env.Kind == message.KindError) &&
			env.InReplyTo == m.pendingID
	default:
		return false
	}
}

// Deliver applies a received envelope. Envelopes the machine is not waiting for
// leave it unchanged and yield an empty step.
func (m *Machine) Deliver(env *message.Envelope) Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.expects(env) {
		return Step{}
	}

	if env.Kind == message.KindError {
		return m.fail(peerFailure(env))
	}

	switch m.state {
	case Handshaking:
		req, err := message.New(message.KindTxRequest, m.request, m.correlationID)
		if err != nil {
			return m.fail(&TransportError{Reason: PeerError, Message: "failed to build request", Err: err})
		}
		m.state = RequestSent
		m.pendingID = req.ID
		m.deadline = time.Time{}
		return Step{Send: req}

	default:
		result, err := message.DecodeTxResult(env)
		if err != nil {
			return m.fail(&TransportError{Reason: PeerError, Message: "invalid transaction response", Err: err})
		}

		m.state = Completed
		m.pendingID = ""
		m.deadline = time.Time{}
		m.outcome = &Outcome{Result: &result}

		step := Step{Outcome: m.outcome}
		if m.cfg.SendAck {
			if ack, err := message.Reply(env, message.KindAck, nil); err == nil {
				step.Send = ack
			}
		}
		return step
	}
}

func peerFailure(env *message.Envelope) *TransportError {
	payload, err := message.DecodeError(env)
	if err != nil {
		return &TransportError{Reason: PeerError, Message: "unreadable error reply", Err: err}
	}
	if payload.Code == message.CodeRejected {
		return &TransportError{Reason: RejectedByPeer, Message: payload.Message}
	}

	msg := payload.Message
	if msg == "" {
		msg = string(payload.Code)
	}
	return &TransportError{Reason: PeerError, Message: msg}
}

// Expire applies the passage of time. Once the deadline has passed a handshake is
// retried until MaxRetries re-sends have been spent; a request is never retried.
func (m *Machine) Expire(now time.Time) Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deadline.IsZero() || now.Before(m.deadline) {
		return Step{}
	}

	switch m.state {
	case Handshaking:
		if m.attempt > m.cfg.MaxRetries {
			return m.fail(&TransportError{
				Reason:  NoPeerDetected,
				Message: fmt.Sprintf("no answer to %d connect attempts", m.attempt),
			})
		}

		connect, err := message.New(message.KindConnect, message.ConnectPayload{Role: message.RoleClient}, m.correlationID)
		if err != nil {
			return m.fail(&TransportError{Reason: PlaybackError, Message: "failed to build connect", Err: err})
		}
		m.attempt++
		m.connectIDs[connect.ID] = true
		m.pendingID = connect.ID
		m.deadline = time.Time{}
		return Step{Send: connect}

	case AwaitingResponse:
		return m.fail(&TransportError{Reason: ResponseTimeout})

	default:
		return Step{}
	}
}

// Fail ends the session with err, as when the channel cannot transmit
func (m *Machine) Fail(err *TransportError) Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Idle || m.state.Terminal() {
		return Step{}
	}
	return m.fail(err)
}

func (m *Machine) fail(err *TransportError) Step {
	m.state = Failed
	m.pendingID = ""
	m.deadline = time.Time{}
	m.outcome = &Outcome{Err: err}
	return Step{Outcome: m.outcome}
}

// Cancel abandons the session from any state
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear()
}

// Reset returns a finished machine to Idle, keeping the last outcome for monitoring
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcome := m.outcome
	m.clear()
	m.outcome = outcome
}

func (m *Machine) clear() {
	m.state = Idle
	m.request = message.TxDescriptor{}
	m.correlationID = ""
	m.pendingID = ""
	m.connectIDs = nil
	m.attempt = 0
	m.deadline = time.Time{}
	m.outcome = nil
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PendingID returns the id of the envelope whose reply is awaited
func (m *Machine) PendingID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingID
}

// Attempt returns the number of Connects sent this session
func (m *Machine) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Deadline returns when the current wait is abandoned, zero when none is armed
func (m *Machine) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline
}

// CorrelationID returns the id shared by every envelope of the session
func (m *Machine) CorrelationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.correlationID
}

// Snapshot returns a view of the machine for monitoring
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		State:         m.state.String(),
		CorrelationID: m.correlationID,
		PendingID:     m.pendingID,
		Attempt:       m.attempt,
		Deadline:      m.deadline,
	}
	if m.outcome != nil && m.outcome.Err != nil {
		s.LastError = m.outcome.Err.Error()
	}
	return s
}
