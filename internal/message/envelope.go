package message

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
)

// ProtocolVersion is stamped on every envelope this implementation creates.
const ProtocolVersion = "1.0"

// acceptedVersions is the range of protocol versions a receiver will process.
// Minor revisions may add payload fields; a major bump changes the handshake.
var acceptedVersions = mustConstraint(">= 1.0, < 2.0")

// Kind identifies the variant of an envelope
type Kind string

// Message kinds. The handshake pair is connect/connect_ack.
const (
	KindConnect    Kind = "connect"
	KindConnectAck Kind = "connect_ack"
	KindTxRequest  Kind = "tx_request"
	KindTxResponse Kind = "tx_response"
	KindAck        Kind = "ack"
	KindError      Kind = "error"
)

// Valid reports whether k is a kind known to this protocol version
func (k Kind) Valid() bool {
	switch k {
	case KindConnect, KindConnectAck, KindTxRequest, KindTxResponse, KindAck, KindError:
		return true
	}
	return false
}

// Envelope is the unit of transport over the acoustic channel
type Envelope struct {
	ProtocolVersion string          `json:"v"`
	Kind            Kind            `json:"kind"`
	ID              string          `json:"id"`
	CorrelationID   string          `json:"cid"`
	InReplyTo       string          `json:"re,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// New creates an envelope of the given kind with a fresh id and the current protocol
// version. An empty correlationID starts a new conversation.
func New(kind Kind, payload any, correlationID string) (*Envelope, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	if correlationID == "" {
		correlationID = NewID()
	}

	return &Envelope{
		ProtocolVersion: ProtocolVersion,
		Kind:            kind,
		ID:              NewID(),
		CorrelationID:   correlationID,
		Payload:         raw,
	}, nil
}

// Reply creates an envelope answering to. The reply inherits the correlation id and
// references to.ID as InReplyTo.
func Reply(to *Envelope, kind Kind, payload any) (*Envelope, error) {
	if to == nil || to.ID == "" {
		return nil, fmt.Errorf("cannot reply to an envelope without id")
	}

	env, err := New(kind, payload, to.CorrelationID)
	if err != nil {
		return nil, err
	}
	env.InReplyTo = to.ID

	return env, nil
}

// NewID returns a new unique envelope or correlation id
func NewID() string {
	return uuid.NewString()
}

// Serialize renders the envelope as UTF-8 JSON text for the codec
func Serialize(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("cannot serialize nil envelope")
	}
	return json.Marshal(env)
}

// Parse decodes envelope text and validates its structure and version.
// Failures are returned as *ParseError.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ParseError{Code: ErrMalformedEnvelope, Reason: err.Error()}
	}

	fail := func(code error, reason string) (*Envelope, error) {
		return nil, &ParseError{
			Code:          code,
			ID:            env.ID,
			CorrelationID: env.CorrelationID,
			Reason:        reason,
		}
	}

	switch {
	case env.ID == "":
		return fail(ErrMalformedEnvelope, "missing id")
	case env.CorrelationID == "":
		return fail(ErrMalformedEnvelope, "missing correlation id")
	case env.ProtocolVersion == "":
		return fail(ErrMalformedEnvelope, "missing protocol version")
	case env.Kind == "":
		return fail(ErrMalformedEnvelope, "missing kind")
	}

	// Version is checked before kind so that a newer peer using kinds we do not know
	// still gets an unsupported_version answer instead of silence.
	if !VersionSupported(env.ProtocolVersion) {
		return fail(ErrUnsupportedVersion, fmt.Sprintf("protocol version %q not accepted", env.ProtocolVersion))
	}

	if !env.Kind.Valid() {
		return fail(ErrMalformedEnvelope, fmt.Sprintf("unknown kind %q", env.Kind))
	}

	if env.InReplyTo == env.ID {
		return fail(ErrMalformedEnvelope, "envelope replies to itself")
	}

	if len(env.Payload) > 0 {
		var compact bytes.Buffer
		if err := json.Compact(&compact, env.Payload); err != nil {
			return fail(ErrMalformedEnvelope, "payload is not valid JSON")
		}
		env.Payload = compact.Bytes()
	} else {
		env.Payload = nil
	}

	return &env, nil
}

// VersionSupported reports whether a protocol version string is accepted
func VersionSupported(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return acceptedVersions.Check(v)
}

// IsReplyTo reports whether env answers the envelope with the given id
func (e *Envelope) IsReplyTo(id string) bool {
	return id != "" && e.InReplyTo == id
}

// String returns a short human-readable representation of the envelope
func (e *Envelope) String() string {
	if e.InReplyTo != "" {
		return fmt.Sprintf("Envelope{Kind:%s, ID:%s, CID:%s, Re:%s}", e.Kind, e.ID, e.CorrelationID, e.InReplyTo)
	}
	return fmt.Sprintf("Envelope{Kind:%s, ID:%s, CID:%s}", e.Kind, e.ID, e.CorrelationID)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(p) == 0 {
			return nil, nil
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, p); err != nil {
			return nil, err
		}
		return compact.Bytes(), nil
	default:
		return json.Marshal(p)
	}
}

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(fmt.Sprintf("invalid version constraint %q: %v", c, err))
	}
	return constraint
}
