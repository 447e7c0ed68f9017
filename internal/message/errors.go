package message

import (
	"errors"
	"fmt"
)

// Parse failure classes
var (
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
)

// ParseError describes why received envelope text was refused. ID and CorrelationID
// are filled when the text was structured enough to carry them, so the receiver can
// still answer in-band.
type ParseError struct {
	Code          error
	ID            string
	CorrelationID string
	Reason        string
}

func (e *ParseError) Error() string {
	if e.Reason == "" {
		return e.Code.Error()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Code
}

// Replyable reports whether the offending envelope can be referenced by an Error reply
func (e *ParseError) Replyable() bool {
	return e.ID != ""
}

// ErrorCode returns the in-band code used to answer this failure
func (e *ParseError) ErrorCode() ErrorCode {
	if errors.Is(e.Code, ErrUnsupportedVersion) {
		return CodeUnsupportedVersion
	}
	return CodeMalformedEnvelope
}

// ErrorCode is the machine-readable reason carried by an Error envelope
type ErrorCode string

// Error codes sent in-band
const (
	CodeMalformedEnvelope  ErrorCode = "malformed_envelope"
	CodeUnsupportedVersion ErrorCode = "unsupported_version"
	CodeBusy               ErrorCode = "busy"
	CodeRejected           ErrorCode = "rejected"
	CodeInvalidRequest     ErrorCode = "invalid_request"
	CodeSigningFailed      ErrorCode = "signing_failed"
)
