package session

import (
	"errors"
	"fmt"
)

// Reason classifies a transport failure
type Reason string

const (
	NoPeerDetected   Reason = "no_peer_detected"
	ResponseTimeout  Reason = "response_timeout"
	RejectedByPeer   Reason = "rejected_by_peer"
	PeerError        Reason = "peer_error"
	CodecUnavailable Reason = "codec_unavailable"
	PlaybackError    Reason = "playback_error"
	ListenError      Reason = "listen_error"
	Cancelled        Reason = "cancelled"
)

// TransportError is the typed failure of a session
type TransportError struct {
	Reason  Reason
	Message string // peer supplied message, if any
	Err     error  // underlying cause, if any
}

// Sentinels for errors.Is
var (
	ErrNoPeerDetected   = &TransportError{Reason: NoPeerDetected}
	ErrResponseTimeout  = &TransportError{Reason: ResponseTimeout}
	ErrRejectedByPeer   = &TransportError{Reason: RejectedByPeer}
	ErrPeerError        = &TransportError{Reason: PeerError}
	ErrCodecUnavailable = &TransportError{Reason: CodecUnavailable}
	ErrPlaybackError    = &TransportError{Reason: PlaybackError}
	ErrListenError      = &TransportError{Reason: ListenError}
	ErrCancelled        = &TransportError{Reason: Cancelled}
)

// ErrSessionActive is returned when a session is initiated while another is in flight
var ErrSessionActive = errors.New("a session is already in progress")

func (e *TransportError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	default:
		return string(e.Reason)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is matches any TransportError with the same reason
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	return ok && t.Reason == e.Reason
}

// Decider errors, mapped to in-band error codes by the Responder
var (
	ErrRejected       = errors.New("rejected")
	ErrInvalidRequest = errors.New("invalid request")
)
