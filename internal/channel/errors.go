package channel

import "errors"

// Adapter errors
var (
	ErrCodecUnavailable = errors.New("codec unavailable")
	ErrPlayback         = errors.New("playback failed")
	ErrListen           = errors.New("failed to start listening")
	ErrWaitTimeout      = errors.New("timed out waiting for envelope")
	ErrWaitInProgress   = errors.New("another wait is already in progress")
	ErrNotListening     = errors.New("listening stopped")
	ErrClosed           = errors.New("channel closed")
)
