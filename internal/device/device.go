package device

import (
	"context"
	"errors"
)

// Speaker plays a waveform. Play returns only after playback has finished.
type Speaker interface {
	Play(ctx context.Context, samples []float32) error
}

// Microphone captures audio continuously and hands each frame to the callback.
// Frames may be delivered from any goroutine; the callback must not block.
type Microphone interface {
	Start(onFrame func(frame []float32)) error
	Stop() error
}

// Device errors
var (
	ErrAlreadyStarted = errors.New("capture already started")
	ErrClosed         = errors.New("device closed")
)
