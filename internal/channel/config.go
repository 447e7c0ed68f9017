package channel

import (
	"fmt"
	"time"
)

// Config configures an Adapter
type Config struct {
	SampleRate        int
	BufferSeconds     float64
	KeepSeconds       float64
	DecodeThreshold   time.Duration // buffered audio required before a decode attempt
	ProtocolID        int
	Volume            int
	ActivityThreshold float32
	InboxSize         int
	RejectInvalid     bool // answer unparseable envelopes with an Error envelope
	EchoMemory        int  // number of sent ids remembered for echo suppression
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() Config {
	return Config{
		SampleRate:        48000,
		BufferSeconds:     2,
		KeepSeconds:       1,
		DecodeThreshold:   250 * time.Millisecond,
		ProtocolID:        1,
		Volume:            50,
		ActivityThreshold: 0.02,
		InboxSize:         64,
		RejectInvalid:     true,
		EchoMemory:        32,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.BufferSeconds <= 0 {
		return fmt.Errorf("buffer seconds must be positive, got %f", c.BufferSeconds)
	}
	if c.KeepSeconds <= 0 || c.KeepSeconds > c.BufferSeconds {
		return fmt.Errorf("keep seconds must be in (0, %f], got %f", c.BufferSeconds, c.KeepSeconds)
	}
	if c.DecodeThreshold < 0 || c.DecodeThreshold.Seconds() > c.BufferSeconds {
		return fmt.Errorf("decode threshold must be between 0 and the buffer length, got %s", c.DecodeThreshold)
	}
	if c.Volume < 1 || c.Volume > 100 {
		return fmt.Errorf("volume must be between 1 and 100, got %d", c.Volume)
	}
	if c.ActivityThreshold < 0 || c.ActivityThreshold > 1 {
		return fmt.Errorf("activity threshold must be between 0 and 1, got %f", c.ActivityThreshold)
	}
	if c.InboxSize <= 0 {
		return fmt.Errorf("inbox size must be positive, got %d", c.InboxSize)
	}
	if c.EchoMemory < 0 {
		return fmt.Errorf("echo memory cannot be negative, got %d", c.EchoMemory)
	}
	return nil
}
