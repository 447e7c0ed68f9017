package audio

import (
	"fmt"
	"sync"
	"time"
)

// AccumulationBuffer holds captured samples awaiting a decode attempt. It is a sliding
// window: it never holds more than its capacity, and once the capacity is reached the
// oldest samples are dropped so only the most recent keep window survives. Old noise
// therefore cannot block the decode of a message that arrives later.
type AccumulationBuffer struct {
	sampleRate int
	capacity   int // maximum samples held
	keep       int // samples retained after a trim

	samples []float32

	// Statistics
	appended   uint64
	trimmed    uint64
	trims      uint64
	clears     uint64
	lastUpdate time.Time

	mu sync.RWMutex
}

// BufferConfig sizes an accumulation buffer in seconds of audio
type BufferConfig struct {
	SampleRate    int
	BufferSeconds float64 // capacity, default 2s
	KeepSeconds   float64 // window kept after a trim, default 1s
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Samples        int       `json:"samples"`
	Capacity       int       `json:"capacity"`
	Keep           int       `json:"keep"`
	AppendedTotal  uint64    `json:"appended_total"`
	TrimmedSamples uint64    `json:"trimmed_samples"`
	Trims          uint64    `json:"trims"`
	Clears         uint64    `json:"clears"`
	LastUpdate     time.Time `json:"last_update"`
}

// NewAccumulationBuffer creates a buffer sized from cfg
func NewAccumulationBuffer(cfg BufferConfig) (*AccumulationBuffer, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.BufferSeconds <= 0 {
		cfg.BufferSeconds = 2
	}
	if cfg.KeepSeconds <= 0 {
		cfg.KeepSeconds = cfg.BufferSeconds / 2
	}
	if cfg.KeepSeconds > cfg.BufferSeconds {
		return nil, fmt.Errorf("keep window (%.2fs) cannot exceed buffer capacity (%.2fs)",
			cfg.KeepSeconds, cfg.BufferSeconds)
	}

	capacity := int(cfg.BufferSeconds * float64(cfg.SampleRate))
	keep := int(cfg.KeepSeconds * float64(cfg.SampleRate))
	if capacity < 1 || keep < 1 {
		return nil, fmt.Errorf("buffer too small: capacity=%d keep=%d samples", capacity, keep)
	}

	return &AccumulationBuffer{
		sampleRate: cfg.SampleRate,
		capacity:   capacity,
		keep:       keep,
		samples:    make([]float32, 0, capacity),
		lastUpdate: time.Now(),
	}, nil
}

// Append adds a captured frame. If the buffer would exceed its capacity the oldest
// samples are discarded, leaving only the most recent keep window. It returns the
// number of samples dropped.
func (b *AccumulationBuffer) Append(frame []float32) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUpdate = time.Now()
	b.appended += uint64(len(frame))

	if len(b.samples)+len(frame) <= b.capacity {
		b.samples = append(b.samples, frame...)
		return 0
	}

	// Frame alone overflows the keep window: only its tail can survive.
	if len(frame) >= b.keep {
		dropped := len(b.samples) + len(frame) - b.keep
		b.samples = append(b.samples[:0], frame[len(frame)-b.keep:]...)
		b.recordTrim(dropped)
		return dropped
	}

	fromOld := b.keep - len(frame)
	dropped := len(b.samples) - fromOld

	// Shift retained samples to the front, as the slice keeps its backing array
	copy(b.samples, b.samples[dropped:])
	b.samples = b.samples[:fromOld]
	b.samples = append(b.samples, frame...)
	b.recordTrim(dropped)

	return dropped
}

func (b *AccumulationBuffer) recordTrim(dropped int) {
	b.trims++
	b.trimmed += uint64(dropped)
}

// Snapshot returns a copy of the buffered samples for a decode attempt
func (b *AccumulationBuffer) Snapshot() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

// Clear drops every buffered sample. Called after a successful decode: nothing left in
// the same window can hold a second message.
func (b *AccumulationBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = b.samples[:0]
	b.clears++
}

// Len returns the number of buffered samples
func (b *AccumulationBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Capacity returns the maximum number of samples the buffer holds
func (b *AccumulationBuffer) Capacity() int {
	return b.capacity
}

// Duration returns the amount of audio currently buffered
func (b *AccumulationBuffer) Duration() time.Duration {
	return SamplesToDuration(b.Len(), b.sampleRate)
}

// GetStats returns current buffer statistics
func (b *AccumulationBuffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		Samples:        len(b.samples),
		Capacity:       b.capacity,
		Keep:           b.keep,
		AppendedTotal:  b.appended,
		TrimmedSamples: b.trimmed,
		Trims:          b.trims,
		Clears:         b.clears,
		LastUpdate:     b.lastUpdate,
	}
}

// SamplesToDuration converts a sample count to wall time at sampleRate
func SamplesToDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// DurationToSamples converts wall time to a sample count at sampleRate
func DurationToSamples(d time.Duration, sampleRate int) int {
	return int(d.Seconds() * float64(sampleRate))
}
