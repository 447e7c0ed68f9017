package activity

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Detector performs energy-based signal detection over sample windows
type Detector struct {
	threshold float32 // RMS level at or above which a window counts as signal
	smoothing float32 // weight of the newest window in the running level

	level       float32
	initialized bool

	// Statistics
	totalWindows  uint64
	signalWindows uint64
	lastSignal    time.Time
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result is the outcome of processing one window
type Result struct {
	RMS       float32   `json:"rms"`   // instantaneous RMS of the window
	Level     float32   `json:"level"` // smoothed level
	HasSignal bool      `json:"has_signal"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats represents detector statistics
type Stats struct {
	Threshold     float32   `json:"threshold"`
	Level         float32   `json:"level"`
	TotalWindows  uint64    `json:"total_windows"`
	SignalWindows uint64    `json:"signal_windows"`
	SignalPercent float64   `json:"signal_percent"`
	LastSignal    time.Time `json:"last_signal"`
	LastProcessed time.Time `json:"last_processed"`
}

// NewDetector creates a detector. threshold is an RMS level in [0, 1] for normalized
// samples; smoothing in (0, 1] weighs the newest window, 1 disables smoothing.
func NewDetector(threshold, smoothing float32) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	if smoothing <= 0 || smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %f", smoothing)
	}

	return &Detector{
		threshold: threshold,
		smoothing: smoothing,
	}, nil
}

// Process measures a window and updates the running level. A window is signal when
// either its own RMS or the smoothed level reaches the threshold, so a short burst
// is not smoothed away.
func (d *Detector) Process(samples []float32) Result {
	rms := RMS(samples)

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		d.level = rms
		d.initialized = true
	} else {
		d.level = d.smoothing*rms + (1-d.smoothing)*d.level
	}

	now := time.Now()
	hasSignal := rms >= d.threshold || d.level >= d.threshold

	d.totalWindows++
	d.lastProcessed = now
	if hasSignal {
		d.signalWindows++
		d.lastSignal = now
	}

	return Result{
		RMS:       rms,
		Level:     d.level,
		HasSignal: hasSignal,
		Timestamp: now,
	}
}

// HasSignal reports whether any window-sized slice of samples reaches the threshold.
// It does not touch the running level.
func (d *Detector) HasSignal(samples []float32, window int) bool {
	if window <= 0 || window > len(samples) {
		window = len(samples)
	}
	if window == 0 {
		return false
	}

	d.mu.RLock()
	threshold := d.threshold
	d.mu.RUnlock()

	for start := 0; start < len(samples); start += window {
		end := start + window
		if end > len(samples) {
			end = len(samples)
		}
		if RMS(samples[start:end]) >= threshold {
			return true
		}
	}
	return false
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	percent := float64(0)
	if d.totalWindows > 0 {
		percent = float64(d.signalWindows) / float64(d.totalWindows) * 100
	}

	return Stats{
		Threshold:     d.threshold,
		Level:         d.level,
		TotalWindows:  d.totalWindows,
		SignalWindows: d.signalWindows,
		SignalPercent: percent,
		LastSignal:    d.lastSignal,
		LastProcessed: d.lastProcessed,
	}
}

// Reset clears the running level and statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.level = 0
	d.initialized = false
	d.totalWindows = 0
	d.signalWindows = 0
	d.lastSignal = time.Time{}
	d.lastProcessed = time.Time{}
}

// RMS returns the root mean square of samples
func RMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return float32(math.Sqrt(energy / float64(len(samples))))
}
