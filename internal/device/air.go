package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AirConfig configures an in-memory medium
type AirConfig struct {
	SampleRate int
	FrameSize  int     // samples per delivered frame
	Realtime   bool    // pace playback at the sample rate
	Gain       float32 // attenuation applied to delivered audio, 0 means 1
}

// Air is an in-memory acoustic medium. Whatever one endpoint plays is delivered,
// frame by frame, to the microphones of every other endpoint.
type Air struct {
	cfg AirConfig

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	muted     map[string]bool
}

// NewAir creates an empty medium
func NewAir(cfg AirConfig) (*Air, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", cfg.FrameSize)
	}
	if cfg.Gain == 0 {
		cfg.Gain = 1
	}

	return &Air{
		cfg:       cfg,
		endpoints: make(map[string]*Endpoint),
		muted:     make(map[string]bool),
	}, nil
}

// Endpoint returns the named endpoint, creating it on first use
func (a *Air) Endpoint(name string) *Endpoint {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ep, ok := a.endpoints[name]; ok {
		return ep
	}
	ep := &Endpoint{air: a, name: name}
	a.endpoints[name] = ep
	return ep
}

// SetMuted stops audio played by the named endpoint from reaching anyone, as if its
// speaker were unplugged
func (a *Air) SetMuted(name string, muted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted[name] = muted
}

// Inject delivers samples to every listening endpoint, as ambient sound would
func (a *Air) Inject(samples []float32) {
	a.deliver("", samples)
}

// FrameDuration returns the wall time one frame represents
func (a *Air) FrameDuration() time.Duration {
	return time.Duration(float64(a.cfg.FrameSize) / float64(a.cfg.SampleRate) * float64(time.Second))
}

func (a *Air) listeners(except string) []func([]float32) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if except != "" && a.muted[except] {
		return nil
	}

	out := make([]func([]float32), 0, len(a.endpoints))
	for name, ep := range a.endpoints {
		if name == except {
			continue
		}
		if cb := ep.callback(); cb != nil {
			out = append(out, cb)
		}
	}
	return out
}

func (a *Air) deliver(from string, frame []float32) {
	for _, cb := range a.listeners(from) {
		out := make([]float32, len(frame))
		for i, s := range frame {
			out[i] = s * a.cfg.Gain
		}
		cb(out)
	}
}

// Endpoint is one device attached to the medium. It is both a Speaker and a
// Microphone.
type Endpoint struct {
	air  *Air
	name string

	mu      sync.Mutex
	onFrame func([]float32)
	played  uint64 // samples played
}

// Name returns the endpoint name
func (e *Endpoint) Name() string {
	return e.name
}

// Start implements Microphone
func (e *Endpoint) Start(onFrame func([]float32)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.onFrame != nil {
		return ErrAlreadyStarted
	}
	e.onFrame = onFrame
	return nil
}

// Stop implements Microphone. Stopping an idle endpoint is a no-op.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFrame = nil
	return nil
}

// Play implements Speaker. Frames are delivered synchronously; in realtime mode each
// frame also waits for its duration to elapse.
func (e *Endpoint) Play(ctx context.Context, samples []float32) error {
	frameSize := e.air.cfg.FrameSize

	var ticker *time.Ticker
	if e.air.cfg.Realtime {
		ticker = time.NewTicker(e.air.FrameDuration())
		defer ticker.Stop()
	}

	for start := 0; start < len(samples); start += frameSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + frameSize
		if end > len(samples) {
			end = len(samples)
		}
		e.air.deliver(e.name, samples[start:end])

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	e.mu.Lock()
	e.played += uint64(len(samples))
	e.mu.Unlock()

	return nil
}

// Played returns the number of samples this endpoint has played
func (e *Endpoint) Played() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.played
}

func (e *Endpoint) callback() func([]float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onFrame
}
