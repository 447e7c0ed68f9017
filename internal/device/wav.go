package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sserrano44/GibberWallet/internal/audio"
)

// WAVSpeaker records every transmission as a numbered WAV file. When Next is set the
// waveform is also played on it, so a live exchange can be recorded.
type WAVSpeaker struct {
	Dir        string
	Prefix     string
	SampleRate int
	Next       Speaker

	mu    sync.Mutex
	count int
	files []string
}

// NewWAVSpeaker creates the recording directory if needed
func NewWAVSpeaker(dir, prefix string, sampleRate int, next Speaker) (*WAVSpeaker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	if prefix == "" {
		prefix = "tx"
	}
	return &WAVSpeaker{Dir: dir, Prefix: prefix, SampleRate: sampleRate, Next: next}, nil
}

// Play implements Speaker
func (s *WAVSpeaker) Play(ctx context.Context, samples []float32) error {
	data, err := audio.EncodeWAV(samples, s.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to encode recording: %w", err)
	}

	s.mu.Lock()
	s.count++
	name := filepath.Join(s.Dir, fmt.Sprintf("%s-%04d.wav", s.Prefix, s.count))
	s.mu.Unlock()

	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}

	s.mu.Lock()
	s.files = append(s.files, name)
	s.mu.Unlock()

	if s.Next != nil {
		return s.Next.Play(ctx, samples)
	}
	return nil
}

// Files returns the paths written so far, oldest first
func (s *WAVSpeaker) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// WAVMicrophone replays recorded audio as capture frames. Capture ends on its own once
// the recording, followed by TailSamples of silence, has been delivered.
type WAVMicrophone struct {
	samples     []float32
	sampleRate  int
	frameSize   int
	realtime    bool
	tailSamples int

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	active bool
}

// NewWAVMicrophone loads a WAV file for replay
func NewWAVMicrophone(path string, frameSize int, realtime bool) (*WAVMicrophone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}

	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return NewSampleMicrophone(samples, rate, frameSize, realtime)
}

// NewSampleMicrophone replays samples already in memory
func NewSampleMicrophone(samples []float32, sampleRate, frameSize int, realtime bool) (*WAVMicrophone, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", frameSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &WAVMicrophone{
		samples:     samples,
		sampleRate:  sampleRate,
		frameSize:   frameSize,
		realtime:    realtime,
		tailSamples: frameSize,
	}, nil
}

// SampleRate returns the rate of the replayed recording
func (m *WAVMicrophone) SampleRate() int {
	return m.sampleRate
}

// Start implements Microphone
func (m *WAVMicrophone) Start(onFrame func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return ErrAlreadyStarted
	}
	m.active = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go m.replay(onFrame, m.stop, m.done)
	return nil
}

// Stop implements Microphone and waits for the replay goroutine to exit
func (m *WAVMicrophone) Stop() error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return nil
	}
	m.active = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
	return nil
}

// Done is closed when the current replay has delivered every frame
func (m *WAVMicrophone) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return m.done
}

func (m *WAVMicrophone) replay(onFrame func([]float32), stop, done chan struct{}) {
	defer close(done)

	total := make([]float32, len(m.samples)+m.tailSamples)
	copy(total, m.samples)

	frameDuration := time.Duration(float64(m.frameSize) / float64(m.sampleRate) * float64(time.Second))

	for start := 0; start < len(total); start += m.frameSize {
		select {
		case <-stop:
			return
		default:
		}

		end := start + m.frameSize
		if end > len(total) {
			end = len(total)
		}
		frame := make([]float32, end-start)
		copy(frame, total[start:end])
		onFrame(frame)

		if m.realtime {
			select {
			case <-stop:
				return
			case <-time.After(frameDuration):
			}
		}
	}
}
