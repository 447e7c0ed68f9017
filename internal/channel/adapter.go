package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sserrano44/GibberWallet/internal/activity"
	"github.com/sserrano44/GibberWallet/internal/audio"
	"github.com/sserrano44/GibberWallet/internal/codec"
	"github.com/sserrano44/GibberWallet/internal/device"
	"github.com/sserrano44/GibberWallet/internal/message"
	"github.com/sserrano44/GibberWallet/internal/metrics"
)

// Handler receives envelopes no waiter claimed. It runs on the dispatcher goroutine.
type Handler func(env *message.Envelope)

// Predicate selects the envelope a waiter is interested in
type Predicate func(env *message.Envelope) bool

// SignalState describes what the microphone is hearing
type SignalState string

const (
	SignalIdle      SignalState = "idle" // not listening
	SignalSilent    SignalState = "silent"
	SignalReceiving SignalState = "receiving"
)

// Adapter is the acoustic message channel of one device
type Adapter struct {
	cfg     Config
	codec   codec.Codec
	speaker device.Speaker
	mic     device.Microphone
	logger  *slog.Logger
	metrics *metrics.Metrics

	buffer          *audio.AccumulationBuffer
	detector        *activity.Detector
	decodeThreshold int
	activityWindow  int

	// one transmission at a time
	txMu sync.Mutex

	// capture side
	captureMu  sync.Mutex
	capturing  bool
	generation uint64
	signal     SignalState

	// dispatch side
	mu      sync.Mutex
	handler Handler
	waiter  *Wait
	sent    *idRing
	closed  bool

	inbox  chan inbound
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats counters
}

type inbound struct {
	env        *message.Envelope
	parseErr   *message.ParseError
	generation uint64
}

type counters struct {
	transmissions   atomic.Uint64
	transmitErrors  atomic.Uint64
	framesCaptured  atomic.Uint64
	decodeAttempts  atomic.Uint64
	decodeSuccesses atomic.Uint64
	envelopes       atomic.Uint64
	parseErrors     atomic.Uint64
	rejected        atomic.Uint64
	echoes          atomic.Uint64
	inboxDropped    atomic.Uint64
	unhandled       atomic.Uint64
}

// Stats represents adapter statistics for monitoring
type Stats struct {
	Listening       bool              `json:"listening"`
	Signal          SignalState       `json:"signal"`
	Waiting         bool              `json:"waiting"`
	Transmissions   uint64            `json:"transmissions"`
	TransmitErrors  uint64            `json:"transmit_errors"`
	FramesCaptured  uint64            `json:"frames_captured"`
	DecodeAttempts  uint64            `json:"decode_attempts"`
	DecodeSuccesses uint64            `json:"decode_successes"`
	Envelopes       uint64            `json:"envelopes"`
	ParseErrors     uint64            `json:"parse_errors"`
	Rejected        uint64            `json:"rejected"`
	Echoes          uint64            `json:"echoes"`
	InboxDropped    uint64            `json:"inbox_dropped"`
	Unhandled       uint64            `json:"unhandled"`
	InboxSize       int               `json:"inbox_size"`
	Buffer          audio.BufferStats `json:"buffer"`
	Activity        activity.Stats    `json:"activity"`
}

// New creates an adapter and starts its dispatcher. Capture does not start until
// StartListening or a wait is armed.
func New(cfg Config, c codec.Codec, spk device.Speaker, mic device.Microphone, logger *slog.Logger, m *metrics.Metrics) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid channel config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	buffer, err := audio.NewAccumulationBuffer(audio.BufferConfig{
		SampleRate:    cfg.SampleRate,
		BufferSeconds: cfg.BufferSeconds,
		KeepSeconds:   cfg.KeepSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create accumulation buffer: %w", err)
	}

	detector, err := activity.NewDetector(silenceThreshold(cfg.ActivityThreshold, c), 0.5)
	if err != nil {
		return nil, fmt.Errorf("failed to create activity detector: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Adapter{
		cfg:             cfg,
		codec:           c,
		speaker:         spk,
		mic:             mic,
		logger:          logger,
		metrics:         m,
		buffer:          buffer,
		detector:        detector,
		decodeThreshold: audio.DurationToSamples(cfg.DecodeThreshold, cfg.SampleRate),
		activityWindow:  audio.DurationToSamples(20*time.Millisecond, cfg.SampleRate),
		signal:          SignalIdle,
		sent:            newIDRing(cfg.EchoMemory),
		inbox:           make(chan inbound, cfg.InboxSize),
		ctx:             ctx,
		cancel:          cancel,
	}

	a.wg.Add(1)
	go a.dispatchLoop()

	return a, nil
}

// silenceThreshold caps the activity threshold at the codec's own floor, so audio the
// codec can demodulate is never cleared as silence
func silenceThreshold(threshold float32, c codec.Codec) float32 {
	if f, ok := c.(codec.SignalFloor); ok && f.SignalFloor() < threshold {
		return f.SignalFloor()
	}
	return threshold
}

// Transmit plays one envelope to completion. Transmissions never overlap.
func (a *Adapter) Transmit(ctx context.Context, env *message.Envelope) error {
	if a.isClosed() {
		return ErrClosed
	}
	if a.codec == nil || !a.codec.Ready() {
		a.recordTransmitError("codec_unavailable")
		return ErrCodecUnavailable
	}

	data, err := message.Serialize(env)
	if err != nil {
		return fmt.Errorf("failed to serialize envelope: %w", err)
	}

	waveform, err := a.codec.Encode(data, a.cfg.ProtocolID, a.cfg.Volume)
	if err != nil {
		a.recordTransmitError("encode")
		return fmt.Errorf("%w: %v", ErrCodecUnavailable, err)
	}

	a.txMu.Lock()
	defer a.txMu.Unlock()

	// remembered before playing since the echo can decode before Play returns
	a.mu.Lock()
	a.sent.add(env.ID)
	a.mu.Unlock()

	start := time.Now()
	if err := a.speaker.Play(ctx, waveform); err != nil {
		if ctx.Err() != nil {
			a.recordTransmitError("cancelled")
			return ctx.Err()
		}
		a.recordTransmitError("playback")
		return fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	elapsed := time.Since(start)

	a.stats.transmissions.Add(1)
	a.metrics.RecordTransmission(elapsed.Seconds())

	a.logger.Debug("Envelope transmitted",
		slog.String("kind", string(env.Kind)),
		slog.String("id", env.ID),
		slog.String("cid", env.CorrelationID),
		slog.Int("bytes", len(data)),
		slog.Int("samples", len(waveform)),
		slog.Duration("duration", elapsed),
	)

	return nil
}

func (a *Adapter) recordTransmitError(reason string) {
	a.stats.transmitErrors.Add(1)
	a.metrics.RecordTransmitError(reason)
}

// StartListening routes unclaimed envelopes to h and starts capture if needed.
// Calling it again replaces the handler; capture is never started twice.
func (a *Adapter) StartListening(h Handler) error {
	if a.isClosed() {
		return ErrClosed
	}

	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()

	return a.startCapture()
}

// StopListening halts capture, clears the buffer and drops the handler. Any decode
// still in progress completes and its result is discarded. Stopping twice is a no-op.
func (a *Adapter) StopListening() error {
	a.mu.Lock()
	a.handler = nil
	w := a.waiter
	a.waiter = nil
	a.mu.Unlock()

	if w != nil {
		w.abort()
	}

	a.captureMu.Lock()
	defer a.captureMu.Unlock()

	if !a.capturing {
		return nil
	}

	a.capturing = false
	a.generation++
	a.signal = SignalIdle
	a.buffer.Clear()
	a.metrics.SetBufferSamples(0)

	if err := a.mic.Stop(); err != nil {
		return fmt.Errorf("failed to stop microphone: %w", err)
	}

	a.logger.Debug("Stopped listening")
	return nil
}

// Listening reports whether capture is running
func (a *Adapter) Listening() bool {
	a.captureMu.Lock()
	defer a.captureMu.Unlock()
	return a.capturing
}

func (a *Adapter) startCapture() error {
	a.captureMu.Lock()
	defer a.captureMu.Unlock()

	if a.capturing {
		return nil
	}

	a.buffer.Clear()
	a.detector.Reset()
	if err := a.mic.Start(a.onFrame); err != nil {
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	a.capturing = true
	a.generation++
	a.signal = SignalSilent

	a.logger.Debug("Started listening", slog.Uint64("generation", a.generation))
	return nil
}

// onFrame is the microphone callback
func (a *Adapter) onFrame(frame []float32) {
	a.captureMu.Lock()
	defer a.captureMu.Unlock()

	if !a.capturing {
		return
	}

	a.stats.framesCaptured.Add(1)
	a.metrics.RecordFrameCaptured()

	if dropped := a.buffer.Append(frame); dropped > 0 {
		a.metrics.RecordBufferTrim()
	}
	a.detector.Process(frame)

	window := a.buffer.Snapshot()
	if !a.detector.HasSignal(window, a.activityWindow) {
		// nothing worth keeping
		a.signal = SignalSilent
		a.buffer.Clear()
		a.metrics.SetBufferSamples(0)
		return
	}
	a.signal = SignalReceiving
	a.metrics.SetBufferSamples(len(window))

	if len(window) < a.decodeThreshold {
		return
	}

	a.stats.decodeAttempts.Add(1)
	payload, err := a.codec.Decode(window)
	a.metrics.RecordDecode(err == nil && payload != nil)
	if err != nil {
		a.logger.Warn("Decode failed", slog.String("error", err.Error()))
		return
	}
	if payload == nil {
		return
	}

	a.stats.decodeSuccesses.Add(1)
	a.buffer.Clear()
	a.metrics.SetBufferSamples(0)

	in := inbound{generation: a.generation}
	env, err := message.Parse(payload)
	if err != nil {
		var pe *message.ParseError
		if !errors.As(err, &pe) {
			pe = &message.ParseError{Code: message.ErrMalformedEnvelope, Reason: err.Error()}
		}
		in.parseErr = pe
	} else {
		in.env = env
	}

	select {
	case a.inbox <- in:
	default:
		a.stats.inboxDropped.Add(1)
		a.metrics.RecordInboxDropped()
		a.logger.Warn("Inbox full, dropping envelope", slog.Int("inbox_size", cap(a.inbox)))
	}
}

func (a *Adapter) currentGeneration() (uint64, bool) {
	a.captureMu.Lock()
	defer a.captureMu.Unlock()
	return a.generation, a.capturing
}

// dispatchLoop is the single consumer of the inbox
func (a *Adapter) dispatchLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.inbox:
			a.dispatch(in)
		}
	}
}

func (a *Adapter) dispatch(in inbound) {
	if gen, capturing := a.currentGeneration(); !capturing || gen != in.generation {
		a.logger.Debug("Discarding envelope decoded before listening stopped")
		return
	}

	if in.parseErr != nil {
		a.handleInvalid(in.parseErr)
		return
	}

	env := in.env

	a.mu.Lock()
	echo := a.sent.contains(env.ID)
	a.mu.Unlock()
	if echo {
		a.stats.echoes.Add(1)
		a.metrics.RecordEcho()
		a.logger.Debug("Dropping echo of own transmission", slog.String("id", env.ID))
		return
	}

	a.stats.envelopes.Add(1)
	a.metrics.RecordEnvelope(string(env.Kind))
	a.logger.Debug("Envelope received",
		slog.String("kind", string(env.Kind)),
		slog.String("id", env.ID),
		slog.String("cid", env.CorrelationID),
		slog.String("re", env.InReplyTo),
	)

	a.mu.Lock()
	w := a.waiter
	a.mu.Unlock()

	if w != nil && w.match(env) && a.claim(w) {
		w.resolve(env)
		return
	}

	a.mu.Lock()
	h := a.handler
	a.mu.Unlock()

	if h == nil {
		a.stats.unhandled.Add(1)
		a.logger.Debug("No handler for envelope", slog.String("kind", string(env.Kind)))
		return
	}
	h(env)
}

// handleInvalid answers an unparseable envelope in-band when it carried an id
func (a *Adapter) handleInvalid(pe *message.ParseError) {
	code := pe.ErrorCode()
	a.stats.parseErrors.Add(1)
	a.metrics.RecordParseError(string(code))

	a.mu.Lock()
	echo := pe.ID != "" && a.sent.contains(pe.ID)
	a.mu.Unlock()
	if echo {
		return
	}

	a.logger.Warn("Received invalid envelope",
		slog.String("id", pe.ID),
		slog.String("code", string(code)),
		slog.String("reason", pe.Reason),
	)

	if !a.cfg.RejectInvalid || !pe.Replyable() {
		return
	}

	reply, err := message.NewErrorFor(pe.ID, pe.CorrelationID, code, pe.Error())
	if err != nil {
		a.logger.Error("Failed to build error reply", slog.String("error", err.Error()))
		return
	}
	if err := a.Transmit(a.ctx, reply); err != nil {
		a.logger.Error("Failed to answer invalid envelope",
			slog.String("id", pe.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	a.stats.rejected.Add(1)
}

// Stats returns current adapter statistics
func (a *Adapter) Stats() Stats {
	a.captureMu.Lock()
	listening := a.capturing
	signal := a.signal
	a.captureMu.Unlock()

	a.mu.Lock()
	waiting := a.waiter != nil
	a.mu.Unlock()

	return Stats{
		Listening:       listening,
		Signal:          signal,
		Waiting:         waiting,
		Transmissions:   a.stats.transmissions.Load(),
		TransmitErrors:  a.stats.transmitErrors.Load(),
		FramesCaptured:  a.stats.framesCaptured.Load(),
		DecodeAttempts:  a.stats.decodeAttempts.Load(),
		DecodeSuccesses: a.stats.decodeSuccesses.Load(),
		Envelopes:       a.stats.envelopes.Load(),
		ParseErrors:     a.stats.parseErrors.Load(),
		Rejected:        a.stats.rejected.Load(),
		Echoes:          a.stats.echoes.Load(),
		InboxDropped:    a.stats.inboxDropped.Load(),
		Unhandled:       a.stats.unhandled.Load(),
		InboxSize:       len(a.inbox),
		Buffer:          a.buffer.GetStats(),
		Activity:        a.detector.GetStats(),
	}
}

// Close stops listening and the dispatcher. Further transmissions fail with ErrClosed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	err := a.StopListening()
	a.cancel()
	a.wg.Wait()
	return err
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
