package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sserrano44/GibberWallet/internal/codec"
	"github.com/sserrano44/GibberWallet/internal/device"
	"github.com/sserrano44/GibberWallet/internal/message"
	"github.com/sserrano44/GibberWallet/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		SampleRate:        16000,
		BufferSeconds:     2,
		KeepSeconds:       1,
		DecodeThreshold:   50 * time.Millisecond,
		ProtocolID:        2,
		Volume:            50,
		ActivityThreshold: 0.02,
		InboxSize:         16,
		RejectInvalid:     true,
		EchoMemory:        8,
	}
}

func newAir(t *testing.T) *device.Air {
	t.Helper()
	air, err := device.NewAir(device.AirConfig{SampleRate: 16000, FrameSize: 256})
	require.NoError(t, err)
	return air
}

func newTestAdapter(t *testing.T, air *device.Air, name string, m *metrics.Metrics) *Adapter {
	t.Helper()
	ep := air.Endpoint(name)
	a, err := New(testConfig(), codec.NewBaseband(), ep, ep, testLogger(), m)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func newConnect(t *testing.T) *message.Envelope {
	t.Helper()
	env, err := message.New(message.KindConnect, message.ConnectPayload{Role: message.RoleClient}, "")
	require.NoError(t, err)
	return env
}

type inbox struct {
	mu   sync.Mutex
	envs []*message.Envelope
}

func (b *inbox) handle(env *message.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envs = append(b.envs, env)
}

func (b *inbox) all() []*message.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*message.Envelope(nil), b.envs...)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, testConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"zero buffer", func(c *Config) { c.BufferSeconds = 0 }},
		{"keep longer than buffer", func(c *Config) { c.KeepSeconds = 3 }},
		{"threshold longer than buffer", func(c *Config) { c.DecodeThreshold = 3 * time.Second }},
		{"volume too high", func(c *Config) { c.Volume = 101 }},
		{"volume zero", func(c *Config) { c.Volume = 0 }},
		{"activity threshold", func(c *Config) { c.ActivityThreshold = 2 }},
		{"inbox", func(c *Config) { c.InboxSize = 0 }},
		{"echo memory", func(c *Config) { c.EchoMemory = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTransmitAndReceive(t *testing.T) {
	air := newAir(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	sender := newTestAdapter(t, air, "a", nil)
	receiver := newTestAdapter(t, air, "b", m)

	var got inbox
	require.NoError(t, receiver.StartListening(got.handle))
	assert.True(t, receiver.Listening())

	env := newConnect(t)
	require.NoError(t, sender.Transmit(context.Background(), env))

	require.Eventually(t, func() bool { return len(got.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, env, got.all()[0])

	stats := receiver.Stats()
	assert.Equal(t, uint64(1), stats.Envelopes)
	assert.Equal(t, uint64(1), stats.DecodeSuccesses)
	assert.Zero(t, stats.Buffer.Samples, "buffer is cleared after a decode")
	assert.Equal(t, uint64(1), sender.Stats().Transmissions)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EnvelopesByKind.WithLabelValues("connect")))
}

func TestWaitForMatchesAndForwardsOthers(t *testing.T) {
	air := newAir(t)
	sender := newTestAdapter(t, air, "a", nil)
	receiver := newTestAdapter(t, air, "b", nil)

	var general inbox
	require.NoError(t, receiver.StartListening(general.handle))

	unrelated := newConnect(t)
	wanted := newConnect(t)

	w, err := receiver.Expect(func(env *message.Envelope) bool { return env.ID == wanted.ID })
	require.NoError(t, err)
	assert.True(t, receiver.Stats().Waiting)

	require.NoError(t, sender.Transmit(context.Background(), unrelated))
	require.NoError(t, sender.Transmit(context.Background(), wanted))

	got, err := w.Wait(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, wanted.ID, got.ID)
	assert.False(t, receiver.Stats().Waiting)

	require.Eventually(t, func() bool { return len(general.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, unrelated.ID, general.all()[0].ID)
}

func TestWaitForTimeoutDeregisters(t *testing.T) {
	air := newAir(t)
	sender := newTestAdapter(t, air, "a", nil)
	receiver := newTestAdapter(t, air, "b", nil)

	var general inbox
	require.NoError(t, receiver.StartListening(general.handle))

	env := newConnect(t)
	match := func(e *message.Envelope) bool { return e.ID == env.ID }

	got, err := receiver.WaitFor(context.Background(), match, 20*time.Millisecond)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrWaitTimeout)

	// a late arrival must not resolve the abandoned wait
	require.NoError(t, sender.Transmit(context.Background(), env))
	require.Eventually(t, func() bool { return len(general.all()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// and a new wait can be armed
	_, err = receiver.WaitFor(context.Background(), match, time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestWaitForSingleWaiter(t *testing.T) {
	air := newAir(t)
	a := newTestAdapter(t, air, "a", nil)

	w, err := a.Expect(func(*message.Envelope) bool { return true })
	require.NoError(t, err)
	assert.True(t, a.Listening(), "arming a wait starts capture")

	_, err = a.WaitFor(context.Background(), func(*message.Envelope) bool { return true }, time.Second)
	assert.ErrorIs(t, err, ErrWaitInProgress)

	w.Cancel()
	_, err = a.Expect(func(*message.Envelope) bool { return true })
	assert.NoError(t, err)
}

func TestWaitForContextCancelled(t *testing.T) {
	air := newAir(t)
	a := newTestAdapter(t, air, "a", nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := a.WaitFor(ctx, func(*message.Envelope) bool { return true }, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, a.Stats().Waiting)
}

func TestStopListeningAbortsWait(t *testing.T) {
	air := newAir(t)
	a := newTestAdapter(t, air, "a", nil)

	w, err := a.Expect(func(*message.Envelope) bool { return true })
	require.NoError(t, err)

	require.NoError(t, a.StopListening())
	require.NoError(t, a.StopListening())

	_, err = w.Wait(context.Background(), time.Minute)
	assert.ErrorIs(t, err, ErrNotListening)
	assert.False(t, a.Listening())
	assert.Equal(t, SignalIdle, a.Stats().Signal)
}

func TestStartListeningReplacesHandler(t *testing.T) {
	air := newAir(t)
	sender := newTestAdapter(t, air, "a", nil)
	receiver := newTestAdapter(t, air, "b", nil)

	var first, second inbox
	require.NoError(t, receiver.StartListening(first.handle))
	require.NoError(t, receiver.StartListening(second.handle))

	require.NoError(t, sender.Transmit(context.Background(), newConnect(t)))
	require.Eventually(t, func() bool { return len(second.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, first.all())
	assert.Equal(t, uint64(1), receiver.Stats().DecodeSuccesses, "a single capture loop")
}

func TestStoppedAdapterHearsNothing(t *testing.T) {
	air := newAir(t)
	sender := newTestAdapter(t, air, "a", nil)
	receiver := newTestAdapter(t, air, "b", nil)

	var got inbox
	require.NoError(t, receiver.StartListening(got.handle))
	require.NoError(t, receiver.StopListening())

	require.NoError(t, sender.Transmit(context.Background(), newConnect(t)))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got.all())
	assert.Zero(t, receiver.Stats().FramesCaptured)
}

func TestEchoSuppressed(t *testing.T) {
	air := newAir(t)
	a := newTestAdapter(t, air, "a", nil)
	mic := air.Endpoint("room-mic")

	// the room plays a's own transmission back into its microphone
	var got inbox
	require.NoError(t, a.StartListening(got.handle))

	env := newConnect(t)
	require.NoError(t, a.Transmit(context.Background(), env))

	data, err := message.Serialize(env)
	require.NoError(t, err)
	waveform, err := codec.NewBaseband().Encode(data, 2, 50)
	require.NoError(t, err)
	require.NoError(t, mic.Play(context.Background(), waveform))

	require.Eventually(t, func() bool { return a.Stats().Echoes == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, got.all())
}

func TestInvalidEnvelopeAnsweredInBand(t *testing.T) {
	air := newAir(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	receiver := newTestAdapter(t, air, "b", m)
	var general inbox
	require.NoError(t, receiver.StartListening(general.handle))

	peer := newTestAdapter(t, air, "a", nil)
	var replies inbox
	require.NoError(t, peer.StartListening(replies.handle))

	// raw text from a peer speaking a future protocol version
	raw := []byte(`{"v":"2.0","kind":"connect","id":"future-1","cid":"c-1"}`)
	waveform, err := codec.NewBaseband().Encode(raw, 2, 50)
	require.NoError(t, err)
	require.NoError(t, air.Endpoint("a").Play(context.Background(), waveform))

	require.Eventually(t, func() bool { return len(replies.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	reply := replies.all()[0]
	assert.Equal(t, message.KindError, reply.Kind)
	assert.Equal(t, "future-1", reply.InReplyTo)
	assert.Equal(t, "c-1", reply.CorrelationID)

	payload, err := message.DecodeError(reply)
	require.NoError(t, err)
	assert.Equal(t, message.CodeUnsupportedVersion, payload.Code)

	assert.Empty(t, general.all(), "invalid envelopes never reach the handler")
	assert.Equal(t, uint64(1), receiver.Stats().Rejected)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ParseErrors.WithLabelValues("unsupported_version")))
}

func TestInvalidEnvelopeWithoutIDIsDropped(t *testing.T) {
	air := newAir(t)
	receiver := newTestAdapter(t, air, "b", nil)
	var general inbox
	require.NoError(t, receiver.StartListening(general.handle))

	waveform, err := codec.NewBaseband().Encode([]byte(`not json`), 2, 50)
	require.NoError(t, err)
	require.NoError(t, air.Endpoint("a").Play(context.Background(), waveform))

	require.Eventually(t, func() bool { return receiver.Stats().ParseErrors == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, receiver.Stats().Rejected)
	assert.Zero(t, receiver.Stats().Transmissions)
	assert.Empty(t, general.all())
}

func TestBufferBoundUnderNoise(t *testing.T) {
	air := newAir(t)
	a := newTestAdapter(t, air, "a", nil)
	require.NoError(t, a.StartListening(func(*message.Envelope) {}))

	capacity := a.Stats().Buffer.Capacity
	rng := rand.New(rand.NewSource(7))

	// four seconds of loud noise that never decodes
	for i := 0; i < 4*16000/256; i++ {
		frame := make([]float32, 256)
		for j := range frame {
			frame[j] = rng.Float32()*0.6 - 0.3
		}
		air.Inject(frame)
		require.LessOrEqual(t, a.Stats().Buffer.Samples, capacity)
	}

	stats := a.Stats()
	assert.Equal(t, SignalReceiving, stats.Signal)
	assert.Greater(t, stats.Buffer.Trims, uint64(0))
	assert.Zero(t, stats.DecodeSuccesses)
}

func TestSilenceIsNotDecoded(t *testing.T) {
	air := newAir(t)
	a := newTestAdapter(t, air, "a", nil)
	require.NoError(t, a.StartListening(func(*message.Envelope) {}))

	for i := 0; i < 20; i++ {
		air.Inject(make([]float32, 256))
	}

	stats := a.Stats()
	assert.Equal(t, SignalSilent, stats.Signal)
	assert.Zero(t, stats.DecodeAttempts)
	assert.Zero(t, stats.Buffer.Samples)
	assert.Equal(t, uint64(20), stats.FramesCaptured)
}

func TestAttenuatedTransmissionDecoded(t *testing.T) {
	// volume 50 through a 0.03 gain lands below the activity threshold but above the
	// codec floor
	air, err := device.NewAir(device.AirConfig{SampleRate: 16000, FrameSize: 256, Gain: 0.03})
	require.NoError(t, err)

	sender := newTestAdapter(t, air, "a", nil)
	receiver := newTestAdapter(t, air, "b", nil)

	var got inbox
	require.NoError(t, receiver.StartListening(got.handle))

	env := newConnect(t)
	require.NoError(t, sender.Transmit(context.Background(), env))

	require.Eventually(t, func() bool { return len(got.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, env, got.all()[0])

	stats := receiver.Stats()
	assert.Greater(t, stats.DecodeAttempts, uint64(0))
	assert.Equal(t, uint64(1), stats.DecodeSuccesses)
}

func TestSilenceThreshold(t *testing.T) {
	assert.Equal(t, float32(0.004), silenceThreshold(0.02, codec.NewBaseband()))
	assert.Equal(t, float32(0.001), silenceThreshold(0.001, codec.NewBaseband()))
	assert.Equal(t, float32(0.02), silenceThreshold(0.02, stubCodec{ready: true}))
}

type stubCodec struct {
	ready bool
}

func (c stubCodec) Ready() bool { return c.ready }

func (c stubCodec) Encode(payload []byte, _ int, _ int) ([]float32, error) {
	if len(payload) > 10000 {
		return nil, errors.New("too large")
	}
	return make([]float32, 16), nil
}

func (c stubCodec) Decode([]float32) ([]byte, error) { return nil, nil }

type failingSpeaker struct{}

func (failingSpeaker) Play(context.Context, []float32) error { return errors.New("device unplugged") }

type failingMic struct{}

func (failingMic) Start(func([]float32)) error { return errors.New("permission denied") }
func (failingMic) Stop() error                 { return nil }

func TestTransmitErrors(t *testing.T) {
	air := newAir(t)
	ep := air.Endpoint("a")

	notReady, err := New(testConfig(), stubCodec{ready: false}, ep, ep, testLogger(), nil)
	require.NoError(t, err)
	defer notReady.Close()
	assert.ErrorIs(t, notReady.Transmit(context.Background(), newConnect(t)), ErrCodecUnavailable)

	broken, err := New(testConfig(), stubCodec{ready: true}, failingSpeaker{}, ep, testLogger(), nil)
	require.NoError(t, err)
	defer broken.Close()
	assert.ErrorIs(t, broken.Transmit(context.Background(), newConnect(t)), ErrPlayback)
	assert.Equal(t, uint64(1), broken.Stats().TransmitErrors)

	huge, err := message.New(message.KindError, message.ErrorPayload{Code: "x", Message: string(make([]byte, 20000))}, "")
	require.NoError(t, err)
	assert.ErrorIs(t, broken.Transmit(context.Background(), huge), ErrCodecUnavailable)
}

func TestListenError(t *testing.T) {
	air := newAir(t)
	a, err := New(testConfig(), codec.NewBaseband(), air.Endpoint("a"), failingMic{}, testLogger(), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.ErrorIs(t, a.StartListening(func(*message.Envelope) {}), ErrListen)
	assert.False(t, a.Listening())

	_, err = a.Expect(func(*message.Envelope) bool { return true })
	assert.ErrorIs(t, err, ErrListen)
	assert.False(t, a.Stats().Waiting, "a failed arm leaves no waiter behind")
}

func TestClosedAdapter(t *testing.T) {
	air := newAir(t)
	ep := air.Endpoint("a")
	a, err := New(testConfig(), codec.NewBaseband(), ep, ep, testLogger(), nil)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.Transmit(context.Background(), newConnect(t)), ErrClosed)
	assert.ErrorIs(t, a.StartListening(nil), ErrClosed)
	_, err = a.Expect(func(*message.Envelope) bool { return true })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SampleRate = 0
	_, err := New(cfg, codec.NewBaseband(), nil, nil, testLogger(), nil)
	assert.Error(t, err)
}

func TestIDRing(t *testing.T) {
	r := newIDRing(2)
	r.add("a")
	r.add("b")
	r.add("b")
	assert.True(t, r.contains("a"))
	r.add("c")
	assert.False(t, r.contains("a"))
	assert.True(t, r.contains("b"))
	assert.True(t, r.contains("c"))

	empty := newIDRing(0)
	empty.add("a")
	assert.False(t, empty.contains("a"))
}
