package airlink

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sserrano44/GibberWallet/internal/audio"
	"github.com/sserrano44/GibberWallet/internal/device"
)

// Config configures a UDP air link
type Config struct {
	ListenAddress  string // host:port to receive on
	PeerAddress    string // host:port to play to, empty for a listen-only link
	Name           string
	SampleRate     int
	FrameSize      int
	Realtime       bool // pace playback at the sample rate
	ReadBufferSize int
	QueueSize      int
}

// Link sends played audio to a peer and delivers audio received from it to the
// capture callback
type Link struct {
	cfg      Config
	conn     *net.UDPConn
	peer     *net.UDPAddr
	logger   *slog.Logger
	streamID uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	packetChan chan *incomingPacket

	sendMu sync.Mutex
	seq    uint32

	mu      sync.RWMutex
	onFrame func([]float32)
	remotes map[uint32]*remoteStream
	stats   LinkStatistics
	closed  bool
}

type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
}

// remoteStream tracks what we know about one sender
type remoteStream struct {
	name       string
	sampleRate uint32
	lastSeq    uint32
	seen       bool
	compatible bool
}

// LinkStatistics represents link counters
type LinkStatistics struct {
	PacketsSent      uint64 `json:"packets_sent"`
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	FramesLost       uint64 `json:"frames_lost"`
	FramesDropped    uint64 `json:"frames_dropped"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}

var _ device.Speaker = (*Link)(nil)
var _ device.Microphone = (*Link)(nil)

// Open binds the listen address and starts receiving
func Open(cfg Config, logger *slog.Logger) (*Link, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSize <= 0 || cfg.FrameSize > MaxFrameSamples {
		return nil, errors.Errorf("frame size must be between 1 and %d, got %d", MaxFrameSamples, cfg.FrameSize)
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1 << 20
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddress)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve listen address")
	}

	var peer *net.UDPAddr
	if cfg.PeerAddress != "" {
		peer, err = net.ResolveUDPAddr("udp", cfg.PeerAddress)
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve peer address")
		}
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen on UDP")
	}

	if err := conn.SetReadBuffer(cfg.ReadBufferSize); err != nil {
		logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", cfg.ReadBufferSize),
			slog.String("error", err.Error()),
		)
	}

	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())

	l := &Link{
		cfg:        cfg,
		conn:       conn,
		peer:       peer,
		logger:     logger,
		streamID:   binary.BigEndian.Uint32(id[:4]),
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, cfg.QueueSize),
		remotes:    make(map[uint32]*remoteStream),
	}

	// one processor keeps frames in arrival order
	l.wg.Add(2)
	go l.receiveLoop()
	go l.packetProcessor()

	logger.Info("Air link opened",
		slog.String("listen", conn.LocalAddr().String()),
		slog.String("peer", cfg.PeerAddress),
		slog.Uint64("stream_id", uint64(l.streamID)),
	)

	return l, nil
}

// LocalAddr returns the bound address
func (l *Link) LocalAddr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// SetPeer changes where played audio is sent
func (l *Link) SetPeer(addr *net.UDPAddr) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	l.peer = addr
}

// Close stops the receive loop and releases the socket
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	err := l.conn.Close()
	l.wg.Wait()

	stats := l.GetStatistics()
	l.logger.Info("Air link closed",
		slog.Uint64("packets_sent", stats.PacketsSent),
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)

	if err != nil {
		return errors.Wrap(err, "failed to close UDP connection")
	}
	return nil
}

// Start implements device.Microphone
func (l *Link) Start(onFrame func([]float32)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return device.ErrClosed
	}
	if l.onFrame != nil {
		return device.ErrAlreadyStarted
	}
	l.onFrame = onFrame
	return nil
}

// Stop implements device.Microphone
func (l *Link) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFrame = nil
	return nil
}

// Play implements device.Speaker. A hello packet precedes the audio so the receiver
// can check the format.
func (l *Link) Play(ctx context.Context, samples []float32) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if l.peer == nil {
		return errors.New("air link has no peer address")
	}
	if l.ctx.Err() != nil {
		return device.ErrClosed
	}

	hello := EncodeHello(l.streamID, NewHello(l.cfg.SampleRate, l.cfg.FrameSize, l.cfg.Name))
	if err := l.send(hello); err != nil {
		return err
	}

	var ticker *time.Ticker
	if l.cfg.Realtime {
		frameDuration := audio.SamplesToDuration(l.cfg.FrameSize, l.cfg.SampleRate)
		ticker = time.NewTicker(frameDuration)
		defer ticker.Stop()
	}

	pcm := audio.FloatToPCM16(samples)
	for start := 0; start < len(pcm); start += l.cfg.FrameSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + l.cfg.FrameSize
		marker := uint8(MarkerFrame)
		if end >= len(pcm) {
			end = len(pcm)
			marker = MarkerLast
		}

		l.seq++
		packet, err := EncodeAudio(l.streamID, marker, l.seq, pcm[start:end])
		if err != nil {
			return err
		}
		if err := l.send(packet); err != nil {
			return err
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}

func (l *Link) send(packet []byte) error {
	if _, err := l.conn.WriteToUDP(packet, l.peer); err != nil {
		return errors.Wrapf(err, "failed to send packet to %s", l.peer)
	}

	l.mu.Lock()
	l.stats.PacketsSent++
	l.mu.Unlock()
	return nil
}

// receiveLoop reads datagrams until the link is closed
func (l *Link) receiveLoop() {
	defer l.wg.Done()
	defer close(l.packetChan)

	buffer := make([]byte, 65536)

	for {
		if l.ctx.Err() != nil {
			return
		}

		// Read deadline lets the loop notice cancellation
		if err := l.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			if l.ctx.Err() != nil {
				return
			}
			l.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if l.ctx.Err() != nil {
				return
			}
			l.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}

		l.mu.Lock()
		l.stats.PacketsReceived++
		l.mu.Unlock()

		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case l.packetChan <- &incomingPacket{data: data, remoteAddr: remoteAddr}:
		default:
			l.mu.Lock()
			l.stats.FramesDropped++
			l.mu.Unlock()
			l.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

func (l *Link) packetProcessor() {
	defer l.wg.Done()

	for packet := range l.packetChan {
		l.handlePacket(packet)
	}
}

func (l *Link) handlePacket(in *incomingPacket) {
	packet, err := ParsePacket(in.data)
	if err != nil {
		l.mu.Lock()
		l.stats.ParseErrors++
		l.mu.Unlock()

		l.logger.Error("Failed to parse packet",
			slog.String("remote_addr", in.remoteAddr.String()),
			slog.Int("packet_size", len(in.data)),
			slog.String("error", err.Error()),
		)
		return
	}

	l.mu.Lock()
	l.stats.PacketsProcessed++
	remote, ok := l.remotes[packet.Header.StreamID]
	if !ok {
		remote = &remoteStream{compatible: true}
		l.remotes[packet.Header.StreamID] = remote
	}
	l.mu.Unlock()

	switch packet.Header.PacketType {
	case PacketTypeHello:
		l.processHello(packet.Header, packet.Hello, remote)
	case PacketTypeAudio:
		l.processAudio(packet.Header, packet.Audio, remote)
	}
}

func (l *Link) processHello(header *Header, hello *HelloPayload, remote *remoteStream) {
	l.mu.Lock()
	remote.name = hello.GetName()
	remote.sampleRate = hello.SampleRate
	remote.compatible = int(hello.SampleRate) == l.cfg.SampleRate
	compatible := remote.compatible
	l.mu.Unlock()

	if !compatible {
		l.logger.Warn("Peer sample rate differs, ignoring its audio",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("peer", hello.GetName()),
			slog.Uint64("peer_sample_rate", uint64(hello.SampleRate)),
			slog.Int("sample_rate", l.cfg.SampleRate),
		)
		return
	}

	l.logger.Debug("Peer hello",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("peer", hello.GetName()),
	)
}

func (l *Link) processAudio(header *Header, payload *AudioPayload, remote *remoteStream) {
	l.mu.Lock()
	if !remote.compatible {
		l.stats.FramesDropped++
		l.mu.Unlock()
		return
	}
	if remote.seen && payload.Sequence > remote.lastSeq+1 {
		l.stats.FramesLost += uint64(payload.Sequence - remote.lastSeq - 1)
	}
	remote.seen = true
	remote.lastSeq = payload.Sequence
	onFrame := l.onFrame
	l.mu.Unlock()

	if onFrame == nil {
		return
	}
	onFrame(audio.PCM16ToFloat(payload.Samples))

	if header.Marker == MarkerLast {
		l.logger.Debug("Transmission received",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
		)
	}
}

// GetStatistics returns current link counters
func (l *Link) GetStatistics() LinkStatistics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := l.stats
	stats.QueueSize = uint64(len(l.packetChan))
	stats.QueueCapacity = uint64(cap(l.packetChan))
	return stats
}
