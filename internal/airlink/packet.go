package airlink

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/sserrano44/GibberWallet/internal/audio"
)

const (
	// Packet types
	PacketTypeHello = 0x01
	PacketTypeAudio = 0x02

	// Marker values
	MarkerFrame = 0x01 // more frames follow
	MarkerLast  = 0x02 // last frame of a transmission

	// Packet structure sizes
	HeaderSize             = 8  // 1 + 2 + 4 + 1 bytes
	HelloPayloadSize       = 38 // 4 + 2 + 32 bytes
	AudioPayloadHeaderSize = 4  // Sequence number

	NameSize = 32

	// MaxFrameSamples keeps an audio packet under the UDP datagram limit
	MaxFrameSamples = (65507 - HeaderSize - AudioPayloadHeaderSize) / 2
)

// Header is the 8-byte TLV packet header
type Header struct {
	PacketType uint8
	PacketLen  uint16 // header + payload
	StreamID   uint32 // identifies the sending link
	Marker     uint8
}

// HelloPayload announces the sender's audio format
// Layout: [SampleRate:4][FrameSize:2][Name:32]
type HelloPayload struct {
	SampleRate uint32
	FrameSize  uint16
	Name       [NameSize]byte // null-terminated
}

// AudioPayload carries one frame of PCM audio
// Layout: [Sequence:4][PCM16:N]
type AudioPayload struct {
	Sequence uint32
	Samples  []int16
}

// Packet is a parsed TLV packet
type Packet struct {
	Header *Header
	Hello  *HelloPayload // only set for hello packets
	Audio  *AudioPayload // only set for audio packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, errors.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Marker:     data[7],
	}, nil
}

// ParsePacket parses a complete packet and validates its header
func ParsePacket(data []byte) (*Packet, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	if int(header.PacketLen) != len(data) {
		return nil, errors.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}
	if err := ValidateHeader(header); err != nil {
		return nil, errors.Wrap(err, "invalid header")
	}

	packet := &Packet{Header: header}
	payload := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeHello:
		packet.Hello = &HelloPayload{
			SampleRate: binary.BigEndian.Uint32(payload[0:4]),
			FrameSize:  binary.BigEndian.Uint16(payload[4:6]),
		}
		copy(packet.Hello.Name[:], payload[6:6+NameSize])

	case PacketTypeAudio:
		samples, err := audio.BytesToPCM16(payload[AudioPayloadHeaderSize:])
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse audio payload")
		}
		packet.Audio = &AudioPayload{
			Sequence: binary.BigEndian.Uint32(payload[0:4]),
			Samples:  samples,
		}
	}

	return packet, nil
}

// ValidateHeader checks the header fields against the expected payload sizes
func ValidateHeader(header *Header) error {
	if header.PacketType != PacketTypeHello && header.PacketType != PacketTypeAudio {
		return errors.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}
	if header.Marker != MarkerFrame && header.Marker != MarkerLast {
		return errors.Errorf("invalid marker: 0x%02x", header.Marker)
	}
	if header.PacketLen < HeaderSize {
		return errors.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeHello:
		if payloadSize != HelloPayloadSize {
			return errors.Errorf("hello payload size mismatch: expected %d, got %d", HelloPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return errors.Errorf("audio payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
	}

	return nil
}

// EncodeHello builds a hello packet
func EncodeHello(streamID uint32, hello *HelloPayload) []byte {
	buf := make([]byte, HeaderSize+HelloPayloadSize)
	putHeader(buf, PacketTypeHello, streamID, MarkerFrame)

	binary.BigEndian.PutUint32(buf[HeaderSize:], hello.SampleRate)
	binary.BigEndian.PutUint16(buf[HeaderSize+4:], hello.FrameSize)
	copy(buf[HeaderSize+6:], hello.Name[:])
	return buf
}

// EncodeAudio builds an audio packet
func EncodeAudio(streamID uint32, marker uint8, seq uint32, samples []int16) ([]byte, error) {
	if len(samples) > MaxFrameSamples {
		return nil, errors.Errorf("frame of %d samples exceeds %d", len(samples), MaxFrameSamples)
	}

	buf := make([]byte, HeaderSize+AudioPayloadHeaderSize+len(samples)*2)
	putHeader(buf, PacketTypeAudio, streamID, marker)

	binary.BigEndian.PutUint32(buf[HeaderSize:], seq)
	copy(buf[HeaderSize+AudioPayloadHeaderSize:], audio.PCM16ToBytes(samples))
	return buf, nil
}

func putHeader(buf []byte, packetType uint8, streamID uint32, marker uint8) {
	buf[0] = packetType
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = marker
}

// NewHello fills a hello payload, truncating the name to fit
func NewHello(sampleRate, frameSize int, name string) *HelloPayload {
	hello := &HelloPayload{SampleRate: uint32(sampleRate), FrameSize: uint16(frameSize)}
	copy(hello.Name[:NameSize-1], name)
	return hello
}

// GetName extracts the sender name
func (h *HelloPayload) GetName() string {
	for i, b := range h.Name {
		if b == 0 {
			return string(h.Name[:i])
		}
	}
	return string(h.Name[:])
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType, marker string

	switch h.PacketType {
	case PacketTypeHello:
		packetType = "Hello"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	switch h.Marker {
	case MarkerFrame:
		marker = "Frame"
	case MarkerLast:
		marker = "Last"
	default:
		marker = fmt.Sprintf("Unknown(0x%02x)", h.Marker)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Marker:%s}",
		packetType, h.PacketLen, h.StreamID, marker)
}
