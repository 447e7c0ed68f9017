package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"sort"
)

// Protocol ids understood by Baseband, mapped to samples per bit
var basebandProfiles = map[int]int{
	0: 16, // normal
	1: 8,  // fast
	2: 4,  // fastest
}

const (
	// MaxPayload bounds a single Baseband frame
	MaxPayload = 4096

	preambleByte = 0xAA
	syncByte     = 0x7E

	headerBytes  = 3 + 1 + 2 // preamble+sync, protocol, length
	trailerBytes = 4         // CRC32

	// symbols quieter than this are treated as silence
	minSymbolLevel = 0.004
)

var preamble = []byte{preambleByte, preambleByte, syncByte}

// Baseband is a bipolar, one-bit-per-symbol codec framed with a preamble, length and
// CRC32. It is robust enough for sample-exact loopback and mild noise, not for air.
type Baseband struct {
	profiles []int // protocol ids, sorted
}

// NewBaseband creates the development codec
func NewBaseband() *Baseband {
	ids := make([]int, 0, len(basebandProfiles))
	for id := range basebandProfiles {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return &Baseband{profiles: ids}
}

// Ready always reports true: Baseband needs no initialization
func (b *Baseband) Ready() bool {
	return true
}

// SignalFloor implements SignalFloor
func (b *Baseband) SignalFloor() float32 {
	return minSymbolLevel
}

// SamplesPerBit returns the symbol length of a protocol id
func SamplesPerBit(protocolID int) (int, error) {
	spb, ok := basebandProfiles[protocolID]
	if !ok {
		return 0, fmt.Errorf("unknown protocol id %d", protocolID)
	}
	return spb, nil
}

// FrameSamples returns the waveform length Encode produces for a payload size
func FrameSamples(payloadLen, protocolID int) (int, error) {
	spb, err := SamplesPerBit(protocolID)
	if err != nil {
		return 0, err
	}
	bits := (headerBytes + payloadLen + trailerBytes) * 8
	return bits*spb + 2*guardSamples(spb), nil
}

func guardSamples(spb int) int {
	return 4 * spb
}

// Encode implements Codec
func (b *Baseband) Encode(payload []byte, protocolID int, volume int) ([]float32, error) {
	spb, err := SamplesPerBit(protocolID)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("cannot encode empty payload")
	}
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayload)
	}
	if volume < 1 || volume > 100 {
		return nil, fmt.Errorf("volume must be between 1 and 100, got %d", volume)
	}

	frame := make([]byte, 0, headerBytes+len(payload)+trailerBytes)
	frame = append(frame, preamble...)
	frame = append(frame, byte(protocolID))
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)))
	frame = append(frame, payload...)
	frame = binary.BigEndian.AppendUint32(frame, crc32.ChecksumIEEE(frame[len(preamble):]))

	amplitude := float32(volume) / 100
	guard := guardSamples(spb)
	out := make([]float32, 0, len(frame)*8*spb+2*guard)
	out = append(out, make([]float32, guard)...)

	for _, by := range frame {
		for bit := 7; bit >= 0; bit-- {
			level := -amplitude
			if by&(1<<uint(bit)) != 0 {
				level = amplitude
			}
			for i := 0; i < spb; i++ {
				out = append(out, level)
			}
		}
	}

	out = append(out, make([]float32, guard)...)
	return out, nil
}

// Decode implements Codec. It scans every offset for each known profile and returns
// the first frame whose CRC matches.
func (b *Baseband) Decode(samples []float32) ([]byte, error) {
	for _, id := range b.profiles {
		spb := basebandProfiles[id]
		minFrame := (headerBytes + 1 + trailerBytes) * 8 * spb

		for start := 0; start+minFrame <= len(samples); start++ {
			if payload, ok := b.tryFrame(samples, start, spb, id); ok {
				return payload, nil
			}
		}
	}
	return nil, nil
}

func (b *Baseband) tryFrame(samples []float32, start, spb, id int) ([]byte, bool) {
	r := symbolReader{samples: samples, pos: start, spb: spb}

	for _, want := range preamble {
		got, ok := r.readByte()
		if !ok || got != want {
			return nil, false
		}
	}

	proto, ok := r.readByte()
	if !ok || int(proto) != id {
		return nil, false
	}

	hi, ok1 := r.readByte()
	lo, ok2 := r.readByte()
	if !ok1 || !ok2 {
		return nil, false
	}
	length := int(hi)<<8 | int(lo)
	if length == 0 || length > MaxPayload {
		return nil, false
	}
	if r.remainingBytes() < length+trailerBytes {
		return nil, false
	}

	body := make([]byte, 0, 3+length)
	body = append(body, proto, hi, lo)
	for i := 0; i < length; i++ {
		by, ok := r.readByte()
		if !ok {
			return nil, false
		}
		body = append(body, by)
	}

	var crc [4]byte
	for i := range crc {
		by, ok := r.readByte()
		if !ok {
			return nil, false
		}
		crc[i] = by
	}

	if binary.BigEndian.Uint32(crc[:]) != crc32.ChecksumIEEE(body) {
		return nil, false
	}

	return body[3:], true
}

type symbolReader struct {
	samples []float32
	pos     int
	spb     int
}

func (r *symbolReader) remainingBytes() int {
	return (len(r.samples) - r.pos) / (8 * r.spb)
}

func (r *symbolReader) readBit() (bool, bool) {
	if r.pos+r.spb > len(r.samples) {
		return false, false
	}
	var sum float64
	for _, s := range r.samples[r.pos : r.pos+r.spb] {
		sum += float64(s)
	}
	r.pos += r.spb

	mean := sum / float64(r.spb)
	if math.Abs(mean) < minSymbolLevel {
		return false, false
	}
	return mean > 0, true
}

func (r *symbolReader) readByte() (byte, bool) {
	var by byte
	for i := 0; i < 8; i++ {
		bit, ok := r.readBit()
		if !ok {
			return 0, false
		}
		by <<= 1
		if bit {
			by |= 1
		}
	}
	return by, true
}
