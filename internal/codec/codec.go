package codec

// Codec converts byte strings to waveforms and back
type Codec interface {
	// Ready reports whether the encoder has finished initializing
	Ready() bool

	// Encode modulates payload with the given protocol (speed profile) and volume
	// (1-100) into normalized samples
	Encode(payload []byte, protocolID int, volume int) ([]float32, error)

	// Decode looks for one complete message in samples. It returns nil, nil when the
	// window holds no valid message; an error is reserved for codec failures.
	Decode(samples []float32) ([]byte, error)
}

// SignalFloor is implemented by codecs that can report the quietest level they still
// demodulate
type SignalFloor interface {
	SignalFloor() float32
}
