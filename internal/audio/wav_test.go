package audio

import (
	"math"
	"testing"
)

func sineWave(sampleRate int, seconds, frequency float64) []float32 {
	n := int(float64(sampleRate) * seconds)
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = float32(0.5 * math.Sin(2*math.Pi*frequency*t))
	}
	return out
}

func TestEncodeDecodeWAV(t *testing.T) {
	waveform := sineWave(8000, 0.1, 440)

	wavData, err := EncodeWAV(waveform, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if expected := 44 + len(waveform)*2; len(wavData) != expected {
		t.Errorf("Expected WAV size %d, got %d", expected, len(wavData))
	}

	decoded, sampleRate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if sampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", sampleRate)
	}
	if len(decoded) != len(waveform) {
		t.Fatalf("Expected %d samples, got %d", len(waveform), len(decoded))
	}

	// 16-bit quantization error is below 1/32767
	for i := range waveform {
		if diff := math.Abs(float64(decoded[i] - waveform[i])); diff > 1.0/16000 {
			t.Fatalf("Sample %d differs by %f", i, diff)
		}
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	if _, err := EncodeWAV(nil, 8000); err == nil {
		t.Error("Expected error for empty waveform")
	}
	if _, err := EncodeWAV([]float32{0.1}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestDecodeWAVErrors(t *testing.T) {
	valid, err := EncodeWAV(sineWave(8000, 0.01, 1000), 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"too short", func(b []byte) []byte { return b[:20] }},
		{"bad riff", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"bad format", func(b []byte) []byte { b[8] = 'X'; return b }},
		{"stereo", func(b []byte) []byte { b[22] = 2; return b }},
		{"truncated data", func(b []byte) []byte { return b[:60] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append([]byte(nil), valid...)
			if _, _, err := DecodeWAV(tt.mutate(data)); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestGetWAVInfo(t *testing.T) {
	wavData, err := EncodeWAV(sineWave(16000, 0.5, 440), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("GetWAVInfo failed: %v", err)
	}
	if info.SampleRate != 16000 || info.NumSamples != 8000 {
		t.Errorf("Unexpected info: %+v", info)
	}
	if info.Duration.Seconds() != 0.5 {
		t.Errorf("Expected 0.5s, got %v", info.Duration)
	}
}

func TestPCMConversion(t *testing.T) {
	pcm := FloatToPCM16([]float32{0, 1, -1, 2, -2})
	expected := []int16{0, 32767, -32767, 32767, -32767}
	for i := range expected {
		if pcm[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], pcm[i])
		}
	}

	raw := PCM16ToBytes(pcm)
	back, err := BytesToPCM16(raw)
	if err != nil {
		t.Fatalf("BytesToPCM16 failed: %v", err)
	}
	for i := range pcm {
		if back[i] != pcm[i] {
			t.Errorf("Sample %d round-trip mismatch", i)
		}
	}

	if _, err := BytesToPCM16([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd byte count")
	}
}
