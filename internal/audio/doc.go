// Package audio handles captured sample accumulation and waveform formats.
// It implements the sliding-window accumulation buffer that feeds decode attempts,
// float/PCM-16 conversion, and WAV encoding used to record and replay transmissions.
package audio
