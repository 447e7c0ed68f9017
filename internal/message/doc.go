// Package message defines the envelope exchanged over the acoustic channel.
// It covers envelope construction, JSON serialization, structural validation and the
// protocol version gate, plus the typed payloads carried by each message kind.
// Everything here is pure data: no I/O and no shared state.
package message
