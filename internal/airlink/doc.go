// Package airlink carries captured audio between two processes over UDP, standing in
// for the room between a speaker and a microphone.
//
// Packets use an 8-byte TLV header followed by a payload:
//
//	[PacketType:1][PacketLen:2][StreamID:4][Marker:1]
//
// Hello payloads announce the sender's format, audio payloads carry a sequence number
// and little-endian 16-bit PCM samples. A Link is both a device.Speaker and a
// device.Microphone.
package airlink
