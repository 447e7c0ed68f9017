// Package codec defines the boundary to the acoustic modem.
// The transport only needs a Codec that round-trips byte strings through a waveform
// and decodes to nothing when a window holds no complete message. Baseband is a
// self-contained development codec for loopback media, tests and recordings; production
// builds plug their acoustic modem in behind the same interface.
package codec
