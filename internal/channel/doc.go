// Package channel turns a speaker, a microphone and a codec into a message channel.
//
// Outgoing envelopes are serialized, encoded and played to completion. Captured audio
// accumulates in a sliding-window buffer; whenever it holds enough signal a decode is
// attempted, and every envelope recovered is pushed to a single-consumer inbox. One
// dispatcher goroutine drains the inbox, handing each envelope to the active waiter
// when its predicate matches and to the general handler otherwise. Envelopes that do
// not parse are answered in-band and never reach either.
package channel
