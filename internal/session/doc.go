// Package session implements the two sides of one request/response cycle.
//
// Machine is the client state machine. It is synchronous and never reads a clock:
// callers pass the current time to MarkSent and Expire, which makes the retry and
// timeout rules testable without real time passing. Client drives a Machine over a
// channel adapter. Responder is the signer side, listening continuously and
// answering each request with at most one terminal reply.
package session
