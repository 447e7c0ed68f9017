// Package orchestrator joins the acoustic session layer to the transaction domain.
//
// On the online device Client sends a descriptor across the channel and turns the
// session outcome into a signed transaction, optionally broadcasting it and waiting
// for the receipt. On the air-gapped device Signer serves requests, asking an
// Approver for every one and signing only what is approved.
package orchestrator
