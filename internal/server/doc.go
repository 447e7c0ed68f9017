// Package server implements the optional HTTP monitoring endpoint of a wallet device.
// It reports health, the session or signer state, channel and air-link statistics,
// the sanitized configuration and Prometheus metrics.
package server
