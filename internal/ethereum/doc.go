// Package ethereum provides the chain-facing collaborators of the wallet: a local
// key signer for the air-gapped side, a JSON-RPC broadcaster for the online side and
// the approval prompts used by the CLI.
package ethereum
