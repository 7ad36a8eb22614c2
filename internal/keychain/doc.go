// Package keychain is the contract against the user's external signing
// agent, the only component able to encrypt, decrypt, or broadcast on the
// user's behalf.
//
// # Agent
//
// Agent exposes the three capabilities the messaging subsystem needs: memo
// encryption keyed to a recipient, memo decryption, and custom_json
// broadcast under posting authority. Every call may suspend indefinitely
// while the user decides, and resolves to one of four outcomes:
//
//   - success
//   - ErrAgentUnavailable: no agent is reachable
//   - ErrAgentDenied: the user rejected the request
//   - ErrUserCancelled: the user dismissed the prompt (not an error to show)
//
// plus *AgentError for anything else the agent reports. User cancellation is
// a normal terminal outcome and must never be surfaced as a failure.
//
// The agent protocol only signals failures as free-text messages, so the
// mapping from message to outcome is a phrase heuristic. It lives entirely
// in Classify; if the protocol grows a structured signal, that one function
// changes.
//
// # HTTPAgent
//
// HTTPAgent bridges to a companion signer process over localhost HTTP. The
// cmd/memo-signer binary implements the other side for development and
// testing.
package keychain
