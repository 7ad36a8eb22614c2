// ABOUTME: Signing-agent contract: encrypt, decrypt, and broadcast outcomes.
// ABOUTME: Maps the agent's free-text error messages onto a structured taxonomy.

package keychain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrAgentUnavailable indicates no signing agent is reachable.
var ErrAgentUnavailable = errors.New("signing agent unavailable")

// ErrAgentDenied indicates the user rejected the request at the agent.
var ErrAgentDenied = errors.New("request denied by user")

// ErrUserCancelled indicates the user dismissed the agent prompt. This is a
// normal terminal outcome, not a reportable error.
var ErrUserCancelled = errors.New("request cancelled by user")

// AgentError is any other failure reported by the signing agent.
type AgentError struct {
	Op      string // "encode", "decode", or "broadcast"
	Message string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("signing agent %s failed: %s", e.Op, e.Message)
}

// Agent is the external, user-present authorization agent. Calls may
// suspend indefinitely pending user interaction; pass a context scoped to
// the session. The agent performs no caching: repeated DecodeMemo calls for
// the same memo each round-trip to the agent.
type Agent interface {
	// EncodeMemo encrypts a memo from account to the recipient's memo key.
	EncodeMemo(ctx context.Context, account, recipient, memo string) (string, error)

	// DecodeMemo decrypts a memo addressed to account.
	DecodeMemo(ctx context.Context, account, memo string) (string, error)

	// BroadcastChatJSON submits a custom_json operation to the ledger
	// network, signed under account's posting authority.
	BroadcastChatJSON(ctx context.Context, account, chatID string, payload []byte) error
}

// Classify maps an agent failure message onto the outcome taxonomy. The
// agent protocol carries no structured failure codes, only a message string,
// so cancellation and denial are detected by phrase. This heuristic is
// deliberately confined to this one function.
func Classify(op, message string) error {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "cancel"):
		return ErrUserCancelled
	case strings.Contains(lower, "denied"), strings.Contains(lower, "reject"):
		return ErrAgentDenied
	default:
		return &AgentError{Op: op, Message: message}
	}
}
