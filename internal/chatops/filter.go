// ABOUTME: Extracts chat envelopes from raw ledger history windows.
// ABOUTME: Parses the custom_json wire format and correlates peers for the current user.

package chatops

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/faireye-hive/hiveshorts/internal/hive"
)

const (
	// ChatID is the application identifier tagging chat operations on chain.
	ChatID = "shorts_chat_v1"

	// ProtocolVersion is the wire version stamped into every chat payload.
	ProtocolVersion = "1.0"
)

// Envelope is a single chat operation extracted from the ledger, still
// encrypted. Peer is the other participant relative to the user the filter
// was built for.
type Envelope struct {
	ID         string
	Index      int64
	Sender     string
	Recipient  string
	Peer       string
	Ciphertext string
	Timestamp  time.Time
}

// customJSONOp matches the value object of a custom_json operation.
type customJSONOp struct {
	RequiredAuths        []string `json:"required_auths"`
	RequiredPostingAuths []string `json:"required_posting_auths"`
	ID                   string   `json:"id"`
	JSON                 string   `json:"json"`
}

// chatPayload is the wire body embedded in a chat custom_json operation.
type chatPayload struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	V         string `json:"v"`
}

// MessageID derives the stable, deterministic identifier for a chat
// operation. It depends only on the ledger-assigned timestamp, the sender,
// and the history index, so re-fetching the same window always yields the
// same id.
func MessageID(timestamp time.Time, sender string, index int64) string {
	return fmt.Sprintf("%s_%s_%d", timestamp.UTC().Format(hive.TimeFormat), sender, index)
}

// BuildPayload encodes the outgoing wire body for a chat operation.
func BuildPayload(recipient, ciphertext string) ([]byte, error) {
	data, err := json.Marshal(chatPayload{
		Recipient: recipient,
		Message:   ciphertext,
		V:         ProtocolVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding chat payload: %w", err)
	}
	return data, nil
}

// Filter extracts the chat envelopes involving one authenticated account
// from raw history windows.
type Filter struct {
	account string
	logger  *slog.Logger
}

// NewFilter creates a filter for the given authenticated account. Pass nil
// logger for the default logger.
func NewFilter(account string, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		account: account,
		logger:  logger.With("component", "chatops"),
	}
}

// Extract returns the chat envelopes found in a history window. Malformed
// entries are skipped, never fatal: one bad operation must not cost the rest
// of the window. Operations not involving the filter's account are dropped.
func (f *Filter) Extract(entries []hive.HistoryEntry) []Envelope {
	var envelopes []Envelope
	for _, entry := range entries {
		env, ok, err := f.extractOne(entry)
		if err != nil {
			f.logger.Warn("skipping malformed chat operation",
				"index", entry.Index,
				"error", err,
			)
			continue
		}
		if ok {
			envelopes = append(envelopes, env)
		}
	}
	return envelopes
}

// extractOne inspects a single history entry. ok is false for operations
// that are not chat traffic for this account; err is non-nil only for
// operations that claim to be chat traffic but cannot be parsed.
func (f *Filter) extractOne(entry hive.HistoryEntry) (Envelope, bool, error) {
	if entry.Op.Type != "custom_json" {
		return Envelope{}, false, nil
	}

	var op customJSONOp
	if err := json.Unmarshal(entry.Op.Payload, &op); err != nil {
		return Envelope{}, false, fmt.Errorf("decoding custom_json: %w", err)
	}
	if op.ID != ChatID {
		return Envelope{}, false, nil
	}
	if len(op.RequiredPostingAuths) == 0 {
		return Envelope{}, false, fmt.Errorf("chat operation has no posting authority")
	}
	sender := op.RequiredPostingAuths[0]

	var payload chatPayload
	if err := json.Unmarshal([]byte(op.JSON), &payload); err != nil {
		return Envelope{}, false, fmt.Errorf("decoding chat payload: %w", err)
	}
	if payload.Recipient == "" || payload.Message == "" {
		return Envelope{}, false, fmt.Errorf("chat payload missing recipient or message")
	}

	// Cross-talk between other accounts is dropped here and never stored.
	if sender != f.account && payload.Recipient != f.account {
		return Envelope{}, false, nil
	}

	peer := sender
	if sender == f.account {
		peer = payload.Recipient
	}

	return Envelope{
		ID:         MessageID(entry.Timestamp, sender, entry.Index),
		Index:      entry.Index,
		Sender:     sender,
		Recipient:  payload.Recipient,
		Peer:       peer,
		Ciphertext: payload.Message,
		Timestamp:  entry.Timestamp,
	}, true, nil
}
