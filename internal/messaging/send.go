// ABOUTME: Send pipeline: encrypt via the signing agent, broadcast, request resync.
// ABOUTME: One state machine per user action, terminal on the first stage failure.

package messaging

import (
	"context"
	"fmt"

	"github.com/faireye-hive/hiveshorts/internal/chatops"
)

// SendState is the stage a send action is currently in. Callers that show
// progress subscribe via the onState callback; the zero value is SendIdle.
type SendState int

const (
	SendIdle SendState = iota
	SendEncrypting
	SendBroadcasting
	SendResyncing
)

func (st SendState) String() string {
	switch st {
	case SendIdle:
		return "idle"
	case SendEncrypting:
		return "encrypting"
	case SendBroadcasting:
		return "broadcasting"
	case SendResyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

// Send drives one outgoing message through encrypt → broadcast → resync.
// Any stage failure ends the action; there is no internal retry and a
// failed encrypt never reaches broadcast. onState may be nil. The caller is
// responsible for keeping at most one send per conversation in flight.
//
// On success an immediate refresh is requested so the sender observes their
// own message without waiting for the next poll tick.
func (s *Service) Send(ctx context.Context, recipient, text string, onState func(SendState)) error {
	notify := func(st SendState) {
		if onState != nil {
			onState(st)
		}
	}
	fail := func(stage string, err error) error {
		notify(SendIdle)
		return fmt.Errorf("%s message for %s: %w", stage, recipient, err)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	notify(SendEncrypting)
	// The "#" prefix marks the memo as encrypted, matching the ledger's
	// memo convention.
	ciphertext, err := s.agent.EncodeMemo(opCtx, s.account, recipient, "#"+text)
	if err != nil {
		return fail("encrypting", err)
	}

	payload, err := chatops.BuildPayload(recipient, ciphertext)
	if err != nil {
		return fail("encoding", err)
	}

	notify(SendBroadcasting)
	if err := s.agent.BroadcastChatJSON(opCtx, s.account, chatops.ChatID, payload); err != nil {
		return fail("broadcasting", err)
	}

	s.logger.Info("message broadcast", "recipient", recipient)

	notify(SendResyncing)
	s.requestRefresh(ctx)

	notify(SendIdle)
	return nil
}
