// ABOUTME: In-memory fan-out of peer-update notifications after merges.
// ABOUTME: Lets UI layers re-render a conversation without polling the store.

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber. Updates
// beyond the buffer are dropped rather than blocking a merge.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for conversation updates. Each
// published value is the peer whose conversation changed.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan string // subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for the default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan string),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for peer-update notifications. Returns the channel and
// a subscription id. The subscription is cleaned up automatically when ctx
// is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan string, string) {
	subID := uuid.New().String()
	ch := make(chan string, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// for an unknown or already-removed id.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[subID]; ok {
		delete(b.subscribers, subID)
		close(ch)
		b.logger.Debug("subscriber removed", "sub_id", subID)
	}
}

// Publish notifies all subscribers that the given peers' conversations
// changed. Non-blocking: updates are dropped for subscribers whose channels
// are full.
func (b *Broadcaster) Publish(peers []string) {
	if len(peers) == 0 {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers {
		for _, peer := range peers {
			select {
			case ch <- peer:
			default:
				b.logger.Warn("subscriber buffer full, dropping update",
					"sub_id", subID,
					"peer", peer,
				)
			}
		}
	}
}
