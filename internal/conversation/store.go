// ABOUTME: In-memory per-peer conversation store with idempotent merge.
// ABOUTME: Holds encrypted message logs and the append-only decrypted-content cache.

package conversation

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Message is a single chat envelope as held by the store. Ciphertext is the
// payload recorded on the ledger and never changes; Plaintext is empty until
// a decrypt succeeds and is never cleared or overwritten afterwards.
type Message struct {
	ID         string
	Sender     string
	Recipient  string
	Timestamp  time.Time
	Ciphertext string
	Plaintext  string
}

// Store maps peer accounts to ordered message logs. It is the only mutable
// shared structure in the messaging subsystem; Merge and SetDecrypted are
// the only mutations and both are idempotent.
type Store struct {
	mu     sync.RWMutex
	convos map[string][]*Message // peer -> messages, ascending by timestamp
	byID   map[string]*Message   // message id -> stored message
	logger *slog.Logger
}

// NewStore creates an empty store. Pass nil logger for the default logger.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		convos: make(map[string][]*Message),
		byID:   make(map[string]*Message),
		logger: logger.With("component", "store"),
	}
}

// MergeEntry pairs an incoming message with the peer it belongs to.
type MergeEntry struct {
	Peer    string
	Message Message
}

// Merge inserts incoming messages into their conversations, skipping any id
// that is already present. Each touched conversation is re-sorted ascending
// by timestamp. Existing entries are never removed or modified, so merging
// the same window any number of times yields an identical store and a
// previously decrypted message keeps its plaintext. Returns the peers whose
// conversations changed.
func (s *Store) Merge(entries []MergeEntry) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := make(map[string]bool)
	for _, entry := range entries {
		if _, exists := s.byID[entry.Message.ID]; exists {
			continue
		}
		msg := entry.Message
		s.byID[msg.ID] = &msg
		s.convos[entry.Peer] = append(s.convos[entry.Peer], &msg)
		changed[entry.Peer] = true
	}

	peers := make([]string, 0, len(changed))
	for peer := range changed {
		msgs := s.convos[peer]
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		})
		peers = append(peers, peer)
	}
	sort.Strings(peers)

	if len(peers) > 0 {
		s.logger.Debug("merged new messages", "peers", peers)
	}
	return peers
}

// Conversation returns a copy of the ordered message log for a peer, or an
// empty slice if the peer is unknown.
func (s *Store) Conversation(peer string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.convos[peer]
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = *m
	}
	return out
}

// Peers returns all peers with at least one message, sorted by the timestamp
// of their most recent message, newest first.
func (s *Store) Peers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]string, 0, len(s.convos))
	for peer := range s.convos {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool {
		return s.latestLocked(peers[i]).After(s.latestLocked(peers[j]))
	})
	return peers
}

// latestLocked returns the newest timestamp in a peer's log. Must be called
// with mu held and a non-empty conversation.
func (s *Store) latestLocked(peer string) time.Time {
	msgs := s.convos[peer]
	return msgs[len(msgs)-1].Timestamp
}

// Message returns a copy of the message with the given id.
func (s *Store) Message(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// SetDecrypted caches the decrypted content of a message. The cache is
// append-only: once a plaintext is set it stays, and repeat calls are
// no-ops. Returns false if the id is unknown.
func (s *Store) SetDecrypted(id, plaintext string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return false
	}
	if msg.Plaintext != "" {
		return true
	}
	msg.Plaintext = plaintext
	return true
}

// Clear drops all conversations. Called only at session end.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convos = make(map[string][]*Message)
	s.byID = make(map[string]*Message)
	s.logger.Debug("store cleared")
}
