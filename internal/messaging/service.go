// ABOUTME: Session-scoped synchronizer: fetch history, extract chat ops, merge, decrypt.
// ABOUTME: Owns the conversation store and drops late results after teardown.

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/faireye-hive/hiveshorts/internal/chatops"
	"github.com/faireye-hive/hiveshorts/internal/conversation"
	"github.com/faireye-hive/hiveshorts/internal/hive"
	"github.com/faireye-hive/hiveshorts/internal/keychain"
)

// DefaultWindowSize bounds how far back a history fetch reaches. Older
// operations are not recoverable through the network path.
const DefaultWindowSize = 100

// ErrSessionClosed indicates the owning session ended while an operation
// was in flight; the result was dropped.
var ErrSessionClosed = errors.New("messaging session closed")

// ErrUnknownMessage indicates a message id not present in the store.
var ErrUnknownMessage = errors.New("unknown message")

// HistoryClient fetches bounded account-history windows from the ledger.
type HistoryClient interface {
	AccountHistory(ctx context.Context, account string, windowSize int) ([]hive.HistoryEntry, error)
}

// EnvelopeCache durably caches raw encrypted envelopes across sessions.
type EnvelopeCache interface {
	Put(ctx context.Context, account string, envelopes []chatops.Envelope) error
	Load(ctx context.Context, account string) ([]chatops.Envelope, error)
}

// Options configures a Service.
type Options struct {
	Account    string        // required: the authenticated account
	WindowSize int           // defaults to DefaultWindowSize
	History    HistoryClient // required
	Agent      keychain.Agent // required
	Cache      EnvelopeCache // optional: enables cross-session backfill
	Logger     *slog.Logger  // optional
}

// Service reconstructs the user's conversations from the ledger and drives
// the decrypt and send pipelines. It holds the only mutable shared state of
// the subsystem and is torn down with Close when the session ends.
type Service struct {
	account string
	window  int
	history HistoryClient
	agent   keychain.Agent
	cache   EnvelopeCache
	filter  *chatops.Filter
	store   *conversation.Store
	bcast   *conversation.Broadcaster
	logger  *slog.Logger

	sessionCtx context.Context
	cancel     context.CancelFunc

	refreshMu sync.Mutex
	refresh   func() bool
}

// NewService creates a synchronizer for an authenticated session. The
// session boundary is external: Account is trusted as already
// authenticated.
func NewService(opts Options) (*Service, error) {
	if opts.Account == "" {
		return nil, fmt.Errorf("account is required")
	}
	if opts.History == nil {
		return nil, fmt.Errorf("history client is required")
	}
	if opts.Agent == nil {
		return nil, fmt.Errorf("signing agent is required")
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		account:    opts.Account,
		window:     opts.WindowSize,
		history:    opts.History,
		agent:      opts.Agent,
		cache:      opts.Cache,
		filter:     chatops.NewFilter(opts.Account, logger),
		store:      conversation.NewStore(logger),
		bcast:      conversation.NewBroadcaster(logger),
		logger:     logger.With("component", "messaging"),
		sessionCtx: ctx,
		cancel:     cancel,
	}, nil
}

// Account returns the authenticated account this service syncs for.
func (s *Service) Account() string { return s.account }

// Close ends the session: the session context is cancelled so in-flight
// results are dropped, and the conversation store is cleared. Safe to call
// more than once.
func (s *Service) Close() {
	s.cancel()
	s.store.Clear()
	s.logger.Info("messaging session closed", "account", s.account)
}

// SyncOnce runs one fetch → extract → merge cycle. A transport failure is
// not fatal: the cycle yields no new data and the next scheduled tick
// retries. Returns ErrSessionClosed if the session ended while the fetch
// was in flight; the fetched window is discarded in that case.
func (s *Service) SyncOnce(ctx context.Context) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	entries, err := s.history.AccountHistory(opCtx, s.account, s.window)
	if err != nil {
		if s.sessionCtx.Err() != nil {
			return ErrSessionClosed
		}
		return fmt.Errorf("fetching account history: %w", err)
	}

	// The fetch may have completed just as the session ended. A merge into
	// a defunct store would resurrect cleared state, so drop the window.
	if s.sessionCtx.Err() != nil {
		return ErrSessionClosed
	}

	envelopes := s.filter.Extract(entries)
	if s.cache != nil {
		if err := s.cache.Put(opCtx, s.account, envelopes); err != nil {
			// Cache trouble must not cost the sync.
			s.logger.Warn("caching envelopes failed", "error", err)
		}
	}

	s.mergeAndPublish(envelopes)
	return nil
}

// Backfill merges envelopes cached in previous sessions, restoring
// conversations that have scrolled out of the bounded history window. No-op
// without a cache.
func (s *Service) Backfill(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	envelopes, err := s.cache.Load(opCtx, s.account)
	if err != nil {
		return fmt.Errorf("loading cached envelopes: %w", err)
	}
	if s.sessionCtx.Err() != nil {
		return ErrSessionClosed
	}

	s.mergeAndPublish(envelopes)
	s.logger.Debug("backfill merged", "envelopes", len(envelopes))
	return nil
}

// mergeAndPublish applies extracted envelopes to the store and notifies
// subscribers of the conversations that changed.
func (s *Service) mergeAndPublish(envelopes []chatops.Envelope) {
	entries := make([]conversation.MergeEntry, len(envelopes))
	for i, env := range envelopes {
		entries[i] = conversation.MergeEntry{
			Peer: env.Peer,
			Message: conversation.Message{
				ID:         env.ID,
				Sender:     env.Sender,
				Recipient:  env.Recipient,
				Timestamp:  env.Timestamp,
				Ciphertext: env.Ciphertext,
			},
		}
	}
	changed := s.store.Merge(entries)
	s.bcast.Publish(changed)
}

// Conversation returns the ordered message log for a peer.
func (s *Service) Conversation(peer string) []conversation.Message {
	return s.store.Conversation(peer)
}

// Peers returns all peers with conversations, most recently active first.
func (s *Service) Peers() []string {
	return s.store.Peers()
}

// Subscribe registers for conversation-update notifications.
func (s *Service) Subscribe(ctx context.Context) (<-chan string, string) {
	return s.bcast.Subscribe(ctx)
}

// Decrypt returns the plaintext of a message, asking the signing agent on
// first view and serving the session cache afterwards. Agent outcomes
// (unavailable, denied, cancelled, error) pass through to the caller
// unchanged.
func (s *Service) Decrypt(ctx context.Context, id string) (string, error) {
	msg, ok := s.store.Message(id)
	if !ok {
		return "", ErrUnknownMessage
	}
	if msg.Plaintext != "" {
		return msg.Plaintext, nil
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	decoded, err := s.agent.DecodeMemo(opCtx, s.account, msg.Ciphertext)
	if err != nil {
		return "", err
	}

	// Decrypts that lose the race with teardown must not touch the store.
	if s.sessionCtx.Err() != nil {
		return "", ErrSessionClosed
	}

	plaintext := strings.TrimPrefix(decoded, "#")
	s.store.SetDecrypted(id, plaintext)
	return plaintext, nil
}

// setRefresher installs the scheduler's refresh trigger. Without one, Send
// falls back to a direct sync.
func (s *Service) setRefresher(fn func() bool) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	s.refresh = fn
}

// requestRefresh asks for an immediate sync, via the scheduler when one is
// attached.
func (s *Service) requestRefresh(ctx context.Context) {
	s.refreshMu.Lock()
	refresh := s.refresh
	s.refreshMu.Unlock()

	if refresh != nil {
		refresh()
		return
	}
	if err := s.SyncOnce(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.logger.Warn("post-send sync failed", "error", err)
	}
}

// opContext scopes an operation to both the caller's context and the
// session, so teardown cancels whatever is still in flight.
func (s *Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.sessionCtx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}
