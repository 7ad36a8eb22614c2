// ABOUTME: Tests for the synchronizer service: sync, decrypt caching, teardown.
// ABOUTME: Covers the end-to-end scenarios of one chat envelope flowing into the store.

package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faireye-hive/hiveshorts/internal/chatops"
	"github.com/faireye-hive/hiveshorts/internal/hive"
	"github.com/faireye-hive/hiveshorts/internal/keychain"
)

// fakeHistory serves a fixed window and can block to simulate a slow node.
type fakeHistory struct {
	mu      sync.Mutex
	entries []hive.HistoryEntry
	err     error
	calls   int

	started chan struct{} // closed-ish signal per call, if set
	release chan struct{} // fetch blocks until closed, if set
}

func (f *fakeHistory) AccountHistory(ctx context.Context, account string, windowSize int) ([]hive.HistoryEntry, error) {
	f.mu.Lock()
	f.calls++
	started := f.started
	release := f.release
	entries := f.entries
	err := f.err
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (f *fakeHistory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAgent answers with canned results and records invocations.
type fakeAgent struct {
	mu             sync.Mutex
	encodeResult   string
	encodeErr      error
	decodeResult   string
	decodeErr      error
	broadcastErr   error
	decodeCalls    int
	broadcastCalls int
	broadcasts     [][]byte
}

func (f *fakeAgent) EncodeMemo(ctx context.Context, account, recipient, memo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encodeResult, f.encodeErr
}

func (f *fakeAgent) DecodeMemo(ctx context.Context, account, memo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decodeCalls++
	return f.decodeResult, f.decodeErr
}

func (f *fakeAgent) BroadcastChatJSON(ctx context.Context, account, chatID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcastCalls++
	f.broadcasts = append(f.broadcasts, payload)
	return f.broadcastErr
}

func chatEntry(t *testing.T, index int64, ts time.Time, sender, recipient, ciphertext string) hive.HistoryEntry {
	t.Helper()

	inner, err := json.Marshal(map[string]string{
		"recipient": recipient,
		"message":   ciphertext,
		"v":         chatops.ProtocolVersion,
	})
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"required_auths":         []string{},
		"required_posting_auths": []string{sender},
		"id":                     chatops.ChatID,
		"json":                   string(inner),
	})
	require.NoError(t, err)

	return hive.HistoryEntry{
		Index:     index,
		Timestamp: ts,
		Op:        hive.Operation{Type: "custom_json", Payload: payload},
	}
}

func newTestService(t *testing.T, history HistoryClient, agent keychain.Agent) *Service {
	t.Helper()
	svc, err := NewService(Options{
		Account: "alice",
		History: history,
		Agent:   agent,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(Options{History: &fakeHistory{}, Agent: &fakeAgent{}})
	assert.Error(t, err)

	_, err = NewService(Options{Account: "alice", Agent: &fakeAgent{}})
	assert.Error(t, err)

	_, err = NewService(Options{Account: "alice", History: &fakeHistory{}})
	assert.Error(t, err)
}

func TestSyncOnce_MergesChatEnvelope(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	history := &fakeHistory{entries: []hive.HistoryEntry{
		chatEntry(t, 7, t1, "alice", "bob", "ctxt1"),
	}}
	svc := newTestService(t, history, &fakeAgent{})

	require.NoError(t, svc.SyncOnce(context.Background()))

	convo := svc.Conversation("bob")
	require.Len(t, convo, 1)
	assert.Equal(t, chatops.MessageID(t1, "alice", 7), convo[0].ID)
	assert.Equal(t, "alice", convo[0].Sender)
	assert.Equal(t, "ctxt1", convo[0].Ciphertext)
	assert.Empty(t, convo[0].Plaintext)
}

func TestSyncOnce_SameWindowTwice(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	history := &fakeHistory{entries: []hive.HistoryEntry{
		chatEntry(t, 7, t1, "alice", "bob", "ctxt1"),
	}}
	svc := newTestService(t, history, &fakeAgent{})

	require.NoError(t, svc.SyncOnce(context.Background()))
	require.NoError(t, svc.SyncOnce(context.Background()))

	assert.Len(t, svc.Conversation("bob"), 1)
}

func TestSyncOnce_NetworkErrorIsRetryable(t *testing.T) {
	history := &fakeHistory{err: &hive.NetworkError{Node: "node", Err: context.DeadlineExceeded}}
	svc := newTestService(t, history, &fakeAgent{})

	err := svc.SyncOnce(context.Background())
	require.Error(t, err)

	var netErr *hive.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Empty(t, svc.Peers())
}

func TestSyncOnce_PublishesUpdates(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	history := &fakeHistory{entries: []hive.HistoryEntry{
		chatEntry(t, 7, t1, "bob", "alice", "ctxt1"),
	}}
	svc := newTestService(t, history, &fakeAgent{})

	updates, _ := svc.Subscribe(context.Background())
	require.NoError(t, svc.SyncOnce(context.Background()))

	select {
	case peer := <-updates:
		assert.Equal(t, "bob", peer)
	case <-time.After(time.Second):
		t.Fatal("no update published")
	}
}

func TestSyncOnce_DroppedAfterClose(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	history := &fakeHistory{
		entries: []hive.HistoryEntry{chatEntry(t, 7, t1, "alice", "bob", "ctxt1")},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	svc := newTestService(t, history, &fakeAgent{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.SyncOnce(context.Background())
	}()

	// Tear the session down while the fetch is still in flight, then let
	// the fetch complete. Its window must be discarded.
	<-history.started
	svc.Close()
	close(history.release)

	assert.ErrorIs(t, <-errCh, ErrSessionClosed)
	assert.Empty(t, svc.Conversation("bob"))
}

func TestDecrypt_CachesAndSurvivesMerge(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	history := &fakeHistory{entries: []hive.HistoryEntry{
		chatEntry(t, 7, t1, "alice", "bob", "ctxt1"),
	}}
	agent := &fakeAgent{decodeResult: "#hello"}
	svc := newTestService(t, history, agent)

	require.NoError(t, svc.SyncOnce(context.Background()))
	id := chatops.MessageID(t1, "alice", 7)

	plaintext, err := svc.Decrypt(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "hello", plaintext)

	// Re-merging the same window must not clear the decrypted content.
	require.NoError(t, svc.SyncOnce(context.Background()))
	convo := svc.Conversation("bob")
	require.Len(t, convo, 1)
	assert.Equal(t, "hello", convo[0].Plaintext)

	// Second view is served from the session cache, not the agent.
	plaintext, err = svc.Decrypt(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "hello", plaintext)
	assert.Equal(t, 1, agent.decodeCalls)
}

func TestDecrypt_UnknownMessage(t *testing.T) {
	svc := newTestService(t, &fakeHistory{}, &fakeAgent{})
	_, err := svc.Decrypt(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestDecrypt_AgentOutcomePassesThrough(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	history := &fakeHistory{entries: []hive.HistoryEntry{
		chatEntry(t, 7, t1, "bob", "alice", "ctxt1"),
	}}
	agent := &fakeAgent{decodeErr: keychain.ErrUserCancelled}
	svc := newTestService(t, history, agent)

	require.NoError(t, svc.SyncOnce(context.Background()))
	_, err := svc.Decrypt(context.Background(), chatops.MessageID(t1, "bob", 7))
	assert.ErrorIs(t, err, keychain.ErrUserCancelled)

	// A refused decrypt leaves the message encrypted.
	convo := svc.Conversation("bob")
	require.Len(t, convo, 1)
	assert.Empty(t, convo[0].Plaintext)
}

// fakeCache is an in-memory EnvelopeCache.
type fakeCache struct {
	mu        sync.Mutex
	envelopes map[string][]chatops.Envelope
	putErr    error
}

func (f *fakeCache) Put(ctx context.Context, account string, envelopes []chatops.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	if f.envelopes == nil {
		f.envelopes = make(map[string][]chatops.Envelope)
	}
	f.envelopes[account] = append(f.envelopes[account], envelopes...)
	return nil
}

func (f *fakeCache) Load(ctx context.Context, account string) ([]chatops.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.envelopes[account], nil
}

func TestBackfill_RestoresCachedConversations(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cache := &fakeCache{envelopes: map[string][]chatops.Envelope{
		"alice": {{
			ID:         chatops.MessageID(t1, "bob", 3),
			Index:      3,
			Sender:     "bob",
			Recipient:  "alice",
			Peer:       "bob",
			Ciphertext: "old-ctxt",
			Timestamp:  t1,
		}},
	}}
	svc, err := NewService(Options{
		Account: "alice",
		History: &fakeHistory{},
		Agent:   &fakeAgent{},
		Cache:   cache,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	require.NoError(t, svc.Backfill(context.Background()))

	convo := svc.Conversation("bob")
	require.Len(t, convo, 1)
	assert.Equal(t, "old-ctxt", convo[0].Ciphertext)
}

func TestSyncOnce_CachesExtractedEnvelopes(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	history := &fakeHistory{entries: []hive.HistoryEntry{
		chatEntry(t, 7, t1, "alice", "bob", "ctxt1"),
	}}
	cache := &fakeCache{}
	svc, err := NewService(Options{
		Account: "alice",
		History: history,
		Agent:   &fakeAgent{},
		Cache:   cache,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	require.NoError(t, svc.SyncOnce(context.Background()))

	require.Len(t, cache.envelopes["alice"], 1)
	assert.Equal(t, "ctxt1", cache.envelopes["alice"][0].Ciphertext)
}

func TestSyncOnce_CacheFailureDoesNotFailSync(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	history := &fakeHistory{entries: []hive.HistoryEntry{
		chatEntry(t, 7, t1, "alice", "bob", "ctxt1"),
	}}
	cache := &fakeCache{putErr: context.DeadlineExceeded}
	svc, err := NewService(Options{
		Account: "alice",
		History: history,
		Agent:   &fakeAgent{},
		Cache:   cache,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	require.NoError(t, svc.SyncOnce(context.Background()))
	assert.Len(t, svc.Conversation("bob"), 1)
}

func TestClose_ClearsStore(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	history := &fakeHistory{entries: []hive.HistoryEntry{
		chatEntry(t, 7, t1, "alice", "bob", "ctxt1"),
	}}
	svc := newTestService(t, history, &fakeAgent{})

	require.NoError(t, svc.SyncOnce(context.Background()))
	require.NotEmpty(t, svc.Peers())

	svc.Close()
	assert.Empty(t, svc.Peers())
}
