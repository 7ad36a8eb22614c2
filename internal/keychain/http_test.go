// ABOUTME: Tests for the HTTP bridge to the signer process.
// ABOUTME: Validates the request/response protocol and outcome mapping.

package keychain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSigner records requests and answers with canned responses per path.
type fakeSigner struct {
	t         *testing.T
	responses map[string]Response
	requests  []Request
}

func (f *fakeSigner) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.requests = append(f.requests, req)

		resp, ok := f.responses[r.URL.Path]
		require.True(f.t, ok, "unexpected path %s", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}

func TestHTTPAgent_EncodeMemo(t *testing.T) {
	signer := &fakeSigner{t: t, responses: map[string]Response{
		"/v1/encode": {Success: true, Result: "ENCRYPTED"},
	}}
	srv := httptest.NewServer(signer.handler())
	defer srv.Close()

	agent := NewHTTPAgent(srv.URL, nil)
	result, err := agent.EncodeMemo(context.Background(), "alice", "bob", "#hi")
	require.NoError(t, err)
	assert.Equal(t, "ENCRYPTED", result)

	require.Len(t, signer.requests, 1)
	req := signer.requests[0]
	assert.Equal(t, "alice", req.Account)
	assert.Equal(t, "bob", req.Recipient)
	assert.Equal(t, "#hi", req.Memo)
	assert.NotEmpty(t, req.RequestID)
}

func TestHTTPAgent_DecodeMemo_Cancelled(t *testing.T) {
	signer := &fakeSigner{t: t, responses: map[string]Response{
		"/v1/decode": {Success: false, Error: "The user cancelled the request."},
	}}
	srv := httptest.NewServer(signer.handler())
	defer srv.Close()

	agent := NewHTTPAgent(srv.URL, nil)
	_, err := agent.DecodeMemo(context.Background(), "alice", "#blob")
	assert.ErrorIs(t, err, ErrUserCancelled)
}

func TestHTTPAgent_EncodeMemo_Denied(t *testing.T) {
	signer := &fakeSigner{t: t, responses: map[string]Response{
		"/v1/encode": {Success: false, Error: "The request was denied by the user."},
	}}
	srv := httptest.NewServer(signer.handler())
	defer srv.Close()

	agent := NewHTTPAgent(srv.URL, nil)
	_, err := agent.EncodeMemo(context.Background(), "alice", "bob", "#hi")
	assert.ErrorIs(t, err, ErrAgentDenied)
}

func TestHTTPAgent_Broadcast(t *testing.T) {
	signer := &fakeSigner{t: t, responses: map[string]Response{
		"/v1/broadcast": {Success: true},
	}}
	srv := httptest.NewServer(signer.handler())
	defer srv.Close()

	agent := NewHTTPAgent(srv.URL, nil)
	err := agent.BroadcastChatJSON(context.Background(), "alice", "shorts_chat_v1", []byte(`{"recipient":"bob"}`))
	require.NoError(t, err)

	require.Len(t, signer.requests, 1)
	assert.Equal(t, "shorts_chat_v1", signer.requests[0].ChatID)
	assert.JSONEq(t, `{"recipient":"bob"}`, signer.requests[0].Payload)
}

func TestHTTPAgent_Unreachable(t *testing.T) {
	// Nothing listens here; the agent is simply not present.
	agent := NewHTTPAgent("http://127.0.0.1:1", nil)
	_, err := agent.EncodeMemo(context.Background(), "alice", "bob", "#hi")
	assert.ErrorIs(t, err, ErrAgentUnavailable)
}

func TestHTTPAgent_OtherFailure(t *testing.T) {
	signer := &fakeSigner{t: t, responses: map[string]Response{
		"/v1/decode": {Success: false, Error: "memo key unavailable"},
	}}
	srv := httptest.NewServer(signer.handler())
	defer srv.Close()

	agent := NewHTTPAgent(srv.URL, nil)
	_, err := agent.DecodeMemo(context.Background(), "alice", "#blob")

	var agentErr *AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, "decode", agentErr.Op)
}
