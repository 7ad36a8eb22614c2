// ABOUTME: HTTP bridge to a companion signer process implementing the agent protocol.
// ABOUTME: POSTs encode/decode/broadcast requests and maps responses onto the taxonomy.

package keychain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Request is one signing request sent to the agent process.
type Request struct {
	RequestID string `json:"request_id"`
	Account   string `json:"account"`
	Recipient string `json:"recipient,omitempty"`
	Memo      string `json:"memo,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	Payload   string `json:"payload,omitempty"`
}

// Response is the agent's answer: a success flag and either a result or an
// error message.
type Response struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HTTPAgent talks to a signer process over HTTP. The signer is expected on
// localhost; there is no timeout on requests because the agent legitimately
// waits on the user.
type HTTPAgent struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPAgent creates an agent bridge for the given base URL, e.g.
// "http://127.0.0.1:8791". Pass nil logger for the default logger.
func NewHTTPAgent(baseURL string, logger *slog.Logger) *HTTPAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAgent{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  logger.With("component", "keychain"),
	}
}

// EncodeMemo implements Agent.
func (a *HTTPAgent) EncodeMemo(ctx context.Context, account, recipient, memo string) (string, error) {
	return a.call(ctx, "encode", &Request{
		Account:   account,
		Recipient: recipient,
		Memo:      memo,
	})
}

// DecodeMemo implements Agent.
func (a *HTTPAgent) DecodeMemo(ctx context.Context, account, memo string) (string, error) {
	return a.call(ctx, "decode", &Request{
		Account: account,
		Memo:    memo,
	})
}

// BroadcastChatJSON implements Agent.
func (a *HTTPAgent) BroadcastChatJSON(ctx context.Context, account, chatID string, payload []byte) error {
	_, err := a.call(ctx, "broadcast", &Request{
		Account: account,
		ChatID:  chatID,
		Payload: string(payload),
	})
	return err
}

// call performs one request/response round trip with the signer process.
func (a *HTTPAgent) call(ctx context.Context, op string, req *Request) (string, error) {
	req.RequestID = uuid.New().String()

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/"+op, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.http.Do(httpReq)
	if err != nil {
		// A signer we cannot reach at all is "no agent present", not a
		// generic transport error.
		return "", fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decoding agent response: %w", err)
	}

	if !resp.Success {
		outcome := Classify(op, resp.Error)
		a.logger.Debug("agent request did not succeed",
			"op", op,
			"request_id", req.RequestID,
			"outcome", outcome,
		)
		return "", outcome
	}

	a.logger.Debug("agent request succeeded", "op", op, "request_id", req.RequestID)
	return resp.Result, nil
}
