// ABOUTME: JSON-RPC client for the Hive condenser API with multi-node failover.
// ABOUTME: Fetches bounded account-history windows used by the chat synchronizer.

package hive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// TimeFormat is the timestamp layout used by Hive API nodes. Node timestamps
// are UTC but carry no zone suffix.
const TimeFormat = "2006-01-02T15:04:05"

// DefaultNodes are the public API nodes tried when none are configured.
var DefaultNodes = []string{
	"https://api.hive.blog",
	"https://anyx.io",
	"https://api.openhive.network",
}

// NetworkError reports a transport failure or malformed response from the
// ledger API. It is returned only after every configured node has failed.
type NetworkError struct {
	Node string // last node tried
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("ledger request failed (last node %s): %v", e.Node, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Operation is a ledger operation as recorded in account history. The node
// encodes operations as a two-element array of [type, value]; Payload holds
// the raw value object for the caller to interpret.
type Operation struct {
	Type    string
	Payload json.RawMessage
}

// UnmarshalJSON decodes the node's [type, value] tuple encoding.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("decoding operation tuple: %w", err)
	}
	if len(tuple) != 2 {
		return fmt.Errorf("operation tuple has %d elements, want 2", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &o.Type); err != nil {
		return fmt.Errorf("decoding operation type: %w", err)
	}
	o.Payload = tuple[1]
	return nil
}

// HistoryEntry is a single (index, operation, timestamp) tuple from an
// account's history.
type HistoryEntry struct {
	Index     int64
	Timestamp time.Time
	Op        Operation
}

// historyItem matches the per-entry object returned by get_account_history.
type historyItem struct {
	Timestamp string    `json:"timestamp"`
	Op        Operation `json:"op"`
}

// UnmarshalJSON decodes the node's [index, item] tuple encoding.
func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("decoding history tuple: %w", err)
	}
	if len(tuple) != 2 {
		return fmt.Errorf("history tuple has %d elements, want 2", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &h.Index); err != nil {
		return fmt.Errorf("decoding history index: %w", err)
	}
	var item historyItem
	if err := json.Unmarshal(tuple[1], &item); err != nil {
		return fmt.Errorf("decoding history item: %w", err)
	}
	ts, err := time.Parse(TimeFormat, item.Timestamp)
	if err != nil {
		return fmt.Errorf("parsing history timestamp %q: %w", item.Timestamp, err)
	}
	h.Timestamp = ts.UTC()
	h.Op = item.Op
	return nil
}

// Client queries Hive API nodes over JSON-RPC.
type Client struct {
	nodes  []string
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a client for the given nodes. Pass nil or empty nodes to
// use DefaultNodes, and nil logger for the default logger.
func NewClient(nodes []string, logger *slog.Logger) *Client {
	if len(nodes) == 0 {
		nodes = DefaultNodes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		nodes:  nodes,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "hive"),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// AccountHistory fetches the most recent windowSize operations of an
// account's ledger history, oldest first. Each configured node is tried in
// order; a *NetworkError is returned only if all of them fail.
func (c *Client) AccountHistory(ctx context.Context, account string, windowSize int) ([]HistoryEntry, error) {
	// -1 means "start from the newest operation" in the condenser API.
	params := []any{account, -1, windowSize}

	var lastNode string
	var lastErr error
	for _, node := range c.nodes {
		var entries []HistoryEntry
		err := c.call(ctx, node, "condenser_api.get_account_history", params, &entries)
		if err == nil {
			c.logger.Debug("account history fetched",
				"node", node,
				"account", account,
				"entries", len(entries),
			)
			return entries, nil
		}
		if ctx.Err() != nil {
			return nil, &NetworkError{Node: node, Err: ctx.Err()}
		}
		c.logger.Warn("node request failed, trying next",
			"node", node,
			"account", account,
			"error", err,
		)
		lastNode, lastErr = node, err
	}
	return nil, &NetworkError{Node: lastNode, Err: lastErr}
}

// call performs a single JSON-RPC request against one node and decodes the
// result into out.
func (c *Client) call(ctx context.Context, node, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting to node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node returned status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}
