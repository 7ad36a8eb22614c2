// Package hive provides a read-only client for the Hive condenser JSON-RPC
// API, limited to the operations the messaging synchronizer needs.
//
// # Client
//
// The Client queries a list of public API nodes in order, falling back to the
// next node when one fails:
//
//	client := hive.NewClient(cfg.Nodes, logger)
//	entries, err := client.AccountHistory(ctx, "alice", 100)
//
// AccountHistory fetches a bounded window of the most recent operations in an
// account's history. The client never paginates backward; history older than
// the window is out of reach by design.
//
// # Errors
//
// All transport and decode failures are reported as *NetworkError, which
// wraps the underlying cause and names the last node tried. A NetworkError
// is always retryable on the next sync cycle.
package hive
