// Package chatops recognizes and produces the on-chain chat operation format.
//
// Chat messages are carried as custom_json operations tagged with the
// application id "shorts_chat_v1". The JSON body is wire-fixed:
//
//	{"recipient": "<account>", "message": "<encrypted memo>", "v": "1.0"}
//
// The sender is the operation's first posting authority. The Filter extracts
// envelopes from a raw account-history window, keeping only operations that
// involve the authenticated user; everything else on the ledger is ignored.
package chatops
