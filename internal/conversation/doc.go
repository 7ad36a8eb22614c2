// Package conversation holds the in-memory model of the user's private
// chats, rebuilt from the public ledger.
//
// # Store
//
// The Store maps each peer account to an ordered log of messages:
//
//	store := conversation.NewStore(logger)
//	changed := store.Merge(msgs)
//	log := store.Conversation("bob")
//
// Merge is idempotent and additive: a message already present (by its
// derived id) is never touched, so merging the same fetched window twice
// leaves the store byte-identical, and a merge can never clear decrypted
// content. Ciphertext observed on the ledger is immutable; plaintext is an
// append-only cache populated by SetDecrypted as messages are viewed.
//
// The Store lives exactly as long as an authenticated session. It starts
// empty, grows with every successful sync, and is cleared wholesale at
// logout. Nothing here is persisted.
//
// # Broadcaster
//
// The Broadcaster fans out peer-update notifications after merges so UI
// layers can re-render a conversation without polling the store.
package conversation
