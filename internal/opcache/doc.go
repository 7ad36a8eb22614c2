// Package opcache is an optional durable cache of raw encrypted chat
// envelopes, keyed by (account, history index). It exists because the
// synchronizer only ever inspects a bounded recent window of ledger history:
// without the cache, conversations older than the window vanish on restart.
// Only ciphertext is cached; decrypted content never touches disk.
package opcache
