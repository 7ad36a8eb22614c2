// Package messaging is the encrypted peer-messaging synchronizer.
//
// There is no chat backend: private conversations are reconstructed
// client-side from the public ledger. The Service pulls a bounded window of
// the user's account history, extracts chat-tagged operations, and merges
// them into the in-memory conversation store. Message bodies stay encrypted
// until the user views them, at which point the signing agent decrypts on
// demand and the result is cached for the rest of the session.
//
// # Lifecycle
//
// A Service is created when a session authenticates and closed when it
// ends:
//
//	svc, _ := messaging.NewService(messaging.Options{...})
//	sched := messaging.NewScheduler(svc, 30*time.Second, logger)
//	sched.Start()
//	...
//	sched.Stop()
//	svc.Close()
//
// Close cancels the session context; any fetch or decrypt still in flight
// completes against a cancelled context and its result is dropped before it
// can touch the store. The conversation store is cleared and nothing
// survives the session.
//
// # Sending
//
// Send drives one user action through encrypt, broadcast, and resync. A
// failure at any stage is terminal for that action; the caller re-invokes
// to retry. On success an immediate refresh is requested through the
// scheduler so the sender sees their own message without waiting for the
// next poll tick.
//
// # Scheduling
//
// The Scheduler polls on a fixed interval and exposes RefreshNow for
// user-initiated refresh. Syncs are single-flight: a refresh while one is in
// progress is ignored outright, never queued.
package messaging
