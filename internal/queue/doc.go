// Package queue is the device-side action queue.
//
// Actions are drained FIFO (ORDER BY id). Every create-type action carries
// a client-generated clientId assigned once by EnsureClientID and never
// regenerated, which is what lets the server deduplicate replays.
//
// Lifecycle:
//
//	pending ──▶ processing ──▶ (deleted on acknowledgement)
//	   ▲             │
//	   └── Fail ◀────┤ attempts < MaxAttempts
//	                 └──▶ failed   attempts ≥ MaxAttempts, or Reject
//
// Failed actions stay in the store until RetryFailed resets them.
package queue
