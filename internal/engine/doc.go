// Package engine is the sync orchestrator. It drains the local action
// queue against the server in four phases:
//
//  1. Photos: every staged photo without a server path is uploaded and
//     queued payloads referencing it by photoLocalId are rewritten to
//     carry photoPath.
//  2. Actions: pending actions are sent in FIFO order. A successful
//     RegisterPerson rewrites every queued reference to its clientId into
//     the server id before the next action is read. Actions that still
//     reference an unresolved person or photo are deferred without
//     consuming an attempt.
//  3. Batch fallback: creates whose dedicated endpoint is missing are
//     sent through the batch endpoint after sanitizing inline image data.
//     A missing batch endpoint is remembered in the settings table.
//  4. Reconcile: recent server records are pulled into the local cache.
//
// Every network call is retried with exponential backoff and jitter, and
// refreshes the access token once on a 401.
//
// Outcomes per action:
//
//	success           -> deleted
//	transient failure -> attempts+1, pending (failed at the ceiling)
//	rejection         -> attempts+1, failed
//	auth lost         -> pending, attempts unchanged, run stops sending
//	unresolved ref    -> pending, attempts unchanged
package engine
