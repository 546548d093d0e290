// Package payload provides the document tree carried by queued actions.
//
// Every queued payload, batch operation and server-bound request body is a
// payload.Object. The package imports nothing internal, so store, queue,
// engine and api can all depend on it.
//
// Key design constraints:
//   - NO float types - numbers are int64, fractions travel as strings
//   - Stored and transmitted bytes come from MarshalCanonical only
//   - Visitors never mutate their input; rewrites return a new tree
//
// The visitor helpers (Walk, Find, Replace, ReplaceString, RewriteObjects)
// are what the sync engine uses to rewrite provisional identifiers across
// the whole queue in one pass.
package payload
