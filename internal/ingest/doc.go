// Package ingest is the server side of the sync protocol: it accepts
// person registrations, entry/exit records, photo uploads and batches.
//
// Every create carries an optional clientId. A create whose clientId is
// already stored returns the stored entity instead of inserting again,
// which makes client retries safe.
//
// Presence per (personType, personRef) is derived from the latest record
// by timestamp:
//
//	Outside --Entry--> Inside
//	Inside  --Exit---> Outside
//	Inside  --Entry--> rejected (OPEN_SESSION_EXISTS)
//	Outside --Exit---> accepted, stays Outside
package ingest
