// Package store provides the SQLite-backed durable store on the device.
//
// Tables:
//   - queued_actions: pending mutations waiting for the sync engine
//   - photos: staged captures, deduplicated by content hash
//   - local_persons: provisional client id → server id mapping
//   - cached_records: read cache of server-authoritative records
//   - settings: small persisted flags (e.g. batch endpoint capability)
//
// # Durability
//
// Every method commits before it returns. There is no write-behind
// buffer: synchronous=FULL plus WAL means a call that returned nil has
// reached disk.
//
// # Ordering
//
// Queued actions are always read ORDER BY id ASC so drains are FIFO.
// Cached records are read ORDER BY timestamp DESC, id DESC.
//
// Payloads are stored as canonical JSON produced by the payload package,
// so equal documents occupy equal bytes.
package store
