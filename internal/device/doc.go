// Package device wires the local store, photo staging, the action queue
// and the sync engine into the handful of calls a capture UI needs.
package device
