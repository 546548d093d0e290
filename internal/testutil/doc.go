// Package testutil holds deterministic stand-ins for time used across
// package tests.
package testutil
