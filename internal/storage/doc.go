// Package storage persists campaign runs and per-recipient outcome records.
//
// Two drivers share one Store interface: a dependency-free file backend
// (atomic runs snapshot + append-only outcomes jsonl) and SQLite.
package storage
