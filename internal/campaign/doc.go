// Package campaign defines the campaign run model, its lifecycle state
// machine, and the in-process registry that enforces at-most-one dispatch
// worker per campaign and carries cooperative pause/stop signaling.
package campaign
