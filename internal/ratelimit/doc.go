// Package ratelimit implements the per-identity send-quota tracker used by
// the campaign dispatcher.
//
// Each identity carries four windowed counters (second/minute/hour/day), a
// minimum-gap timestamp and a burst counter with cooldown. Check never
// blocks and never consumes quota; Commit is called once per physical send
// attempt. Buckets are indexed by window number and lazily reset, so no
// background ticker is needed; a periodic EvictStale sweep bounds memory.
package ratelimit
