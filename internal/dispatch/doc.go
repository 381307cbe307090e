// Package dispatch runs campaigns: one worker goroutine per active
// campaign pushes its recipient list through the configured sender,
// throttled by the rate limiter, classifying every outcome and flushing
// cumulative progress in batches.
package dispatch
