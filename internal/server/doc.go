// Package server is the thin HTTP control surface: start/stop/pause/
// resume campaigns, query status and outcome ledgers, and stream live
// progress over SSE. All campaign semantics live in internal/dispatch;
// this layer only translates requests.
package server
