// Package refresh runs the background refresh orchestrator.
//
// # Overview
//
// One worker goroutine owns the display pipeline end to end: it decides what
// should be on screen (manual request or playlist rotation), renders through
// the gateway, suppresses redundant panel writes by content hash, and
// persists the outcome. There is never more than one render+display
// operation in flight per process; the single worker is the concurrency
// limit, not a lock around the panel.
//
// # Waking the worker
//
// The worker sleeps between cycles for the configured interval. Producers
// wake it early through a buffered depth-1 wake channel: manual refresh
// calls, playlist refresh calls, and config-change signals. A pending manual
// request occupies a single slot; a second request arriving before dispatch
// supersedes the first (the superseded caller is completed with
// ErrSuperseded immediately, so every caller gets a definite result).
//
// # Failure policy
//
// A failing cycle never kills the worker. Render errors are logged,
// delivered synchronously to a blocked manual caller if one is waiting, and
// otherwise swallowed. On failure nothing is committed: RefreshInfo and the
// persisted schedule state keep their pre-cycle values.
package refresh
