// Package storage persists the refresh history.
//
// Every committed cycle appends one record: what was shown, when, whether
// the frame came from cache, and whether the physical write was skipped by
// the dedup check. The history is operator-facing (debugging "why didn't my
// panel update") and entirely optional.
package storage
