package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RefreshEntry records one committed refresh cycle.
// Keep it compact and schema-stable.
type RefreshEntry struct {
	At           time.Time `json:"at"`
	RefreshType  string    `json:"refresh_type"`
	PluginID     string    `json:"plugin_id"`
	Instance     string    `json:"instance,omitempty"`
	Playlist     string    `json:"playlist,omitempty"`
	ImageHash    string    `json:"image_hash,omitempty"`
	Cached       bool      `json:"cached,omitempty"`
	WriteSkipped bool      `json:"write_skipped,omitempty"`
	TookMS       int64     `json:"took_ms,omitempty"`
	Error        string    `json:"error,omitempty"`
}
