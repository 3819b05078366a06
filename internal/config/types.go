package config

import (
	"inkframe/internal/model"
)

// Device is the single on-disk configuration document.
//
// The scheduler core owns playlist_config and refresh_info and writes them
// back on every committed cycle; the remaining sections are read-only from
// the core's point of view and editable by the operator (or the web UI,
// which lives outside this repository).
type Device struct {
	Name string `json:"name,omitempty"`

	// Resolution is [width, height] in panel pixels. Informational to the
	// core; renderers receive it via their own settings.
	Resolution []int `json:"resolution,omitempty"`

	// SchedulerSleep is the worker's wait between cycles.
	// Go duration string (e.g. "30s"); default 30s.
	SchedulerSleep string `json:"scheduler_sleep,omitempty"`

	// RenderTimeout bounds one render gateway call. "0s" disables the bound.
	// Default 2m.
	RenderTimeout string `json:"render_timeout,omitempty"`

	Display DisplayConfig `json:"display"`
	Logging LoggingConfig `json:"logging"`

	// Storage configures the refresh-history store. Omitted = disabled.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Debug configures the pprof/metrics HTTP server. Omitted = disabled.
	Debug *DebugConfig `json:"debug,omitempty"`

	// Buttons maps physical button events to actions.
	Buttons *ButtonsConfig `json:"buttons,omitempty"`

	PlaylistConfig model.PlaylistManager `json:"playlist_config"`
	RefreshInfo    model.RefreshInfo     `json:"refresh_info"`
}

type DisplayConfig struct {
	// MinWriteInterval spaces out physical panel writes (Go duration
	// string). "0s" disables.
	MinWriteInterval string `json:"min_write_interval,omitempty"`

	// CurrentImagePath receives a PNG copy of every displayed frame.
	CurrentImagePath string `json:"current_image_path,omitempty"`

	// ImageCacheDir holds the per-instance frame cache.
	ImageCacheDir string `json:"image_cache_dir,omitempty"`

	// Settings are passed verbatim to the panel driver.
	Settings []string `json:"settings,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional refresh-history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./inkframe_history.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugConfig controls the optional pprof/metrics HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// ButtonsConfig maps "<button>_<press>" keys (e.g. "a_short", "d_long") to
// action names understood by the button manager.
type ButtonsConfig struct {
	// Pipe is the named pipe the GPIO bridge writes press events into.
	// Empty disables the button source.
	Pipe    string            `json:"pipe,omitempty"`
	Actions map[string]string `json:"actions,omitempty"`
}
