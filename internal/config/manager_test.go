package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"inkframe/internal/model"
)

func writeConfig(t *testing.T, name, content string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path)
}

const minimalJSON = `{
  "name": "kitchen frame",
  "scheduler_sleep": "45s",
  "display": {"min_write_interval": "5s"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "playlist_config": {
    "playlists": [
      {
        "name": "Default",
        "start_time": "00:00",
        "end_time": "24:00",
        "plugins": [
          {"plugin_id": "solid", "name": "Blank", "refresh": {"interval": 600}}
        ]
      }
    ]
  },
  "refresh_info": {}
}
`

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	m := writeConfig(t, "device.json", minimalJSON)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Name != "kitchen frame" || cfg.SchedulerSleep != "45s" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	pl := cfg.PlaylistConfig.GetPlaylist("Default")
	if pl == nil || len(pl.Plugins) != 1 || pl.Plugins[0].Refresh.Interval != 600 {
		t.Fatalf("playlist not decoded: %+v", pl)
	}
	if m.Get() != cfg {
		t.Fatal("Get() does not return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	m := writeConfig(t, "device.yaml", `
name: hallway frame
scheduler_sleep: 1m
display:
  min_write_interval: 10s
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
playlist_config:
  playlists:
    - name: Default
      start_time: "00:00"
      end_time: "24:00"
      plugins: []
refresh_info: {}
`)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Name != "hallway frame" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	m := writeConfig(t, "device.json", `{"name": "x", "display": {}, "logging": {"level":"info","console":true,"file":{"enabled":false,"path":""}}, "playlist_config": {"playlists": []}, "refresh_info": {}, "not_a_field": 1}`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	m := writeConfig(t, "device.json", minimalJSON+`{"name": "second doc"}`)
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("error = %v, want trailing-data rejection", err)
	}
}

func TestParseRejectsBadPlaylist(t *testing.T) {
	t.Parallel()

	m := writeConfig(t, "device.json", `{
  "display": {},
  "logging": {"level":"info","console":true,"file":{"enabled":false,"path":""}},
  "playlist_config": {"playlists": [{"name": "Broken", "start_time": "17:00", "end_time": "09:00", "plugins": []}]},
  "refresh_info": {}
}`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for inverted playlist window")
	}
}

func TestLoadEnsuresDefaultPlaylist(t *testing.T) {
	t.Parallel()

	m := writeConfig(t, "device.json", `{
  "display": {},
  "logging": {"level":"info","console":true,"file":{"enabled":false,"path":""}},
  "playlist_config": {"playlists": []},
  "refresh_info": {}
}`)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.PlaylistConfig.GetPlaylist(model.DefaultPlaylistName) == nil {
		t.Fatal("Default playlist not materialized")
	}
}

func TestSaveStateRoundTrip(t *testing.T) {
	t.Parallel()

	m := writeConfig(t, "device.json", minimalJSON)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pm := &model.PlaylistManager{ActivePlaylist: "Default"}
	pm.EnsureDefault()
	idx := 0
	pm.Playlists[0].CurrentPluginIndex = &idx
	ri := model.RefreshInfo{
		RefreshTime:  &now,
		RefreshType:  model.RefreshTypePlaylist,
		PluginID:     "solid",
		PlaylistName: "Default",
		Instance:     "Blank",
		ImageHash:    "abc123",
	}
	if err := m.SaveState(pm, ri); err != nil {
		t.Fatalf("SaveState error: %v", err)
	}

	// Fresh manager reads back exactly what was committed.
	m2 := NewManager(m.Path())
	cfg, err := m2.Load()
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if cfg.RefreshInfo.ImageHash != "abc123" || cfg.RefreshInfo.Instance != "Blank" {
		t.Fatalf("refresh_info not persisted: %+v", cfg.RefreshInfo)
	}
	if cfg.RefreshInfo.RefreshTime == nil || !cfg.RefreshInfo.RefreshTime.Equal(now) {
		t.Fatalf("refresh_time = %v, want %v", cfg.RefreshInfo.RefreshTime, now)
	}
	pl := cfg.PlaylistConfig.GetPlaylist("Default")
	if pl == nil || pl.CurrentPluginIndex == nil || *pl.CurrentPluginIndex != 0 {
		t.Fatalf("rotation cursor not persisted: %+v", pl)
	}
	// Untouched operator sections survive the state write.
	if cfg.Name != "kitchen frame" || cfg.SchedulerSleep != "45s" {
		t.Fatalf("operator fields clobbered: %+v", cfg)
	}
}

func TestSaveStateYAML(t *testing.T) {
	t.Parallel()

	m := writeConfig(t, "device.yaml", `
display: {}
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
playlist_config:
  playlists: []
refresh_info: {}
`)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	pm := &model.PlaylistManager{}
	pm.EnsureDefault()
	if err := m.SaveState(pm, model.RefreshInfo{ImageHash: "deadbeef"}); err != nil {
		t.Fatalf("SaveState error: %v", err)
	}

	cfg, err := NewManager(m.Path()).Load()
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if cfg.RefreshInfo.ImageHash != "deadbeef" {
		t.Fatalf("hash not persisted through yaml: %+v", cfg.RefreshInfo)
	}
}

func TestSaveStateBeforeLoad(t *testing.T) {
	t.Parallel()

	m := NewManager(filepath.Join(t.TempDir(), "device.json"))
	pm := &model.PlaylistManager{}
	if err := m.SaveState(pm, model.RefreshInfo{}); err == nil {
		t.Fatal("expected error saving before load")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("scheduler_sleep", "", 30*time.Second)
	if err != nil || d != 30*time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("scheduler_sleep", "2m", 30*time.Second)
	if err != nil || d != 2*time.Minute {
		t.Fatalf("parsed = %v, %v", d, err)
	}
	// An explicit zero disables the bound; it must not fall back to def.
	d, err = ParseDurationOrDefault("render_timeout", "0s", 2*time.Minute)
	if err != nil || d != 0 {
		t.Fatalf("explicit zero = %v, %v, want 0", d, err)
	}
	if _, err := ParseDurationOrDefault("scheduler_sleep", "soon", 0); err == nil {
		t.Fatal("expected error for bad duration")
	}
}
