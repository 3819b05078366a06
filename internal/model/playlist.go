package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EndOfDay is the sentinel end time meaning "midnight of the next day".
// A playlist spanning ["00:00", "24:00") is active around the clock.
const EndOfDay = "24:00"

var (
	ErrPlaylistNotFound = errors.New("playlist not found")
	ErrPlaylistExists   = errors.New("playlist already exists")
	ErrInstanceNotFound = errors.New("plugin instance not found")
	ErrInstanceExists   = errors.New("plugin instance already exists")
)

// PluginInstance is one configured occurrence of a content plugin inside a
// playlist. Settings are opaque to the scheduler; they are handed to the
// render gateway untouched.
type PluginInstance struct {
	PluginID string            `json:"plugin_id"`
	Name     string            `json:"name"`
	Settings map[string]string `json:"plugin_settings,omitempty"`
	Refresh  RefreshPolicy     `json:"refresh"`

	// LatestRefresh is set by the orchestrator after a successful render.
	// Nil means the instance has never rendered.
	LatestRefresh *time.Time `json:"latest_refresh,omitempty"`
}

func (pi *PluginInstance) Validate() error {
	if strings.TrimSpace(pi.PluginID) == "" {
		return errors.New("plugin_id is required")
	}
	if strings.TrimSpace(pi.Name) == "" {
		return errors.New("instance name is required")
	}
	if err := pi.Refresh.Validate(); err != nil {
		return fmt.Errorf("instance %q: %w", pi.Name, err)
	}
	return nil
}

// ShouldRefresh reports whether the instance's content is stale at now.
func (pi *PluginInstance) ShouldRefresh(now time.Time) bool {
	return pi.Refresh.Due(pi.LatestRefresh, now)
}

// ImageFilename is the per-instance cache file name for the last rendered frame.
func (pi *PluginInstance) ImageFilename() string {
	return pi.PluginID + "_" + strings.ReplaceAll(pi.Name, " ", "_") + ".png"
}

// Playlist is a named, time-bounded, ordered set of plugin instances.
// The window is half-open [StartTime, EndTime); EndTime may be "24:00".
type Playlist struct {
	Name      string            `json:"name"`
	StartTime string            `json:"start_time"`
	EndTime   string            `json:"end_time"`
	Plugins   []*PluginInstance `json:"plugins"`

	// CurrentPluginIndex is the rotation cursor. Nil means the playlist has
	// never been visited; the next advance lands on index 0.
	CurrentPluginIndex *int `json:"current_plugin_index,omitempty"`
}

func NewPlaylist(name, startTime, endTime string) *Playlist {
	return &Playlist{Name: name, StartTime: startTime, EndTime: endTime}
}

func (p *Playlist) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("playlist name is required")
	}
	start, err := parseWindowTime(p.StartTime, false)
	if err != nil {
		return fmt.Errorf("playlist %q start_time: %w", p.Name, err)
	}
	end, err := parseWindowTime(p.EndTime, true)
	if err != nil {
		return fmt.Errorf("playlist %q end_time: %w", p.Name, err)
	}
	if end <= start {
		return fmt.Errorf("playlist %q: end_time %q must be after start_time %q", p.Name, p.EndTime, p.StartTime)
	}
	seen := make(map[string]struct{}, len(p.Plugins))
	for _, pi := range p.Plugins {
		if err := pi.Validate(); err != nil {
			return fmt.Errorf("playlist %q: %w", p.Name, err)
		}
		key := pi.PluginID + "\x00" + pi.Name
		if _, dup := seen[key]; dup {
			return fmt.Errorf("playlist %q: duplicate instance %q of plugin %q", p.Name, pi.Name, pi.PluginID)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// IsActive reports whether now falls inside the playlist window.
// Comparison is on "HH:MM" strings; fixed width makes the lexicographic
// compare equivalent to a wall-clock compare, and "24:00" sorts after every
// real time of day.
func (p *Playlist) IsActive(now time.Time) bool {
	cur := now.Format("15:04")
	return p.StartTime <= cur && cur < p.EndTime
}

// TimeRangeMinutes is the window length in minutes. Shorter windows take
// priority during active-playlist resolution.
func (p *Playlist) TimeRangeMinutes() int {
	start, err := parseWindowTime(p.StartTime, false)
	if err != nil {
		return 0
	}
	end, err := parseWindowTime(p.EndTime, true)
	if err != nil {
		return 0
	}
	return end - start
}

// Priority of a playlist is its window length: a 30-minute lunch playlist
// beats an all-day default without needing an explicit priority field.
func (p *Playlist) Priority() int { return p.TimeRangeMinutes() }

// NextPlugin advances the rotation cursor round-robin and returns the
// instance now under the cursor. Returns nil for an empty playlist.
func (p *Playlist) NextPlugin() *PluginInstance {
	if len(p.Plugins) == 0 {
		return nil
	}
	if p.CurrentPluginIndex == nil {
		idx := 0
		p.CurrentPluginIndex = &idx
	} else {
		idx := (*p.CurrentPluginIndex + 1) % len(p.Plugins)
		p.CurrentPluginIndex = &idx
	}
	return p.Plugins[*p.CurrentPluginIndex]
}

// AddPlugin appends a new instance. The (plugin id, instance name) pair must
// be unique within the playlist.
func (p *Playlist) AddPlugin(pi *PluginInstance) error {
	if err := pi.Validate(); err != nil {
		return err
	}
	if p.FindPlugin(pi.PluginID, pi.Name) != nil {
		return fmt.Errorf("%w: %s/%s in playlist %q", ErrInstanceExists, pi.PluginID, pi.Name, p.Name)
	}
	p.Plugins = append(p.Plugins, pi)
	return nil
}

// UpdatePlugin replaces the settings and refresh policy of an existing
// instance. The rotation cursor and latest-refresh timestamp are preserved.
func (p *Playlist) UpdatePlugin(pluginID, name string, settings map[string]string, policy RefreshPolicy) error {
	pi := p.FindPlugin(pluginID, name)
	if pi == nil {
		return fmt.Errorf("%w: %s/%s in playlist %q", ErrInstanceNotFound, pluginID, name, p.Name)
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	pi.Settings = settings
	pi.Refresh = policy
	return nil
}

// DeletePlugin removes an instance and clamps the rotation cursor.
func (p *Playlist) DeletePlugin(pluginID, name string) error {
	for i, pi := range p.Plugins {
		if pi.PluginID == pluginID && pi.Name == name {
			p.Plugins = append(p.Plugins[:i], p.Plugins[i+1:]...)
			if p.CurrentPluginIndex != nil {
				switch {
				case len(p.Plugins) == 0:
					p.CurrentPluginIndex = nil
				case *p.CurrentPluginIndex >= len(p.Plugins):
					idx := len(p.Plugins) - 1
					p.CurrentPluginIndex = &idx
				}
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s in playlist %q", ErrInstanceNotFound, pluginID, name, p.Name)
}

func (p *Playlist) FindPlugin(pluginID, name string) *PluginInstance {
	for _, pi := range p.Plugins {
		if pi.PluginID == pluginID && pi.Name == name {
			return pi
		}
	}
	return nil
}
