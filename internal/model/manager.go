package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	DefaultPlaylistName  = "Default"
	DefaultPlaylistStart = "00:00"
	DefaultPlaylistEnd   = EndOfDay
)

// PlaylistManager is the top-level schedule collection: the ordered set of
// playlists plus a cache of the last-resolved active playlist name.
//
// The manager itself is not goroutine-safe; the refresh orchestrator owns it
// and serializes access under its own lock.
type PlaylistManager struct {
	Playlists []*Playlist `json:"playlists"`

	// ActivePlaylist caches the name resolved by DetermineActivePlaylist.
	// It is informational (shown in the UI), never authoritative.
	ActivePlaylist string `json:"active_playlist,omitempty"`
}

func (m *PlaylistManager) Validate() error {
	seen := make(map[string]struct{}, len(m.Playlists))
	for _, p := range m.Playlists {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: %q", ErrPlaylistExists, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// EnsureDefault materializes the all-day "Default" playlist when the
// collection is empty. It is the only playlist ever auto-created.
func (m *PlaylistManager) EnsureDefault() {
	if len(m.Playlists) == 0 {
		m.Playlists = append(m.Playlists, NewPlaylist(DefaultPlaylistName, DefaultPlaylistStart, DefaultPlaylistEnd))
	}
}

// DetermineActivePlaylist resolves which playlist should be on screen at now.
//
// Candidates are playlists whose window contains now and that hold at least
// one plugin instance. The shortest window wins; ties keep collection order
// (stable sort), so override playlists defined first stay deterministic.
// Returns nil when nothing is active, leaving the display unchanged.
func (m *PlaylistManager) DetermineActivePlaylist(now time.Time) *Playlist {
	candidates := make([]*Playlist, 0, len(m.Playlists))
	for _, p := range m.Playlists {
		if p.IsActive(now) && len(p.Plugins) > 0 {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		m.ActivePlaylist = ""
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority() < candidates[j].Priority()
	})
	p := candidates[0]
	m.ActivePlaylist = p.Name
	return p
}

func (m *PlaylistManager) GetPlaylist(name string) *Playlist {
	for _, p := range m.Playlists {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (m *PlaylistManager) PlaylistNames() []string {
	names := make([]string, 0, len(m.Playlists))
	for _, p := range m.Playlists {
		names = append(names, p.Name)
	}
	return names
}

// AddPlaylist creates a new playlist. Empty window bounds default to the
// all-day window.
func (m *PlaylistManager) AddPlaylist(name, startTime, endTime string) error {
	if strings.TrimSpace(startTime) == "" {
		startTime = DefaultPlaylistStart
	}
	if strings.TrimSpace(endTime) == "" {
		endTime = DefaultPlaylistEnd
	}
	if m.GetPlaylist(name) != nil {
		return fmt.Errorf("%w: %q", ErrPlaylistExists, name)
	}
	p := NewPlaylist(name, startTime, endTime)
	if err := p.Validate(); err != nil {
		return err
	}
	m.Playlists = append(m.Playlists, p)
	return nil
}

// UpdatePlaylist renames a playlist and/or moves its window.
func (m *PlaylistManager) UpdatePlaylist(oldName, newName, startTime, endTime string) error {
	p := m.GetPlaylist(oldName)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrPlaylistNotFound, oldName)
	}
	if newName != oldName && m.GetPlaylist(newName) != nil {
		return fmt.Errorf("%w: %q", ErrPlaylistExists, newName)
	}
	next := *p
	next.Name = newName
	next.StartTime = startTime
	next.EndTime = endTime
	if err := next.Validate(); err != nil {
		return err
	}
	p.Name = newName
	p.StartTime = startTime
	p.EndTime = endTime
	if m.ActivePlaylist == oldName {
		m.ActivePlaylist = newName
	}
	return nil
}

func (m *PlaylistManager) DeletePlaylist(name string) error {
	for i, p := range m.Playlists {
		if p.Name == name {
			m.Playlists = append(m.Playlists[:i], m.Playlists[i+1:]...)
			if m.ActivePlaylist == name {
				m.ActivePlaylist = ""
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrPlaylistNotFound, name)
}

// AddPluginToPlaylist attaches an instance to the named playlist.
func (m *PlaylistManager) AddPluginToPlaylist(playlistName string, pi *PluginInstance) error {
	p := m.GetPlaylist(playlistName)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrPlaylistNotFound, playlistName)
	}
	return p.AddPlugin(pi)
}

// FindPlugin searches every playlist for the given instance.
func (m *PlaylistManager) FindPlugin(pluginID, name string) *PluginInstance {
	for _, p := range m.Playlists {
		if pi := p.FindPlugin(pluginID, name); pi != nil {
			return pi
		}
	}
	return nil
}
