package model

import "time"

// Refresh types recorded in RefreshInfo.
const (
	RefreshTypeManual   = "Manual Update"
	RefreshTypePlaylist = "Playlist"
)

// RefreshInfo is the outcome record of the most recent successful refresh.
// The orchestrator overwrites it wholesale at the end of a committed cycle;
// a failed cycle leaves it untouched.
type RefreshInfo struct {
	RefreshTime  *time.Time `json:"refresh_time,omitempty"`
	RefreshType  string     `json:"refresh_type,omitempty"`
	PluginID     string     `json:"plugin_id,omitempty"`
	PlaylistName string     `json:"playlist_name,omitempty"`
	Instance     string     `json:"plugin_instance,omitempty"`

	// ImageHash is the content digest of the last frame physically written
	// (or confirmed identical). The dedup layer compares against it.
	ImageHash string `json:"image_hash,omitempty"`
}
