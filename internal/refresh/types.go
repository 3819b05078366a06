package refresh

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"inkframe/internal/eventbus"
	"inkframe/internal/model"
	"inkframe/internal/storage"
	logx "inkframe/pkg/logx"
)

var (
	// ErrNotRunning is returned for trigger calls made while the worker is stopped.
	ErrNotRunning = errors.New("refresh task is not running")

	// ErrSuperseded completes a manual caller whose request was overwritten
	// in the pending slot before the worker dispatched it.
	ErrSuperseded = errors.New("request superseded by a newer manual request")

	// ErrTimeout is returned to a blocked caller when the worker did not
	// finish its cycle within the manual wait bound.
	ErrTimeout = errors.New("timed out waiting for refresh to complete")
)

// Config controls the orchestrator.
type Config struct {
	// SleepInterval is the worker's wait between scheduled cycles.
	SleepInterval time.Duration

	// ManualWait bounds how long a blocked trigger caller waits for its
	// cycle to complete. The worker itself is never unblocked by this.
	ManualWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.SleepInterval <= 0 {
		c.SleepInterval = 30 * time.Second
	}
	if c.ManualWait <= 0 {
		c.ManualWait = 60 * time.Second
	}
	return c
}

// Gateway renders content for a plugin id. Implemented by render.Gateway.
type Gateway interface {
	Render(ctx context.Context, pluginID string, settings map[string]string) (image.Image, error)
}

// Sink writes a frame to the physical display. Implemented by display.Manager.
type Sink interface {
	Write(ctx context.Context, img image.Image) error
}

// FrameCache is the per-instance image cache. Implemented by render.FrameCache.
type FrameCache interface {
	Put(pi *model.PluginInstance, img image.Image) error
	Get(pi *model.PluginInstance) (img image.Image, ok bool, err error)
}

// Persistence saves the schedule model and refresh outcome in one atomic
// replace. Implemented by config.Manager.
type Persistence interface {
	SaveState(pm *model.PlaylistManager, ri model.RefreshInfo) error
}

// Deps are the orchestrator's collaborators, injected at construction so
// tests can swap in fakes.
type Deps struct {
	Model   *model.PlaylistManager
	Info    model.RefreshInfo
	Gateway Gateway
	Sink    Sink
	Cache   FrameCache
	Persist Persistence

	// History is optional (nil disables); appends are best-effort.
	History storage.Store
	// Bus is optional (nil disables event publishing).
	Bus eventbus.Bus

	Log logx.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// request is the transient unit of work in the pending slot.
//
// Exactly one of manual/playlist is set. done is buffered so the worker's
// completion send never blocks, even after the caller gave up waiting.
type request struct {
	manual   *manualRequest
	playlist *playlistRequest

	done chan error
}

type manualRequest struct {
	pluginID string
	settings map[string]string
}

type playlistRequest struct {
	playlistName string
	pluginID     string
	instanceName string
	force        bool
	regenerate   bool
}

// Service is the refresh orchestrator. One instance per process.
type Service struct {
	cfgMu sync.Mutex
	cfg   Config

	log     logx.Logger
	gateway Gateway
	sink    Sink
	cache   FrameCache
	persist Persistence
	history storage.Store
	bus     eventbus.Bus
	now     func() time.Time

	// mu guards the schedule model, refresh info, pending slot and running
	// flag. Producers take it to install requests; the worker takes it to
	// dispatch and commit. It is never held across a render or a display
	// write.
	mu      sync.Mutex
	pm      *model.PlaylistManager
	info    model.RefreshInfo
	pending *request
	running bool

	stopCh   chan struct{}
	wakeCh   chan struct{}
	workerWG sync.WaitGroup
}
