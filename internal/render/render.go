// Package render maps plugin ids to content renderers and invokes them on
// behalf of the refresh orchestrator.
//
// Renderers are external collaborators: they may hit the network, take
// seconds, or fail arbitrarily. This package's gateway bounds each call with
// a timeout and converts panics into errors so a misbehaving plugin can never
// kill the worker loop.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "inkframe/pkg/logx"
)

var ErrUnknownPlugin = errors.New("unknown plugin")

// Renderer produces a frame from opaque instance settings.
type Renderer interface {
	Render(ctx context.Context, settings map[string]string) (image.Image, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, settings map[string]string) (image.Image, error)

func (f RendererFunc) Render(ctx context.Context, settings map[string]string) (image.Image, error) {
	return f(ctx, settings)
}

// Registry maps plugin ids to renderers. Registration usually happens once
// at boot, but the registry is safe for concurrent use so plugins can be
// added while the daemon runs.
type Registry struct {
	mu  sync.RWMutex
	reg map[string]Renderer
}

func NewRegistry() *Registry {
	return &Registry{reg: map[string]Renderer{}}
}

func (r *Registry) Register(pluginID string, renderer Renderer) error {
	if pluginID == "" {
		return errors.New("plugin id is required")
	}
	if renderer == nil {
		return fmt.Errorf("plugin %q: nil renderer", pluginID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.reg[pluginID]; dup {
		return fmt.Errorf("plugin %q already registered", pluginID)
	}
	r.reg[pluginID] = renderer
	return nil
}

func (r *Registry) Lookup(pluginID string) (Renderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rd, ok := r.reg[pluginID]
	return rd, ok
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.reg))
	for id := range r.reg {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Gateway is the single entry point through which the orchestrator renders.
type Gateway struct {
	reg *Registry
	log logx.Logger

	// timeout bounds a single render call; 0 means unbounded.
	timeout time.Duration
}

func NewGateway(reg *Registry, timeout time.Duration, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{reg: reg, log: log, timeout: timeout}
}

// Render invokes the plugin's renderer once.
//
// The call is serialized by the orchestrator (one render in flight per
// process); this method adds the timeout bound and panic containment.
func (g *Gateway) Render(ctx context.Context, pluginID string, settings map[string]string) (img image.Image, err error) {
	renderer, ok := g.reg.Lookup(pluginID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, pluginID)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			g.log.Error("panic in renderer",
				logx.String("plugin", pluginID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			img = nil
			err = fmt.Errorf("plugin %q panicked: %v", pluginID, r)
		}
	}()

	start := time.Now()
	img, err = renderer.Render(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("plugin %q: %w", pluginID, err)
	}
	if img == nil {
		return nil, fmt.Errorf("plugin %q returned no image", pluginID)
	}
	g.log.Debug("render completed", logx.String("plugin", pluginID), logx.Duration("took", time.Since(start)))
	return img, nil
}
