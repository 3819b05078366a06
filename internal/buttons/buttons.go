// Package buttons turns physical button presses into refresh actions.
//
// The package does not talk to hardware itself. A Source delivers Press
// events (from a GPIO bridge, a named pipe, a test fake) and the Manager
// maps each press to an action the application registered: refresh the
// current plugin, advance the rotation, and so on. Bindings come from the
// device config as "<button>_<kind>" keys, e.g. "a_short" or "d_long".
package buttons

import (
	"context"
	"sync"

	logx "inkframe/pkg/logx"
)

// Press is one physical button event.
type Press struct {
	// Button is the lowercase button label ("a".."d" on the stock hat).
	Button string
	// Long marks a long press (held past the source's threshold).
	Long bool
}

// Key returns the binding key for this press, e.g. "a_short".
func (p Press) Key() string {
	if p.Long {
		return p.Button + "_long"
	}
	return p.Button + "_short"
}

// Source delivers button presses. The channel is closed when the source
// shuts down.
type Source interface {
	Events() <-chan Press
}

// ActionFunc runs one bound action. Errors are logged, not propagated;
// a button press has no caller to report to.
type ActionFunc func(ctx context.Context) error

// DefaultBindings are used for any press kind the config does not map.
var DefaultBindings = map[string]string{
	"a_short": "refresh",
	"b_short": "advance",
}

// Manager resolves presses to actions and runs them.
type Manager struct {
	log      logx.Logger
	bindings map[string]string

	mu      sync.Mutex
	actions map[string]ActionFunc
}

// NewManager builds a manager with the given binding overrides layered on
// top of DefaultBindings. An empty-string binding disables that key.
func NewManager(bindings map[string]string, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	merged := make(map[string]string, len(DefaultBindings)+len(bindings))
	for k, v := range DefaultBindings {
		merged[k] = v
	}
	for k, v := range bindings {
		merged[k] = v
	}
	return &Manager{
		log:      log,
		bindings: merged,
		actions:  make(map[string]ActionFunc),
	}
}

// Bind registers the function behind an action name.
func (m *Manager) Bind(name string, fn ActionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[name] = fn
}

// Run consumes presses until ctx is done or the source closes its channel.
func (m *Manager) Run(ctx context.Context, src Source) {
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-events:
			if !ok {
				return
			}
			m.dispatch(ctx, p)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, p Press) {
	key := p.Key()
	name, ok := m.bindings[key]
	if !ok || name == "" {
		m.log.Debug("unbound button press", logx.String("key", key))
		return
	}

	m.mu.Lock()
	fn := m.actions[name]
	m.mu.Unlock()
	if fn == nil {
		m.log.Warn("button bound to unknown action",
			logx.String("key", key), logx.String("action", name))
		return
	}

	m.log.Info("button press", logx.String("key", key), logx.String("action", name))
	if err := fn(ctx); err != nil {
		m.log.Warn("button action failed",
			logx.String("action", name), logx.Err(err))
	}
}
