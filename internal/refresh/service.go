package refresh

import (
	"context"
	"time"

	"inkframe/internal/model"
	logx "inkframe/pkg/logx"
)

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	pm := deps.Model
	if pm == nil {
		pm = &model.PlaylistManager{}
	}
	pm.EnsureDefault()

	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		gateway: deps.Gateway,
		sink:    deps.Sink,
		cache:   deps.Cache,
		persist: deps.Persist,
		history: deps.History,
		bus:     deps.Bus,
		now:     now,
		pm:      pm,
		info:    deps.Info,
		wakeCh:  make(chan struct{}, 1),
	}
}

// Start spawns the worker. Idempotent while running.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.log.Info("starting refresh task")
	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.run(stopCh)
	}()
}

// Stop prevents the next cycle from starting and waits for the worker to
// exit, bounded by ctx. A render already in progress runs to completion;
// there is no mid-render cancellation.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopCh := s.stopCh
	s.stopCh = nil
	// A request still parked in the slot will never be dispatched.
	if s.pending != nil {
		s.pending.complete(ErrNotRunning)
		s.pending = nil
	}
	s.mu.Unlock()

	s.log.Info("stopping refresh task")
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the worker is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Apply updates the orchestrator's timing knobs at runtime and wakes the
// worker so a shortened sleep interval takes effect immediately.
func (s *Service) Apply(cfg Config) {
	s.cfgMu.Lock()
	s.cfg = cfg.withDefaults()
	s.cfgMu.Unlock()
	s.wake()
}

// ReplaceModel swaps in externally edited schedule state (config reload).
// The refresh outcome record is adopted as well so the dedup hash follows
// whatever the operator restored.
func (s *Service) ReplaceModel(pm *model.PlaylistManager, info model.RefreshInfo) {
	pm.EnsureDefault()
	s.mu.Lock()
	s.pm = pm
	s.info = info
	s.mu.Unlock()
	s.wake()
}

// RefreshInfo returns a copy of the last committed refresh outcome.
func (s *Service) RefreshInfo() model.RefreshInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// ManualRefresh renders the given plugin with ad hoc settings and displays
// the result, bypassing playlist scheduling. It blocks until the cycle
// completes (or the manual wait bound expires) and returns the cycle's error.
func (s *Service) ManualRefresh(ctx context.Context, pluginID string, settings map[string]string) error {
	return s.submit(ctx, &request{
		manual: &manualRequest{pluginID: pluginID, settings: settings},
		done:   make(chan error, 1),
	})
}

// PlaylistRefresh refreshes one specific playlist instance out of band.
// force bypasses the instance's refresh policy; regenerate additionally
// bypasses the per-instance frame cache. Blocks like ManualRefresh.
func (s *Service) PlaylistRefresh(ctx context.Context, playlistName, pluginID, instanceName string, force, regenerate bool) error {
	return s.submit(ctx, &request{
		playlist: &playlistRequest{
			playlistName: playlistName,
			pluginID:     pluginID,
			instanceName: instanceName,
			force:        force,
			regenerate:   regenerate,
		},
		done: make(chan error, 1),
	})
}

// SignalConfigChanged wakes the worker without queuing a request, so a new
// sleep interval or schedule edit is picked up without waiting out the old
// timeout.
func (s *Service) SignalConfigChanged() {
	s.wake()
}

func (s *Service) submit(ctx context.Context, req *request) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.log.Warn("refresh task is not running, unable to process request")
		return ErrNotRunning
	}
	// Depth-1 slot: a newer request overwrites an undispatched older one,
	// but the older caller is released with a definite result.
	if s.pending != nil {
		s.pending.complete(ErrSuperseded)
	}
	s.pending = req
	s.mu.Unlock()

	s.wake()

	s.cfgMu.Lock()
	wait := s.cfg.ManualWait
	s.cfgMu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case err := <-req.done:
		return err
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
		// already signaled
	}
}

func (r *request) complete(err error) {
	select {
	case r.done <- err:
	default:
	}
}
