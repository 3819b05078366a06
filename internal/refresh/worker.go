package refresh

import (
	"context"
	"fmt"
	"image"
	"runtime/debug"
	"time"

	"inkframe/internal/eventbus"
	"inkframe/internal/imaging"
	"inkframe/internal/model"
	"inkframe/internal/storage"
	logx "inkframe/pkg/logx"
)

func (s *Service) run(stopCh <-chan struct{}) {
	for {
		s.cfgMu.Lock()
		sleep := s.cfg.SleepInterval
		s.cfgMu.Unlock()

		timer := time.NewTimer(sleep)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-s.wakeCh:
			timer.Stop()
		case <-timer.C:
		}

		// Fast-exit check so Stop() wins over a queued wake.
		select {
		case <-stopCh:
			return
		default:
		}

		s.cycle()
	}
}

// cycle runs exactly one Dispatching -> Rendering -> Committing pass.
// It never panics out: a blown cycle is logged and the worker keeps waiting.
func (s *Service) cycle() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in refresh cycle", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	ctx := context.Background()

	// Dispatching: a pending trigger request strictly preempts the
	// scheduled path for this cycle.
	s.mu.Lock()
	req := s.pending
	s.pending = nil
	s.mu.Unlock()

	if req != nil {
		req.complete(s.execute(ctx, req))
		return
	}

	s.scheduledCycle(ctx)
}

func (s *Service) execute(ctx context.Context, req *request) error {
	switch {
	case req.manual != nil:
		s.log.Info("manual update requested", logx.String("plugin", req.manual.pluginID))
		return s.runManual(ctx, req.manual)
	case req.playlist != nil:
		pr := req.playlist
		s.mu.Lock()
		pl := s.pm.GetPlaylist(pr.playlistName)
		var pi *model.PluginInstance
		if pl != nil {
			pi = pl.FindPlugin(pr.pluginID, pr.instanceName)
		}
		s.mu.Unlock()
		if pl == nil {
			return fmt.Errorf("%w: %q", model.ErrPlaylistNotFound, pr.playlistName)
		}
		if pi == nil {
			return fmt.Errorf("%w: %s/%s in playlist %q", model.ErrInstanceNotFound, pr.pluginID, pr.instanceName, pr.playlistName)
		}
		return s.runPlaylist(ctx, pl, pi, pr.force, pr.regenerate)
	default:
		return fmt.Errorf("empty refresh request")
	}
}

func (s *Service) scheduledCycle(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	pl := s.pm.DetermineActivePlaylist(now)
	var pi *model.PluginInstance
	if pl != nil {
		pi = pl.NextPlugin()
	}
	s.mu.Unlock()

	if pl == nil || pi == nil {
		s.log.Debug("no plugin to display")
		s.publish(eventbus.TypeRefreshIdle, eventbus.RefreshEvent{RefreshType: model.RefreshTypePlaylist})
		return
	}

	s.log.Debug("running interval refresh check",
		logx.String("playlist", pl.Name),
		logx.String("plugin", pi.PluginID),
		logx.String("instance", pi.Name))

	if err := s.runPlaylist(ctx, pl, pi, false, false); err != nil {
		// Scheduled failures are silent to the UI but visible in logs.
		s.log.Warn("scheduled refresh failed",
			logx.Err(err),
			logx.String("playlist", pl.Name),
			logx.String("plugin", pi.PluginID),
			logx.String("instance", pi.Name))
	}
}

func (s *Service) runManual(ctx context.Context, mr *manualRequest) error {
	start := s.now()
	img, err := s.gateway.Render(ctx, mr.pluginID, mr.settings)
	if err != nil {
		s.publish(eventbus.TypeRefreshFailed, eventbus.RefreshEvent{
			RefreshType: model.RefreshTypeManual, PluginID: mr.pluginID, Err: err.Error(),
		})
		return err
	}
	return s.commit(ctx, img, cycleMeta{
		refreshType: model.RefreshTypeManual,
		pluginID:    mr.pluginID,
		start:       start,
	})
}

func (s *Service) runPlaylist(ctx context.Context, pl *model.Playlist, pi *model.PluginInstance, force, regenerate bool) error {
	start := s.now()

	// force bypasses the policy check; regenerate bypasses the cache read.
	// The dedup hash check downstream is orthogonal to both.
	needRender := force || regenerate || pi.ShouldRefresh(start)

	var (
		img    image.Image
		cached bool
	)
	if !needRender {
		if s.cache == nil {
			needRender = true
		} else {
			cachedImg, ok, err := s.cache.Get(pi)
			switch {
			case err != nil:
				s.log.Warn("cached image unreadable; re-rendering", logx.Err(err),
					logx.String("plugin", pi.PluginID), logx.String("instance", pi.Name))
				needRender = true
			case ok:
				s.log.Debug("using cached image", logx.String("plugin", pi.PluginID), logx.String("instance", pi.Name))
				img = cachedImg
				cached = true
			default:
				// Nothing cached yet (fresh instance); render after all.
				needRender = true
			}
		}
	}

	if needRender {
		s.log.Info("refreshing plugin", logx.String("plugin", pi.PluginID), logx.String("instance", pi.Name))
		rendered, err := s.gateway.Render(ctx, pi.PluginID, pi.Settings)
		if err != nil {
			s.publish(eventbus.TypeRefreshFailed, eventbus.RefreshEvent{
				RefreshType: model.RefreshTypePlaylist, PluginID: pi.PluginID,
				Playlist: pl.Name, Instance: pi.Name, Err: err.Error(),
			})
			return err
		}
		img = rendered
		if s.cache != nil {
			if err := s.cache.Put(pi, img); err != nil {
				s.log.Warn("frame cache write failed", logx.Err(err),
					logx.String("plugin", pi.PluginID), logx.String("instance", pi.Name))
			}
		}
	}

	return s.commit(ctx, img, cycleMeta{
		refreshType: model.RefreshTypePlaylist,
		pluginID:    pi.PluginID,
		playlist:    pl.Name,
		instance:    pi,
		rendered:    needRender,
		cached:      cached,
		start:       start,
	})
}

type cycleMeta struct {
	refreshType string
	pluginID    string
	playlist    string

	// instance is set for playlist cycles; its LatestRefresh is stamped at
	// commit time when the frame was freshly rendered.
	instance *model.PluginInstance
	rendered bool
	cached   bool

	start time.Time
}

// commit is the only place that touches the display, RefreshInfo and the
// persisted state. On any error before the state update, nothing is
// committed: RefreshInfo keeps its pre-cycle value.
func (s *Service) commit(ctx context.Context, img image.Image, meta cycleMeta) error {
	hash := imaging.Hash(img)

	s.mu.Lock()
	lastHash := s.info.ImageHash
	s.mu.Unlock()

	skipped := hash != "" && hash == lastHash
	if skipped {
		s.log.Info("display content unchanged, skipping write",
			logx.String("plugin", meta.pluginID), logx.String("hash", hash[:12]))
	} else {
		s.log.Info("refreshing display", logx.String("plugin", meta.pluginID))
		if err := s.sink.Write(ctx, img); err != nil {
			s.publish(eventbus.TypeRefreshFailed, eventbus.RefreshEvent{
				RefreshType: meta.refreshType, PluginID: meta.pluginID,
				Playlist: meta.playlist, Err: err.Error(),
			})
			return fmt.Errorf("display write: %w", err)
		}
		s.publish(eventbus.TypeDisplayWrite, eventbus.RefreshEvent{
			RefreshType: meta.refreshType, PluginID: meta.pluginID, Playlist: meta.playlist,
		})
	}

	committedAt := s.now()
	s.mu.Lock()
	if meta.instance != nil && meta.rendered {
		t := meta.start
		meta.instance.LatestRefresh = &t
	}
	s.info = model.RefreshInfo{
		RefreshTime:  &committedAt,
		RefreshType:  meta.refreshType,
		PluginID:     meta.pluginID,
		PlaylistName: meta.playlist,
		ImageHash:    hash,
	}
	if meta.instance != nil {
		s.info.Instance = meta.instance.Name
	}
	pm := s.pm
	info := s.info
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveState(pm, info); err != nil {
			s.log.Error("state persist failed", logx.Err(err))
			return fmt.Errorf("persist state: %w", err)
		}
	}

	s.appendHistory(meta, hash, skipped, committedAt)
	ev := eventbus.RefreshEvent{
		RefreshType:  meta.refreshType,
		PluginID:     meta.pluginID,
		Playlist:     meta.playlist,
		Cached:       meta.cached,
		WriteSkipped: skipped,
		Took:         committedAt.Sub(meta.start),
	}
	if meta.instance != nil {
		ev.Instance = meta.instance.Name
	}
	s.publish(eventbus.TypeRefreshCompleted, ev)
	return nil
}

func (s *Service) appendHistory(meta cycleMeta, hash string, skipped bool, at time.Time) {
	if s.history == nil {
		return
	}
	e := storage.RefreshEntry{
		At:           at,
		RefreshType:  meta.refreshType,
		PluginID:     meta.pluginID,
		Playlist:     meta.playlist,
		ImageHash:    hash,
		Cached:       meta.cached,
		WriteSkipped: skipped,
		TookMS:       at.Sub(meta.start).Milliseconds(),
	}
	if meta.instance != nil {
		e.Instance = meta.instance.Name
	}
	hctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.history.AppendRefresh(hctx, e); err != nil {
		s.log.Debug("history append failed", logx.Err(err))
	}
}

func (s *Service) publish(typ string, data eventbus.RefreshEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
