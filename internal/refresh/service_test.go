package refresh

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"inkframe/internal/eventbus"
	"inkframe/internal/model"
)

func testImage(c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

type fakeGateway struct {
	mu    sync.Mutex
	calls int
	img   image.Image
	err   error

	// gate, when non-nil, blocks Render until closed.
	gate chan struct{}
}

func (g *fakeGateway) Render(ctx context.Context, pluginID string, settings map[string]string) (image.Image, error) {
	g.mu.Lock()
	g.calls++
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.img, nil
}

func (g *fakeGateway) renderCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeSink struct {
	mu     sync.Mutex
	writes int
	err    error
}

func (s *fakeSink) Write(ctx context.Context, img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes++
	return nil
}

func (s *fakeSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type fakeCache struct {
	mu     sync.Mutex
	frames map[string]image.Image
}

func newFakeCache() *fakeCache {
	return &fakeCache{frames: make(map[string]image.Image)}
}

func (c *fakeCache) Put(pi *model.PluginInstance, img image.Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames[pi.ImageFilename()] = img
	return nil
}

func (c *fakeCache) Get(pi *model.PluginInstance) (image.Image, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.frames[pi.ImageFilename()]
	return img, ok, nil
}

type fakePersist struct {
	mu    sync.Mutex
	saves int
	last  model.RefreshInfo
}

func (p *fakePersist) SaveState(pm *model.PlaylistManager, ri model.RefreshInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	p.last = ri
	return nil
}

func (p *fakePersist) saveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

func singlePlaylistModel(refresh model.RefreshPolicy, latest *time.Time) *model.PlaylistManager {
	pm := &model.PlaylistManager{
		Playlists: []*model.Playlist{
			{
				Name:      "Default",
				StartTime: "00:00",
				EndTime:   model.EndOfDay,
				Plugins: []*model.PluginInstance{
					{
						PluginID:      "clock",
						Name:          "Kitchen Clock",
						Refresh:       refresh,
						LatestRefresh: latest,
					},
				},
			},
		},
	}
	return pm
}

func TestManualRefreshWritesAndCommits(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{img: testImage(color.NRGBA{R: 255, A: 255})}
	sink := &fakeSink{}
	persist := &fakePersist{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s := New(Config{SleepInterval: time.Hour}, Deps{
		Gateway: gw,
		Sink:    sink,
		Persist: persist,
		Now:     func() time.Time { return now },
	})
	s.Start()
	defer s.Stop(context.Background())

	if err := s.ManualRefresh(context.Background(), "clock", map[string]string{"tz": "UTC"}); err != nil {
		t.Fatalf("ManualRefresh error: %v", err)
	}

	if got := sink.writeCount(); got != 1 {
		t.Fatalf("display writes = %d, want 1", got)
	}
	if got := persist.saveCount(); got != 1 {
		t.Fatalf("state saves = %d, want 1", got)
	}

	info := s.RefreshInfo()
	if info.RefreshType != model.RefreshTypeManual {
		t.Fatalf("RefreshType = %q, want %q", info.RefreshType, model.RefreshTypeManual)
	}
	if info.PluginID != "clock" {
		t.Fatalf("PluginID = %q, want clock", info.PluginID)
	}
	if info.ImageHash == "" {
		t.Fatal("expected non-empty image hash after commit")
	}
	if info.RefreshTime == nil || !info.RefreshTime.Equal(now) {
		t.Fatalf("RefreshTime = %v, want %v", info.RefreshTime, now)
	}
}

func TestManualRefreshRenderErrorNoCommit(t *testing.T) {
	t.Parallel()

	renderErr := errors.New("plugin exploded")
	gw := &fakeGateway{err: renderErr}
	sink := &fakeSink{}
	persist := &fakePersist{}

	s := New(Config{SleepInterval: time.Hour}, Deps{
		Gateway: gw,
		Sink:    sink,
		Persist: persist,
	})
	s.Start()
	defer s.Stop(context.Background())

	err := s.ManualRefresh(context.Background(), "clock", nil)
	if !errors.Is(err, renderErr) {
		t.Fatalf("ManualRefresh error = %v, want %v", err, renderErr)
	}

	if got := sink.writeCount(); got != 0 {
		t.Fatalf("display writes = %d, want 0 after render failure", got)
	}
	if got := persist.saveCount(); got != 0 {
		t.Fatalf("state saves = %d, want 0 after render failure", got)
	}
	if info := s.RefreshInfo(); info.RefreshTime != nil {
		t.Fatalf("RefreshInfo committed after failure: %+v", info)
	}
}

func TestDuplicateContentSkipsDisplayWrite(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{img: testImage(color.NRGBA{G: 128, A: 255})}
	sink := &fakeSink{}
	persist := &fakePersist{}

	s := New(Config{SleepInterval: time.Hour}, Deps{
		Gateway: gw,
		Sink:    sink,
		Persist: persist,
	})
	s.Start()
	defer s.Stop(context.Background())

	for i := 0; i < 2; i++ {
		if err := s.ManualRefresh(context.Background(), "clock", nil); err != nil {
			t.Fatalf("ManualRefresh %d error: %v", i, err)
		}
	}

	if got := sink.writeCount(); got != 1 {
		t.Fatalf("display writes = %d, want 1 (second frame identical)", got)
	}
	// Both cycles still commit their outcome.
	if got := persist.saveCount(); got != 2 {
		t.Fatalf("state saves = %d, want 2", got)
	}
}

func TestDisplayWriteFailureNoCommit(t *testing.T) {
	t.Parallel()

	writeErr := errors.New("panel busy")
	gw := &fakeGateway{img: testImage(color.NRGBA{B: 200, A: 255})}
	sink := &fakeSink{err: writeErr}
	persist := &fakePersist{}

	s := New(Config{SleepInterval: time.Hour}, Deps{
		Gateway: gw,
		Sink:    sink,
		Persist: persist,
	})
	s.Start()
	defer s.Stop(context.Background())

	err := s.ManualRefresh(context.Background(), "clock", nil)
	if !errors.Is(err, writeErr) {
		t.Fatalf("ManualRefresh error = %v, want %v", err, writeErr)
	}
	if got := persist.saveCount(); got != 0 {
		t.Fatalf("state saves = %d, want 0 after write failure", got)
	}
	if info := s.RefreshInfo(); info.ImageHash != "" {
		t.Fatalf("image hash committed after write failure: %q", info.ImageHash)
	}
}

func TestManualRefreshNotRunning(t *testing.T) {
	t.Parallel()

	s := New(Config{}, Deps{Gateway: &fakeGateway{}, Sink: &fakeSink{}})
	if err := s.ManualRefresh(context.Background(), "clock", nil); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("error = %v, want ErrNotRunning", err)
	}
}

func TestManualRefreshSupersede(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	gw := &fakeGateway{img: testImage(color.NRGBA{R: 10, A: 255}), gate: gate}
	sink := &fakeSink{}

	s := New(Config{SleepInterval: time.Hour}, Deps{Gateway: gw, Sink: sink})
	s.Start()
	defer s.Stop(context.Background())

	// First caller: dispatched by the worker, then blocked inside Render.
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.ManualRefresh(context.Background(), "one", nil)
	}()
	waitFor(t, func() bool { return gw.renderCalls() == 1 })

	// Second caller parks in the pending slot.
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- s.ManualRefresh(context.Background(), "two", nil)
	}()
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.pending != nil
	})

	// Third caller overwrites the slot; the second must be released at once.
	thirdDone := make(chan error, 1)
	go func() {
		thirdDone <- s.ManualRefresh(context.Background(), "three", nil)
	}()

	select {
	case err := <-secondDone:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("superseded caller error = %v, want ErrSuperseded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("superseded caller was not released")
	}

	close(gate)
	for name, ch := range map[string]chan error{"first": firstDone, "third": thirdDone} {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("%s caller error: %v", name, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s caller did not complete", name)
		}
	}
}

func TestManualRefreshWaitTimeout(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	gw := &fakeGateway{img: testImage(color.NRGBA{A: 255}), gate: gate}

	s := New(Config{SleepInterval: time.Hour, ManualWait: 50 * time.Millisecond}, Deps{
		Gateway: gw,
		Sink:    &fakeSink{},
	})
	s.Start()

	err := s.ManualRefresh(context.Background(), "slow", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}

	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}

func TestScheduledCycleRendersWhenDue(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{img: testImage(color.NRGBA{R: 42, A: 255})}
	sink := &fakeSink{}
	persist := &fakePersist{}
	cache := newFakeCache()
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	pm := singlePlaylistModel(model.RefreshPolicy{Interval: 300}, nil)
	s := New(Config{}, Deps{
		Model:   pm,
		Gateway: gw,
		Sink:    sink,
		Cache:   cache,
		Persist: persist,
		Now:     func() time.Time { return now },
	})

	s.scheduledCycle(context.Background())

	if got := gw.renderCalls(); got != 1 {
		t.Fatalf("render calls = %d, want 1", got)
	}
	if got := sink.writeCount(); got != 1 {
		t.Fatalf("display writes = %d, want 1", got)
	}

	pi := pm.Playlists[0].Plugins[0]
	if pi.LatestRefresh == nil || !pi.LatestRefresh.Equal(now) {
		t.Fatalf("LatestRefresh = %v, want %v", pi.LatestRefresh, now)
	}
	if _, ok, _ := cache.Get(pi); !ok {
		t.Fatal("expected rendered frame in cache")
	}

	info := s.RefreshInfo()
	if info.RefreshType != model.RefreshTypePlaylist {
		t.Fatalf("RefreshType = %q, want %q", info.RefreshType, model.RefreshTypePlaylist)
	}
	if info.PlaylistName != "Default" {
		t.Fatalf("PlaylistName = %q, want Default", info.PlaylistName)
	}
}

func TestScheduledCycleUsesCacheWhenNotDue(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{img: testImage(color.NRGBA{R: 1, A: 255})}
	sink := &fakeSink{}
	cache := newFakeCache()
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	recent := now.Add(-time.Minute)

	pm := singlePlaylistModel(model.RefreshPolicy{Interval: 300}, &recent)
	pi := pm.Playlists[0].Plugins[0]
	if err := cache.Put(pi, testImage(color.NRGBA{R: 99, A: 255})); err != nil {
		t.Fatalf("cache put: %v", err)
	}

	s := New(Config{}, Deps{
		Model:   pm,
		Gateway: gw,
		Sink:    sink,
		Cache:   cache,
		Now:     func() time.Time { return now },
	})

	s.scheduledCycle(context.Background())

	if got := gw.renderCalls(); got != 0 {
		t.Fatalf("render calls = %d, want 0 (cached frame should be used)", got)
	}
	if got := sink.writeCount(); got != 1 {
		t.Fatalf("display writes = %d, want 1", got)
	}
	if !pi.LatestRefresh.Equal(recent) {
		t.Fatalf("LatestRefresh changed on cached display: %v", pi.LatestRefresh)
	}
}

func TestScheduledCycleNothingToShow(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	sink := &fakeSink{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{}, Deps{Gateway: gw, Sink: sink, Bus: bus})
	s.scheduledCycle(context.Background())

	if got := gw.renderCalls(); got != 0 {
		t.Fatalf("render calls = %d, want 0", got)
	}
	if got := sink.writeCount(); got != 0 {
		t.Fatalf("display writes = %d, want 0", got)
	}
	if info := s.RefreshInfo(); info.RefreshTime != nil {
		t.Fatalf("unexpected commit: %+v", info)
	}
	// An idle tick announces itself as idle, not as a refresh result.
	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeRefreshIdle {
			t.Fatalf("event type = %q, want %q", ev.Type, eventbus.TypeRefreshIdle)
		}
	default:
		t.Fatal("expected an idle event on the bus")
	}
}

func TestPlaylistRefreshForceBypassesPolicy(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{img: testImage(color.NRGBA{G: 7, A: 255})}
	sink := &fakeSink{}
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	recent := now.Add(-time.Second)

	pm := singlePlaylistModel(model.RefreshPolicy{Interval: 3600}, &recent)
	s := New(Config{SleepInterval: time.Hour}, Deps{
		Model:   pm,
		Gateway: gw,
		Sink:    sink,
		Cache:   newFakeCache(),
		Now:     func() time.Time { return now },
	})
	s.Start()
	defer s.Stop(context.Background())

	err := s.PlaylistRefresh(context.Background(), "Default", "clock", "Kitchen Clock", true, false)
	if err != nil {
		t.Fatalf("PlaylistRefresh error: %v", err)
	}
	if got := gw.renderCalls(); got != 1 {
		t.Fatalf("render calls = %d, want 1 (force ignores interval)", got)
	}
}

func TestPlaylistRefreshUnknownInstance(t *testing.T) {
	t.Parallel()

	pm := singlePlaylistModel(model.RefreshPolicy{Interval: 60}, nil)
	s := New(Config{SleepInterval: time.Hour}, Deps{
		Model:   pm,
		Gateway: &fakeGateway{},
		Sink:    &fakeSink{},
	})
	s.Start()
	defer s.Stop(context.Background())

	err := s.PlaylistRefresh(context.Background(), "Default", "clock", "No Such Instance", false, false)
	if !errors.Is(err, model.ErrInstanceNotFound) {
		t.Fatalf("error = %v, want ErrInstanceNotFound", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
