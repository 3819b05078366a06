// Package display wraps the physical e-paper panel behind a narrow sink
// contract and adds the policies the hardware needs: a minimum spacing
// between writes and a copy of the last displayed frame on disk.
package display

import (
	"context"
	"errors"
	"image"
	"time"

	"golang.org/x/time/rate"

	"inkframe/internal/imaging"
	logx "inkframe/pkg/logx"
)

// Sink is the panel driver contract. Write is synchronous and potentially
// slow (hundreds of ms to seconds on real e-paper hardware).
type Sink interface {
	Write(ctx context.Context, img image.Image, settings []string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, img image.Image, settings []string) error

func (f SinkFunc) Write(ctx context.Context, img image.Image, settings []string) error {
	return f(ctx, img, settings)
}

type Config struct {
	// MinWriteInterval spaces out physical panel writes. E-paper panels
	// degrade (and flicker visibly) under rapid refresh; 0 disables the
	// limiter.
	MinWriteInterval time.Duration

	// CurrentImagePath, if set, receives a PNG copy of every frame written
	// so the web UI can show what is on the panel.
	CurrentImagePath string

	// Settings are passed through to the sink on every write
	// (driver-specific flags such as "saturation=0.7").
	Settings []string
}

// Manager serializes frames onto the sink. The orchestrator is its only
// caller, so there is no internal locking; the limiter is the only shared
// state and is goroutine-safe by itself.
type Manager struct {
	sink    Sink
	log     logx.Logger
	cfg     Config
	limiter *rate.Limiter
}

func NewManager(sink Sink, cfg Config, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	var lim *rate.Limiter
	if cfg.MinWriteInterval > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.MinWriteInterval), 1)
	}
	return &Manager{sink: sink, log: log, cfg: cfg, limiter: lim}
}

// Write pushes a frame to the panel, honoring the minimum write spacing.
// It blocks until the limiter admits the write or ctx is done.
func (m *Manager) Write(ctx context.Context, img image.Image) error {
	if img == nil {
		return errors.New("display: nil image")
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	if err := m.sink.Write(ctx, img, m.cfg.Settings); err != nil {
		return err
	}
	m.log.Info("display updated", logx.Duration("took", time.Since(start)))

	// Best-effort UI copy; a failed save never fails the cycle.
	if m.cfg.CurrentImagePath != "" {
		if err := imaging.SavePNG(m.cfg.CurrentImagePath, img); err != nil {
			m.log.Warn("current image save failed", logx.Err(err), logx.String("path", m.cfg.CurrentImagePath))
		}
	}
	return nil
}
