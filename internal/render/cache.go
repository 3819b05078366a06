package render

import (
	"image"
	"os"
	"path/filepath"

	"inkframe/internal/imaging"
	"inkframe/internal/model"
)

// FrameCache stores the last rendered frame of each plugin instance on disk.
//
// When an instance is not due for refresh, the orchestrator reads the cached
// frame instead of calling the renderer. That is what makes repeated cycles
// of a low-frequency instance cheap: panel rotation continues without
// re-rendering content that has not gone stale.
type FrameCache struct {
	dir string
}

func NewFrameCache(dir string) *FrameCache {
	return &FrameCache{dir: dir}
}

func (c *FrameCache) path(pi *model.PluginInstance) string {
	return filepath.Join(c.dir, pi.ImageFilename())
}

// Put saves the instance's freshly rendered frame.
func (c *FrameCache) Put(pi *model.PluginInstance, img image.Image) error {
	return imaging.SavePNG(c.path(pi), img)
}

// Get loads the instance's cached frame. ok is false when no frame has been
// cached yet (first cycle after an instance is added, or cache dir wiped).
func (c *FrameCache) Get(pi *model.PluginInstance) (img image.Image, ok bool, err error) {
	img, err = imaging.LoadPNG(c.path(pi))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return img, true, nil
}
