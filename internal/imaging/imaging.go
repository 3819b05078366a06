// Package imaging provides the content digest used by the dedup layer and
// the PNG read/write helpers used by the per-instance frame cache.
package imaging

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
)

// Hash returns a hex digest of an image's pixel content.
//
// The digest covers pixel data and dimensions only, never encoding metadata,
// so re-encoding or re-reading the same frame hashes identically. Two frames
// with equal hashes are never both written to the panel.
func Hash(img image.Image) string {
	if img == nil {
		return ""
	}
	h := sha256.New()

	b := img.Bounds()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[0:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(dims[4:8], uint32(b.Dy()))
	_, _ = h.Write(dims[:])

	// Normalize through a zero-origin NRGBA so the digest is independent of
	// the source image's in-memory representation (paletted, YCbCr, gray,
	// sub-images with a shifted origin, ...).
	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		tmp := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(tmp, tmp.Bounds(), img, b.Min, draw.Src)
		nrgba = tmp
	}
	_, _ = h.Write(nrgba.Pix)

	return hex.EncodeToString(h.Sum(nil))
}

// SavePNG atomically writes img to path (temp file + rename).
func SavePNG(path string, img image.Image) error {
	if img == nil {
		return fmt.Errorf("save %s: nil image", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadPNG reads a frame previously written by SavePNG.
func LoadPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
