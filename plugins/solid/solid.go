// Package solid renders a single flat color. It exists so a freshly
// provisioned device can put something on the panel before any real
// content plugins are installed, and doubles as the smallest possible
// renderer example.
package solid

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"inkframe/internal/render"
)

const ID = "solid"

func Register(reg *render.Registry) error {
	return reg.Register(ID, render.RendererFunc(renderFrame))
}

func renderFrame(ctx context.Context, settings map[string]string) (image.Image, error) {
	c, err := parseColor(settings["color"])
	if err != nil {
		return nil, err
	}
	w := parseDim(settings["width"], 800)
	h := parseDim(settings["height"], 480)

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img, nil
}

func parseDim(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// parseColor accepts "#RRGGBB". Empty means white.
func parseColor(raw string) (color.NRGBA, error) {
	if raw == "" {
		return color.NRGBA{R: 255, G: 255, B: 255, A: 255}, nil
	}
	if len(raw) != 7 || raw[0] != '#' {
		return color.NRGBA{}, fmt.Errorf("solid: bad color %q, want #RRGGBB", raw)
	}
	v, err := strconv.ParseUint(raw[1:], 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("solid: bad color %q: %w", raw, err)
	}
	return color.NRGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 255,
	}, nil
}
