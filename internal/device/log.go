// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"image"
	"log/slog"
	"sync"

	"golang.org/x/image/draw"
)

// LogSurface is a headless animation surface that logs a digest of each
// rendered frame.
type LogSurface struct {
	log   *slog.Logger
	level slog.Level

	mu      sync.Mutex
	renders int
	clears  int
}

// NewLogSurface returns a new LogSurface logging renders at the given level.
func NewLogSurface(log *slog.Logger, level slog.Level) *LogSurface {
	return &LogSurface{
		log:   log.With(slog.String("component", "device.log_surface")),
		level: level,
	}
}

// Render implements the animation.Surface interface.
func (s *LogSurface) Render(img image.Image) error {
	s.mu.Lock()
	s.renders++
	n := s.renders
	s.mu.Unlock()
	ctx := context.Background()
	if !s.log.Enabled(ctx, s.level) {
		return nil
	}
	s.log.LogAttrs(ctx, s.level, "render",
		slog.Int("n", n),
		slog.String("bounds", img.Bounds().String()),
		slog.String("sum", digest(img)),
	)
	return nil
}

// Clear implements the animation.Surface interface.
func (s *LogSurface) Clear() error {
	s.mu.Lock()
	s.clears++
	s.mu.Unlock()
	s.log.LogAttrs(context.Background(), s.level, "clear")
	return nil
}

// Counts returns the number of renders and clears made.
func (s *LogSurface) Counts() (renders, clears int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renders, s.clears
}

// digest returns a short SHA-1 digest of the image's pixels.
func digest(img image.Image) string {
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		b := img.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	}
	h := sha1.New()
	w := rgba.Rect.Dx() * 4
	for y := 0; y < rgba.Rect.Dy(); y++ {
		off := y * rgba.Stride
		h.Write(rgba.Pix[off : off+w])
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
