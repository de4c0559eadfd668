// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package device provides animation display surfaces.
package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kortschak/ardilla"
)

// Surface is an El Gato Stream Deck key used as an animation display
// surface.
type Surface struct {
	deck     lockedDeck
	row, col int
	cache    *Cache
	blank    image.Image
	log      *slog.Logger

	model  ardilla.PID
	serial string
}

// ErrClosed is returned when drawing to a closed device.
var ErrClosed = errors.New("device closed")

// lockedDeck is a lock-protected [ardilla.Deck].
type lockedDeck struct {
	mu     sync.Mutex
	closed bool
	*ardilla.Deck
}

// SetImage renders the provided image on the button at the given row and
// column. If img is a *RawImage the internal representation will be used
// directly. RawImage values may not be shared between different products.
func (d *lockedDeck) SetImage(row, col int, img image.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.Deck.SetImage(row, col, img)
}

// Reset clears all button images and shows the standby image.
func (d *lockedDeck) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.Deck.Reset()
}

// Close resets and closes the deck. Subsequent draws return ErrClosed.
func (d *lockedDeck) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.Deck.Reset()
	return d.Deck.Close()
}

// NewSurface returns a new surface displaying on the key at row and col of
// a Stream Deck. The pid and serial parameters are interpreted according to
// the documentation for [ardilla.NewDeck].
func NewSurface(ctx context.Context, pid ardilla.PID, serial string, row, col int, log *slog.Logger) (*Surface, error) {
	deck, err := ardilla.NewDeck(pid, serial)
	if err != nil {
		return nil, err
	}
	if serial == "" {
		serial, err = deck.Serial()
		if err != nil {
			deck.Close()
			return nil, err
		}
	}
	rows, cols := deck.Layout()
	if row < 0 || rows <= row || col < 0 || cols <= col {
		deck.Close()
		return nil, fmt.Errorf("key position out of bounds: (%d,%d) not in %dx%d", row, col, rows, cols)
	}
	bounds, err := deck.Bounds()
	if err != nil {
		deck.Close()
		return nil, err
	}
	s := &Surface{
		deck:   lockedDeck{Deck: deck},
		row:    row,
		col:    col,
		blank:  swatch{&image.Uniform{color.Black}, bounds},
		log:    log.With(slog.String("component", "device.surface")),
		model:  deck.PID(),
		serial: serial,
	}
	s.cache = NewCache(deck)
	s.log.LogAttrs(ctx, slog.LevelInfo, "opened deck", slog.String("pid", fmt.Sprintf("0x%04x", uint16(s.model))), slog.String("model", s.model.String()), slog.String("serial", serial), slog.Int("row", row), slog.Int("col", col))
	return s, nil
}

// swatch is a subimage of a uniform color.
type swatch struct {
	*image.Uniform
	bounds image.Rectangle
}

func (i swatch) Bounds() image.Rectangle { return i.bounds }

// Render implements the animation.Surface interface. Frames are converted
// to the device's internal format on first use and cached until Clear is
// called.
func (s *Surface) Render(img image.Image) error {
	raw, err := s.cache.Get(img)
	if err != nil {
		return err
	}
	return s.deck.SetImage(s.row, s.col, raw)
}

// Clear implements the animation.Surface interface. It renders black to
// the surface's key and empties the frame cache.
func (s *Surface) Clear() error {
	s.cache.Reset()
	return s.deck.SetImage(s.row, s.col, s.blank)
}

// PID returns the model PID of the device.
func (s *Surface) PID() ardilla.PID {
	return s.model
}

// Serial returns the serial number of the device.
func (s *Surface) Serial() string {
	return s.serial
}

// Watch calls fn each time the surface's key is pressed until ctx is
// cancelled or the device is closed. fn must not block.
func (s *Surface) Watch(ctx context.Context, fn func(ctx context.Context, t time.Time)) {
	log := s.log.WithGroup("watch")
	log.LogAttrs(ctx, slog.LevelDebug, "start")
	key := s.deck.Key(s.row, s.col)
	var last bool
	for {
		states, err := s.deck.KeyStates()
		if err != nil {
			if err == io.EOF {
				log.LogAttrs(ctx, slog.LevelDebug, "key states closed")
				return
			}
			select {
			case <-ctx.Done():
				log.LogAttrs(ctx, slog.LevelDebug, "watch cancelled")
				return
			default:
			}
			log.LogAttrs(ctx, slog.LevelError, "failed to get states", slog.Any("error", err))
			continue
		}
		if ctx.Err() != nil {
			log.LogAttrs(ctx, slog.LevelDebug, "watch cancelled")
			return
		}
		if key >= len(states) {
			continue
		}
		pressed := states[key]
		if pressed && !last {
			now := time.Now()
			log.LogAttrs(ctx, slog.LevelDebug, "press", slog.Int("row", s.row), slog.Int("col", s.col), slog.Time("triggered", now))
			fn(ctx, now)
		}
		last = pressed
	}
}

// Close resets and closes the device. Renders after Close return
// ErrClosed.
func (s *Surface) Close() error {
	return s.deck.Close()
}
