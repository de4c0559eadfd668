// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package animator provides a controller that loads sprite sheets and
// plays their frames as looping animations.
package animator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kortschak/flipbook/internal/animation"
	"github.com/kortschak/flipbook/internal/sheet"
)

// Decoder decodes a square source image. Implementations should return
// a *sheet.DecodeError for undecodable data and a *sheet.NonSquareError
// for images that are not square.
type Decoder func(io.Reader) (*sheet.Image, error)

// ErrSuperseded is returned by a load that completes after a load that
// was requested later. The superseded image is discarded.
var ErrSuperseded = errors.New("image load superseded by a newer load")

// Controller orchestrates image loading, frame extraction and playback
// in response to select, start and stop commands. Its methods are safe
// for concurrent use.
//
// Errors from the sheet package are returned unwrapped so that callers
// can present them directly.
type Controller struct {
	decode Decoder
	player *animation.Player
	log    *slog.Logger

	mu     sync.Mutex
	loads  uint64 // generation of the most recently requested load
	image  *sheet.Image
	path   string
	params *sheet.Params
	frames []image.Image
}

// State is the state of a Controller.
type State struct {
	// Size is the side length of the loaded image,
	// zero if no image is loaded.
	Size   int    `json:"size"`
	Format string `json:"format,omitempty"`
	Path   string `json:"path,omitempty"`
	// Params are the parameters of the last
	// successful start.
	Params   *sheet.Params   `json:"params,omitempty"`
	Playback animation.State `json:"playback"`
}

// New returns a new Controller rendering to surface. If decode is nil,
// sheet.Decode is used. If clock is nil, animation.SystemClock is used.
func New(decode Decoder, surface animation.Surface, clock animation.Clock, log *slog.Logger) *Controller {
	if decode == nil {
		decode = sheet.Decode
	}
	return &Controller{
		decode: decode,
		player: animation.NewPlayer(surface, clock, log),
		log:    log.With(slog.String("component", "animator.controller")),
	}
}

// LoadImage decodes an image from r and makes it the current image,
// stopping any running playback. If the image can not be decoded or
// is not square, the current image and playback are left unchanged.
// Loads are ordered by request: if another load is requested before
// this one completes, this load returns ErrSuperseded without altering
// the current image, even if the later load fails.
func (c *Controller) LoadImage(ctx context.Context, r io.Reader) (*sheet.Image, error) {
	return c.load(ctx, c.nextLoad(), r, "")
}

// LoadFile loads the image held in the named file. See LoadImage.
// Failure to open the file is reported as a *sheet.DecodeError.
func (c *Controller) LoadFile(ctx context.Context, path string) (*sheet.Image, error) {
	gen := c.nextLoad()
	f, err := os.Open(path)
	if err != nil {
		c.log.LogAttrs(ctx, slog.LevelWarn, "open image", slog.String("path", path), slog.Any("error", err))
		return nil, &sheet.DecodeError{Err: err}
	}
	defer f.Close()
	return c.load(ctx, gen, f, path)
}

// nextLoad registers a new load request and returns its generation.
func (c *Controller) nextLoad() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	return c.loads
}

func (c *Controller) load(ctx context.Context, gen uint64, r io.Reader, path string) (*sheet.Image, error) {
	img, err := c.decode(r)
	if err != nil {
		c.log.LogAttrs(ctx, slog.LevelWarn, "load image", slog.String("path", path), slog.Any("error", err))
		return nil, err
	}
	if img == nil {
		return nil, &sheet.DecodeError{Err: errors.New("decoder returned no image")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.loads {
		c.log.LogAttrs(ctx, slog.LevelInfo, "discarding superseded image", slog.String("path", path), slog.Uint64("generation", gen), slog.Uint64("latest", c.loads))
		return nil, ErrSuperseded
	}
	if c.player.Stop() {
		c.log.LogAttrs(ctx, slog.LevelInfo, "stopped playback for new image")
	}
	c.image = img
	c.path = path
	c.frames = nil
	c.log.LogAttrs(ctx, slog.LevelInfo, "loaded image", slog.String("path", path), slog.String("format", img.Format()), slog.Int("size", img.Size()))
	return img, nil
}

// Reload reloads the image from the path of the last LoadFile. If
// playback was running it is restarted with the last accepted parameters
// against the new image. If the new image can not be loaded, the current
// image and playback are left unchanged.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	path := c.path
	c.mu.Unlock()
	if path == "" {
		return sheet.ErrNoImage
	}
	running := c.Running()
	_, err := c.LoadFile(ctx, path)
	if err != nil {
		return err
	}
	if running && !c.Restart(ctx) {
		c.log.LogAttrs(ctx, slog.LevelWarn, "parameters invalid for reloaded image", slog.String("path", path))
	}
	return nil
}

// Start validates the frame size, frame count and fps text against the
// current image, slices the image into frames and starts playback. If
// playback is already running, Start does nothing. If no image is loaded
// sheet.ErrNoImage is returned, and validation failures are returned as
// a *sheet.ParamError; in both cases playback is left unchanged.
func (c *Controller) Start(ctx context.Context, frameSize, frameCount, fps string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.player.Running() {
		c.log.LogAttrs(ctx, slog.LevelDebug, "start while running")
		return nil
	}
	if c.image == nil {
		return sheet.ErrNoImage
	}
	p, err := sheet.Validate(c.image, frameSize, frameCount, fps)
	if err != nil {
		c.log.LogAttrs(ctx, slog.LevelWarn, "invalid parameters", slog.Any("error", err))
		return err
	}
	c.frames = sheet.Extract(c.image, p.FrameSize, p.FrameCount)
	c.params = &p
	c.log.LogAttrs(ctx, slog.LevelDebug, "extracted frames", slog.Int("frames", len(c.frames)), slog.Int("per_row", sheet.PerRow(c.image, p.FrameSize)))
	c.player.Start(c.frames, p.FPS)
	return nil
}

// Restart stops any running playback and starts it again with the
// parameters of the last successful start against the current image.
// Restart returns false if there are no previous parameters or they
// are no longer valid for the current image.
func (c *Controller) Restart(ctx context.Context) bool {
	c.mu.Lock()
	p := c.params
	c.mu.Unlock()
	if p == nil {
		return false
	}
	c.Stop(ctx)
	err := c.Start(ctx, fmt.Sprint(p.FrameSize), fmt.Sprint(p.FrameCount), fmt.Sprint(p.FPS))
	if err != nil {
		c.log.LogAttrs(ctx, slog.LevelWarn, "restart", slog.Any("error", err))
		return false
	}
	return true
}

// Stop stops playback and clears the surface. It is a no-op if playback
// is not running.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.player.Stop() {
		c.log.LogAttrs(ctx, slog.LevelDebug, "stopped")
	}
	c.frames = nil
}

// Running returns whether playback is running.
func (c *Controller) Running() bool {
	return c.player.Running()
}

// State returns the current state of the controller.
func (c *Controller) State(ctx context.Context) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Path:     c.path,
		Playback: c.player.State(),
	}
	if c.image != nil {
		s.Size = c.image.Size()
		s.Format = c.image.Format()
	}
	if c.params != nil {
		p := *c.params
		s.Params = &p
	}
	return s
}
