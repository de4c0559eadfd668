// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"
)

// Player loops through a sequence of frames, rendering one frame to its
// surface on each tick. A Player is safe for concurrent use, but the
// surface must not call back into the Player.
type Player struct {
	surface Surface
	clock   Clock
	log     *slog.Logger

	// mu serialises ticks with Start and Stop and
	// protects the playback state below.
	mu       sync.Mutex
	running  bool
	frames   []image.Image
	index    int
	interval time.Duration
	ticks    int
	// session identifies the current playback. It is
	// incremented on each Start and Stop so that a
	// tick from a previous session is never rendered.
	session uint64
	timer   Timer
}

// State is a snapshot of a Player's playback state.
type State struct {
	Running  bool          `json:"running"`
	Index    int           `json:"index"`
	Frames   int           `json:"frames"`
	Interval time.Duration `json:"interval"`
	// Ticks is the number of frames rendered
	// in the current session.
	Ticks int `json:"ticks"`
}

// NewPlayer returns a new stopped Player rendering to surface. If clock
// is nil, SystemClock is used.
func NewPlayer(surface Surface, clock Clock, log *slog.Logger) *Player {
	if clock == nil {
		clock = SystemClock
	}
	return &Player{
		surface: surface,
		clock:   clock,
		log:     log.With(slog.String("component", "animation.player")),
	}
}

// Start begins looping playback of frames at fps frames per second. The
// first frame is rendered before Start returns and subsequent frames are
// rendered every Interval(fps). Start returns false without altering the
// playback if the Player is already running, or if there are no frames
// or fps is not positive.
func (p *Player) Start(frames []image.Image, fps int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx := context.Background()
	if p.running {
		p.log.LogAttrs(ctx, slog.LevelDebug, "already running", slog.Int("index", p.index))
		return false
	}
	if len(frames) == 0 || fps < 1 {
		p.log.LogAttrs(ctx, slog.LevelDebug, "nothing to play", slog.Int("frames", len(frames)), slog.Int("fps", fps))
		return false
	}
	p.session++
	p.running = true
	p.frames = frames
	p.index = 0
	p.ticks = 0
	p.interval = Interval(fps)
	p.log.LogAttrs(ctx, slog.LevelInfo, "start", slog.Int("frames", len(frames)), slog.Int("fps", fps), slog.Duration("interval", p.interval))
	p.tick(ctx, p.session)
	return true
}

// tick renders the current frame, advances the index and schedules the
// next tick. It must be called with p.mu held.
func (p *Player) tick(ctx context.Context, session uint64) {
	if !p.running || session != p.session || len(p.frames) == 0 {
		return
	}
	err := p.surface.Render(p.frames[p.index])
	if err != nil {
		p.log.LogAttrs(ctx, slog.LevelWarn, "render", slog.Int("index", p.index), slog.Any("error", err))
	} else {
		p.log.LogAttrs(ctx, slog.LevelDebug, "render", slog.Int("index", p.index))
	}
	p.ticks++
	p.index = (p.index + 1) % len(p.frames)
	p.timer = p.clock.AfterFunc(p.interval, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.tick(ctx, session)
	})
}

// Stop ends playback and clears the surface. No frame is rendered by the
// stopped playback after Stop returns. Stop returns false if the Player
// was not running.
func (p *Player) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx := context.Background()
	if !p.running {
		return false
	}
	p.session++
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.log.LogAttrs(ctx, slog.LevelInfo, "stop", slog.Int("index", p.index), slog.Int("ticks", p.ticks))
	p.frames = nil
	p.index = 0
	p.ticks = 0
	err := p.surface.Clear()
	if err != nil {
		p.log.LogAttrs(ctx, slog.LevelWarn, "clear", slog.Any("error", err))
	}
	return true
}

// Running returns whether the Player is currently playing.
func (p *Player) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// State returns a snapshot of the Player's state. Index is the
// index of the next frame to be rendered.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		Running:  p.running,
		Index:    p.index,
		Frames:   len(p.frames),
		Interval: p.interval,
		Ticks:    p.ticks,
	}
}
