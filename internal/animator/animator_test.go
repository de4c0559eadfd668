// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animator

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/flipbook/internal/animation"
	"github.com/kortschak/flipbook/internal/locked"
	"github.com/kortschak/flipbook/internal/sheet"
	"github.com/kortschak/flipbook/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func newLogger(t *testing.T) *slog.Logger {
	t.Helper()
	var logBuf locked.BytesBuffer
	t.Cleanup(func() {
		if *verbose {
			t.Logf("log:\n%s\n", &logBuf)
		}
	})
	return slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
}

type recorder struct {
	mu       sync.Mutex
	rendered []image.Image
	clears   int
}

func (r *recorder) Render(img image.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered = append(r.rendered, img)
	return nil
}

func (r *recorder) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	return nil
}

func (r *recorder) count() (renders, clears int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rendered), r.clears
}

func (r *recorder) last() image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rendered[len(r.rendered)-1]
}

// sheetPNG returns a PNG encoded w×h image where each cell of side cell
// is filled with a gray level equal to its row-major index.
func sheetPNG(t *testing.T, w, h, cell int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	perRow := w / cell
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((y/cell)*perRow + x/cell)})
		}
	}
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	if err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return buf.Bytes()
}

// cellOf returns the cell index encoded in the frame by sheetPNG.
func cellOf(img image.Image) int {
	return int(color.GrayModel.Convert(img.At(0, 0)).(color.Gray).Y)
}

func TestControllerScenario(t *testing.T) {
	ctx := context.Background()
	var (
		clock animation.ManualClock
		surf  recorder
	)
	c := New(nil, &surf, &clock, newLogger(t))

	img, err := c.LoadImage(ctx, bytes.NewReader(sheetPNG(t, 400, 400, 100)))
	if err != nil {
		t.Fatalf("unexpected error loading image: %v", err)
	}
	if img.Size() != 400 {
		t.Errorf("unexpected image size: got:%d want:400", img.Size())
	}
	err = c.Start(ctx, "100", "16", "10")
	if err != nil {
		t.Fatalf("unexpected error starting: %v", err)
	}

	var got []int
	for range 33 {
		got = append(got, cellOf(surf.last()))
		clock.Advance(100 * time.Millisecond)
	}
	for i, cell := range got {
		if cell != i%16 {
			t.Fatalf("unexpected frame sequence: %v", got)
		}
	}

	want := State{
		Size:   400,
		Format: "png",
		Params: &sheet.Params{FrameSize: 100, FrameCount: 16, FPS: 10},
		Playback: animation.State{
			Running:  true,
			Index:    2,
			Frames:   16,
			Interval: 100 * time.Millisecond,
			Ticks:    34,
		},
	}
	if state := c.State(ctx); !cmp.Equal(state, want) {
		t.Errorf("unexpected state:\n--- want:\n+++ got:\n%s", cmp.Diff(want, state))
	}
}

func TestControllerErrors(t *testing.T) {
	ctx := context.Background()
	var (
		clock animation.ManualClock
		surf  recorder
	)
	c := New(nil, &surf, &clock, newLogger(t))

	err := c.Start(ctx, "1", "1", "1")
	if err != sheet.ErrNoImage {
		t.Errorf("unexpected error for start without image: got:%v want:%v", err, sheet.ErrNoImage)
	}

	_, err = c.LoadImage(ctx, bytes.NewReader(sheetPNG(t, 200, 150, 50)))
	var sqErr *sheet.NonSquareError
	if !errors.As(err, &sqErr) {
		t.Errorf("unexpected error for non-square image: %v", err)
	}
	err = c.Start(ctx, "50", "1", "1")
	if err != sheet.ErrNoImage {
		t.Errorf("non-square image retained: got:%v", err)
	}

	_, err = c.LoadImage(ctx, bytes.NewReader([]byte("not an image")))
	var decErr *sheet.DecodeError
	if !errors.As(err, &decErr) {
		t.Errorf("unexpected error for undecodable image: %v", err)
	}

	_, err = c.LoadImage(ctx, bytes.NewReader(sheetPNG(t, 300, 300, 100)))
	if err != nil {
		t.Fatalf("unexpected error loading image: %v", err)
	}
	for _, test := range []struct {
		size, count, fps string
		want             error
	}{
		{size: "100", count: "20", fps: "10", want: sheet.ErrInvalidFrameCount},
		{size: "70", count: "1", fps: "10", want: sheet.ErrInvalidFrameSize},
		{size: "100", count: "9", fps: "none", want: sheet.ErrInvalidFPS},
	} {
		err = c.Start(ctx, test.size, test.count, test.fps)
		if !errors.Is(err, test.want) {
			t.Errorf("unexpected error for %s/%s/%s: got:%v want:%v", test.size, test.count, test.fps, err, test.want)
		}
		var perr *sheet.ParamError
		if !errors.As(err, &perr) {
			t.Errorf("error is not a *sheet.ParamError: %T", err)
		}
	}
	if c.Running() {
		t.Error("unexpected playback after failed starts")
	}
	if renders, clears := surf.count(); renders != 0 || clears != 0 {
		t.Errorf("unexpected surface activity: renders=%d clears=%d", renders, clears)
	}
}

func TestControllerLoadStopsPlayback(t *testing.T) {
	ctx := context.Background()
	var (
		clock animation.ManualClock
		surf  recorder
	)
	c := New(nil, &surf, &clock, newLogger(t))
	_, err := c.LoadImage(ctx, bytes.NewReader(sheetPNG(t, 40, 40, 10)))
	if err != nil {
		t.Fatalf("unexpected error loading image: %v", err)
	}
	err = c.Start(ctx, "10", "16", "5")
	if err != nil {
		t.Fatalf("unexpected error starting: %v", err)
	}
	clock.Advance(time.Second)

	// A failed load leaves playback running.
	_, err = c.LoadImage(ctx, bytes.NewReader(sheetPNG(t, 40, 20, 10)))
	if err == nil {
		t.Fatal("expected error loading non-square image")
	}
	if !c.Running() {
		t.Fatal("failed load stopped playback")
	}

	_, err = c.LoadImage(ctx, bytes.NewReader(sheetPNG(t, 20, 20, 10)))
	if err != nil {
		t.Fatalf("unexpected error loading image: %v", err)
	}
	if c.Running() {
		t.Error("playback still running after new image")
	}
	renders, clears := surf.count()
	if clears != 1 {
		t.Errorf("unexpected number of clears: got:%d want:1", clears)
	}
	clock.Advance(time.Minute)
	if n, _ := surf.count(); n != renders {
		t.Errorf("stale frames rendered after load: got %d renders, want %d", n, renders)
	}
	if n := clock.Pending(); n != 0 {
		t.Errorf("unexpected pending ticks: %d", n)
	}

	// The old parameters are no longer valid.
	if c.Restart(ctx) {
		t.Error("unexpected restart with invalid parameters")
	}
}

func TestControllerStartStop(t *testing.T) {
	ctx := context.Background()
	var (
		clock animation.ManualClock
		surf  recorder
	)
	c := New(nil, &surf, &clock, newLogger(t))
	_, err := c.LoadImage(ctx, bytes.NewReader(sheetPNG(t, 60, 60, 20)))
	if err != nil {
		t.Fatalf("unexpected error loading image: %v", err)
	}

	c.Stop(ctx)
	if _, clears := surf.count(); clears != 0 {
		t.Errorf("unexpected clear when idle: %d", clears)
	}

	err = c.Start(ctx, "20", "9", "1")
	if err != nil {
		t.Fatalf("unexpected error starting: %v", err)
	}
	clock.Advance(4 * time.Second)
	if cell := cellOf(surf.last()); cell != 4 {
		t.Errorf("unexpected frame: got:%d want:4", cell)
	}

	// Start while running is ignored, even with invalid parameters.
	err = c.Start(ctx, "7", "100", "0")
	if err != nil {
		t.Errorf("unexpected error for start while running: %v", err)
	}

	c.Stop(ctx)
	c.Stop(ctx)
	if _, clears := surf.count(); clears != 1 {
		t.Errorf("unexpected number of clears: got:%d want:1", clears)
	}

	// Restart with new parameters starts from the first frame
	// of a fresh sequence.
	err = c.Start(ctx, "30", "3", "2")
	if err != nil {
		t.Fatalf("unexpected error restarting: %v", err)
	}
	if b := surf.last().Bounds(); b != image.Rect(0, 0, 30, 30) {
		t.Errorf("unexpected frame bounds after restart: %v", b)
	}
	if idx := c.State(ctx).Playback.Index; idx != 1 {
		t.Errorf("unexpected index after restart: got:%d want:1", idx)
	}

	if !c.Restart(ctx) {
		t.Error("failed to restart with previous parameters")
	}
	if state := c.State(ctx).Playback; !state.Running || state.Ticks != 1 {
		t.Errorf("unexpected playback state after restart: %+v", state)
	}
}

func TestControllerLoadFile(t *testing.T) {
	ctx := context.Background()
	var surf recorder
	c := New(nil, &surf, &animation.ManualClock{}, newLogger(t))

	_, err := c.LoadFile(ctx, filepath.Join(t.TempDir(), "missing.png"))
	var decErr *sheet.DecodeError
	if !errors.As(err, &decErr) || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("unexpected error for missing file: %v", err)
	}

	path := filepath.Join(t.TempDir(), "sheet.png")
	err = os.WriteFile(path, sheetPNG(t, 8, 8, 4), 0o644)
	if err != nil {
		t.Fatalf("failed to write image: %v", err)
	}
	_, err = c.LoadFile(ctx, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.State(ctx).Path; got != path {
		t.Errorf("unexpected path: got:%q want:%q", got, path)
	}
}

func TestControllerReload(t *testing.T) {
	ctx := context.Background()
	var (
		clock animation.ManualClock
		surf  recorder
	)
	c := New(nil, &surf, &clock, newLogger(t))

	err := c.Reload(ctx)
	if !errors.Is(err, sheet.ErrNoImage) {
		t.Errorf("unexpected error reloading without image: got:%v want:%v", err, sheet.ErrNoImage)
	}

	path := filepath.Join(t.TempDir(), "sheet.png")
	write := func(data []byte) {
		t.Helper()
		err := os.WriteFile(path, data, 0o644)
		if err != nil {
			t.Fatalf("failed to write image: %v", err)
		}
	}

	write(sheetPNG(t, 8, 8, 4))
	_, err = c.LoadFile(ctx, path)
	if err != nil {
		t.Fatalf("unexpected error loading image: %v", err)
	}
	err = c.Start(ctx, "4", "4", "10")
	if err != nil {
		t.Fatalf("unexpected error starting: %v", err)
	}
	clock.Advance(time.Second)

	// A larger sheet accepts the previous parameters.
	write(sheetPNG(t, 12, 12, 4))
	err = c.Reload(ctx)
	if err != nil {
		t.Fatalf("unexpected error reloading: %v", err)
	}
	got := c.State(ctx)
	if got.Size != 12 || !got.Playback.Running || got.Playback.Frames != 4 || got.Playback.Ticks != 1 {
		t.Errorf("unexpected state after reload: %+v", got)
	}

	// An undecodable file leaves playback unchanged.
	write([]byte("not an image"))
	err = c.Reload(ctx)
	var decErr *sheet.DecodeError
	if !errors.As(err, &decErr) {
		t.Errorf("unexpected error reloading garbage: %v", err)
	}
	if !c.Running() {
		t.Error("playback stopped by failed reload")
	}
	if got := c.State(ctx).Size; got != 12 {
		t.Errorf("unexpected image size after failed reload: got:%d want:12", got)
	}

	// A sheet that does not divide into the previous frame size
	// is loaded but playback does not resume.
	write(sheetPNG(t, 6, 6, 3))
	err = c.Reload(ctx)
	if err != nil {
		t.Fatalf("unexpected error reloading: %v", err)
	}
	got = c.State(ctx)
	if got.Size != 6 || got.Playback.Running {
		t.Errorf("unexpected state after incompatible reload: %+v", got)
	}

	// A stopped controller stays stopped.
	write(sheetPNG(t, 8, 8, 4))
	err = c.Reload(ctx)
	if err != nil {
		t.Fatalf("unexpected error reloading: %v", err)
	}
	if c.Running() {
		t.Error("reload started stopped playback")
	}
	if n := clock.Pending(); n != 0 {
		t.Errorf("unexpected pending timers: %d", n)
	}
}

func TestControllerLoadOrder(t *testing.T) {
	ctx := context.Background()
	var surf recorder

	// The decoder holds the "old" image until release is closed.
	entered := make(chan struct{})
	release := make(chan struct{})
	decode := func(r io.Reader) (*sheet.Image, error) {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, &sheet.DecodeError{Err: err}
		}
		size := 20
		if string(b) == "old" {
			close(entered)
			<-release
			size = 10
		}
		return sheet.New(image.NewRGBA(image.Rect(0, 0, size, size)))
	}
	c := New(decode, &surf, &animation.ManualClock{}, newLogger(t))

	oldErr := make(chan error, 1)
	go func() {
		_, err := c.LoadImage(ctx, strings.NewReader("old"))
		oldErr <- err
	}()
	<-entered

	_, err := c.LoadImage(ctx, strings.NewReader("new"))
	if err != nil {
		t.Fatalf("unexpected error loading newer image: %v", err)
	}
	close(release)
	err = <-oldErr
	if !errors.Is(err, ErrSuperseded) {
		t.Errorf("unexpected error from older load: got:%v want:%v", err, ErrSuperseded)
	}
	if got := c.State(ctx).Size; got != 20 {
		t.Errorf("unexpected held image size: got:%d want:20", got)
	}

	// A later load that fails still supersedes an earlier one.
	entered = make(chan struct{})
	release = make(chan struct{})
	go func() {
		_, err := c.LoadImage(ctx, strings.NewReader("old"))
		oldErr <- err
	}()
	<-entered
	_, err = c.LoadFile(ctx, filepath.Join(t.TempDir(), "missing.png"))
	var decErr *sheet.DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("unexpected error loading missing file: %v", err)
	}
	close(release)
	err = <-oldErr
	if !errors.Is(err, ErrSuperseded) {
		t.Errorf("unexpected error from older load: got:%v want:%v", err, ErrSuperseded)
	}
	if got := c.State(ctx).Size; got != 20 {
		t.Errorf("unexpected held image size after failed load: got:%d want:20", got)
	}
}
