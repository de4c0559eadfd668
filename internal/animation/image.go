// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"image"
	"time"
)

// Surface is a display surface for animation frames.
type Surface interface {
	// Render displays img, replacing any previously
	// displayed frame.
	Render(img image.Image) error
	// Clear removes the displayed frame.
	Clear() error
}

// Interval returns the delay between frames at the given frame rate.
// The interval is a whole number of milliseconds truncated from 1000/fps,
// so rates that do not divide 1000 run slightly fast. Interval returns
// zero if fps is not positive.
func Interval(fps int) time.Duration {
	if fps < 1 {
		return 0
	}
	return time.Duration(1000/fps) * time.Millisecond
}
