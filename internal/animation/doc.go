// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package animation provides fixed rate looping playback of image frames.
//
// A [Player] renders a sequence of frames to a [Surface], advancing one frame
// per tick. Ticks are scheduled on a [Clock]; the next tick is only scheduled
// once the current frame has been rendered, so ticks of a playback session
// never overlap. Stopping a Player cancels the pending tick and guarantees
// that no frame of the stopped session is rendered after Stop returns.
package animation
