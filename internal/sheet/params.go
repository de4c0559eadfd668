// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sheet

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kortschak/flipbook/internal/animation"
)

// Params are validated animation parameters.
type Params struct {
	FrameSize  int `json:"frame_size"`
	FrameCount int `json:"frame_count"`
	FPS        int `json:"fps"`
}

// Interval returns the delay between frames. The interval is a whole
// number of milliseconds, truncated from 1000/FPS.
func (p Params) Interval() time.Duration {
	return animation.Interval(p.FPS)
}

// PerRow returns the number of frames in each row of the grid
// obtained by slicing img into frames of the given size.
func PerRow(img *Image, frameSize int) int {
	return img.Size() / frameSize
}

// Validate parses and checks the frame size, frame count and fps text
// against the geometry of img. Checks are made in that order and the
// first failure is returned as a *ParamError. If img is nil, ErrNoImage
// is returned.
//
// The frame size must evenly divide the image size, and the frame count
// must not exceed the number of frames in the resulting grid.
func Validate(img *Image, frameSize, frameCount, fps string) (Params, error) {
	if img == nil {
		return Params{}, ErrNoImage
	}

	size, err := parse(ErrInvalidFrameSize, FieldFrameSize, frameSize)
	if err != nil {
		return Params{}, err
	}
	if img.Size()%size != 0 {
		return Params{}, &ParamError{
			Kind:   ErrInvalidFrameSize,
			Field:  FieldFrameSize,
			Input:  frameSize,
			Reason: fmt.Sprintf("image size %d is not a multiple of frame size %d", img.Size(), size),
		}
	}

	count, err := parse(ErrInvalidFrameCount, FieldFrameCount, frameCount)
	if err != nil {
		return Params{}, err
	}
	n := PerRow(img, size)
	if cells := n * n; count > cells {
		return Params{}, &ParamError{
			Kind:   ErrInvalidFrameCount,
			Field:  FieldFrameCount,
			Input:  frameCount,
			Reason: fmt.Sprintf("exceeds %d frames available with frame size %d", cells, size),
		}
	}

	rate, err := parse(ErrInvalidFPS, FieldFPS, fps)
	if err != nil {
		return Params{}, err
	}

	return Params{FrameSize: size, FrameCount: count, FPS: rate}, nil
}

// parse returns the positive integer held in text.
func parse(kind error, field, text string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, &ParamError{
			Kind:   kind,
			Field:  field,
			Input:  text,
			Reason: "not an integer",
			Err:    err,
		}
	}
	if v < 1 {
		return 0, &ParamError{
			Kind:   kind,
			Field:  field,
			Input:  text,
			Reason: "must be at least 1",
		}
	}
	return v, nil
}
