// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sheet

import (
	"errors"
	"fmt"
)

// ErrNoImage is returned when an operation requires a loaded image
// and none is held.
var ErrNoImage = errors.New("no image loaded")

// ErrEmpty is the cause of the *DecodeError for an image with no pixels.
var ErrEmpty = errors.New("empty image")

// Parameter error kinds. A *ParamError matches exactly one of these
// with errors.Is.
var (
	ErrInvalidFrameSize  = errors.New("invalid frame size")
	ErrInvalidFrameCount = errors.New("invalid frame count")
	ErrInvalidFPS        = errors.New("invalid fps")
)

// DecodeError is returned when source data cannot be read as an image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NonSquareError is returned when a decoded image is not square.
type NonSquareError struct {
	Width, Height int
}

func (e *NonSquareError) Error() string {
	return fmt.Sprintf("image must be square: size %dx%d", e.Width, e.Height)
}

// ParamError is a frame parameter validation failure.
type ParamError struct {
	// Kind is one of ErrInvalidFrameSize, ErrInvalidFrameCount
	// or ErrInvalidFPS.
	Kind error
	// Field is the parameter name.
	Field string
	// Input is the text that was rejected.
	Input string
	// Reason describes the violated constraint.
	Reason string
	// Err is the parse error, if any.
	Err error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%v %q: %s", e.Kind, e.Input, e.Reason)
}

func (e *ParamError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Parameter field names.
const (
	FieldFrameSize  = "frame_size"
	FieldFrameCount = "frame_count"
	FieldFPS        = "fps"
)
