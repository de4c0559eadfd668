// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sheet provides sprite sheet slicing into animation frames.
package sheet

import (
	"image"
	"io"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a square source image. Image values must not be mutated
// after construction.
type Image struct {
	image.Image

	// format is the name of the format used to decode the
	// image, if known.
	format string
}

// New returns an Image holding img. If img has no pixels, a
// *DecodeError wrapping ErrEmpty is returned, and if it is not square,
// a *NonSquareError is returned.
func New(img image.Image) (*Image, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, &DecodeError{Err: ErrEmpty}
	}
	if b.Dx() != b.Dy() {
		return nil, &NonSquareError{Width: b.Dx(), Height: b.Dy()}
	}
	return &Image{Image: img}, nil
}

// Decode decodes an image from r. Decode failures are returned as
// a *DecodeError and non-square images as a *NonSquareError.
//
// PNG, JPEG, GIF, WEBP, BMP and TIFF encodings are supported. Only
// the first frame of an animated GIF is used.
func Decode(r io.Reader) (*Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	src, err := New(img)
	if err != nil {
		return nil, err
	}
	src.format = format
	return src, nil
}

// Size returns the side length of the image in pixels.
func (img *Image) Size() int {
	return img.Bounds().Dx()
}

// Format returns the name of the encoding the image was decoded from.
// It is empty if the image was not obtained from Decode.
func (img *Image) Format() string {
	return img.format
}
