// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sheet

import (
	"image"

	"golang.org/x/image/draw"
)

// Extract slices img into at most frameCount square frames of side
// frameSize in row-major order. The number of frames returned is the
// smaller of frameCount and the number of grid cells. Each frame is an
// independent copy with its origin at (0, 0); img is not altered.
//
// frameSize must be positive and should evenly divide the image size;
// partial cells at the right and bottom edges are never returned.
func Extract(img *Image, frameSize, frameCount int) []image.Image {
	if frameSize < 1 || frameCount < 1 {
		return nil
	}
	n := PerRow(img, frameSize)
	total := min(frameCount, n*n)
	frames := make([]image.Image, total)
	for i := range frames {
		o := Origin(i, frameSize, n)
		frames[i] = Crop(img, o.X, o.Y, frameSize)
	}
	return frames
}

// Origin returns the position of the top-left corner of the i'th frame
// within a grid with perRow frames of side frameSize in each row.
func Origin(i, frameSize, perRow int) image.Point {
	return image.Point{
		X: (i % perRow) * frameSize,
		Y: (i / perRow) * frameSize,
	}
}

// Crop returns a copy of the size×size square of img with its top-left
// corner at (x, y) relative to the image's bounds.
func Crop(img image.Image, x, y, size int) *image.RGBA {
	src := image.Rect(x, y, x+size, y+size).Add(img.Bounds().Min)
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Copy(dst, image.Point{}, img, src, draw.Src, nil)
	return dst
}
