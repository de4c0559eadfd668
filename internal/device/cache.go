// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import (
	"image"
	"sync"

	"github.com/kortschak/ardilla"
)

// Cache is an ardilla.RawImage cache keyed on source frames. Keys must
// be comparable; the frames of an animation are pointer-typed images.
type Cache struct {
	miss func(image.Image) (*ardilla.RawImage, error)

	mu    sync.Mutex
	cache map[image.Image]*ardilla.RawImage
}

// RawImager wraps the RawImage method.
type RawImager interface {
	RawImage(img image.Image) (*ardilla.RawImage, error)
}

// NewCache returns a new Cache using deck to convert frames.
func NewCache(deck RawImager) *Cache {
	return &Cache{
		miss:  deck.RawImage,
		cache: make(map[image.Image]*ardilla.RawImage),
	}
}

// Get returns the RawImage for img, computing and caching it
// if it is not already held.
func (c *Cache) Get(img image.Image) (image.Image, error) {
	c.mu.Lock()
	r, ok := c.cache[img]
	c.mu.Unlock()
	if ok {
		return r, nil
	}
	r, err := c.miss(img)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[img] = r
	c.mu.Unlock()
	return r, nil
}

// Len returns the number of cached images.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Reset empties the cache.
func (c *Cache) Reset() {
	c.mu.Lock()
	clear(c.cache)
	c.mu.Unlock()
}
