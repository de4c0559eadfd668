// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides flipbook configuration types and schemas.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/kortschak/ardilla"
)

// System is a complete configuration.
type System struct {
	Server    *Server    `json:"server,omitempty" toml:"server"`
	Device    *Device    `json:"device,omitempty" toml:"device"`
	Animation *Animation `json:"animation,omitempty" toml:"animation"`

	LogLevel  *slog.Level `json:"log_level,omitempty" toml:"log_level"`
	AddSource *bool       `json:"log_add_source,omitempty" toml:"log_add_source"`
}

// Server is the command server configuration.
type Server struct {
	// Network is the network the server listens on,
	// "unix" or "tcp".
	Network string `json:"network,omitempty" toml:"network"`
	// Addr is the listen address. If it is empty
	// a socket in the runtime directory is used for
	// unix and a loopback ephemeral port for tcp.
	Addr string `json:"addr,omitempty" toml:"addr"`
	// Metrics is the address of the Prometheus metrics
	// endpoint. No metrics are served if it is empty.
	Metrics string `json:"metrics,omitempty" toml:"metrics"`
}

// Device is a Stream Deck display configuration. If no device is
// configured, frames are logged.
type Device struct {
	// PID is the product ID of the device.
	PID ardilla.PID `json:"pid,omitempty" toml:"pid"`
	// Serial is the device serial number.
	Serial string `json:"serial,omitempty" toml:"serial"`
	// Row and Col are the position of the key
	// used to display the animation.
	Row int `json:"row,omitempty" toml:"row"`
	Col int `json:"col,omitempty" toml:"col"`
}

// Animation holds the image and parameters to play at start up
// and when the display key is pressed.
type Animation struct {
	// Image is the path to the source image.
	Image string `json:"image,omitempty" toml:"image"`

	FrameSize  int `json:"frame_size,omitempty" toml:"frame_size"`
	FrameCount int `json:"frame_count,omitempty" toml:"frame_count"`
	FPS        int `json:"fps,omitempty" toml:"fps"`

	// Watch indicates the image file should be
	// reloaded when it changes.
	Watch bool `json:"watch,omitempty" toml:"watch"`
}

// Schema is the schema for a valid configuration.
const Schema = `
{
	server?:         _#server
	device?:         _#device
	animation?:      _#animation
	log_level?:      _#log_level
	log_add_source?: bool
}

_#server: {
	network:  *"unix" | "tcp"
	addr?:    string
	metrics?: string
}

_#device: {
	pid:    *0 | uint16
	serial: *"" | string
	row:    *0 | uint
	col:    *0 | uint
}

_#animation: {
	image?:       !=""
	frame_size?:  int & >=1
	frame_count?: int & >=1
	fps?:         int & >=1
	watch?:       bool // requires image; checked at load.
}

_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`

// Sum is a comparable optional SHA-1 sum.
type Sum [sha1.Size]byte

// Equal returns whether s is equal to other.
func (s *Sum) Equal(other *Sum) bool {
	switch {
	case s == other:
		return true
	case s != nil && other != nil:
		return *s == *other
	default:
		return false
	}
}

func (s *Sum) String() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s[:])
}

func (s *Sum) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(s)) {
		return fmt.Errorf("invalid length: %d != %d", len(text), hex.EncodedLen(len(s)))
	}
	_, err := hex.Decode(s[:], text)
	return err
}

func (s *Sum) MarshalText() (text []byte, err error) {
	if s == nil {
		return nil, nil
	}
	text = make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(text, s[:])
	return text, nil
}
