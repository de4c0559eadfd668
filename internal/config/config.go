// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides configuration loading, validation and file
// change watching.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/kortschak/flipbook/config"
)

// Alias the publicly visible types.
type (
	System    = config.System
	Server    = config.Server
	Device    = config.Device
	Animation = config.Animation
	Sum       = config.Sum
)

// Load reads the TOML configuration file at path. See Decode.
func Load(path string) (*System, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads a TOML configuration from r, validates it against
// config.Schema and returns it with defaults applied. Unknown keys
// are an error.
func Decode(r io.Reader) (*System, error) {
	var cfg System
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, " "))
	}
	err = Check(&cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Check validates cfg against config.Schema and fills in defaults.
func Check(cfg *System) error {
	_, err := Validate(config.Schema, cfg)
	if err != nil {
		return err
	}
	if a := cfg.Animation; a != nil && a.Watch && a.Image == "" {
		return errors.New("animation.watch: requires animation.image")
	}
	if cfg.Server == nil {
		cfg.Server = &Server{}
	}
	if cfg.Server.Network == "" {
		cfg.Server.Network = "unix"
	}
	return nil
}
