// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
)

// environment holds the configuration values that may be set from
// FLIPBOOK_ prefixed environment variables.
type environment struct {
	Network  string `env:"NETWORK"`
	Addr     string `env:"ADDR"`
	Metrics  string `env:"METRICS"`
	Image    string `env:"IMAGE"`
	LogLevel string `env:"LOG_LEVEL"`
}

// EnvPrefix is the prefix of environment variables read by ApplyEnv.
const EnvPrefix = "FLIPBOOK_"

// ApplyEnv overrides values in cfg with any set in the environment. If
// environ is nil, the process environment is used. The result is checked
// with Check.
func ApplyEnv(cfg *System, environ map[string]string) error {
	var e environment
	err := env.ParseWithOptions(&e, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	})
	if err != nil {
		return err
	}
	if e.Network != "" || e.Addr != "" || e.Metrics != "" {
		if cfg.Server == nil {
			cfg.Server = &Server{}
		}
		if e.Network != "" {
			cfg.Server.Network = e.Network
		}
		if e.Addr != "" {
			cfg.Server.Addr = e.Addr
		}
		if e.Metrics != "" {
			cfg.Server.Metrics = e.Metrics
		}
	}
	if e.Image != "" {
		if cfg.Animation == nil {
			cfg.Animation = &Animation{}
		}
		cfg.Animation.Image = e.Image
	}
	if e.LogLevel != "" {
		var level slog.Level
		err = level.UnmarshalText([]byte(e.LogLevel))
		if err != nil {
			return fmt.Errorf("%sLOG_LEVEL: %w", EnvPrefix, err)
		}
		cfg.LogLevel = &level
	}
	return Check(cfg)
}
