// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var applyEnvTests = []struct {
	name    string
	cfg     *System
	environ map[string]string
	want    *System
	wantErr bool
}{
	{
		name:    "empty",
		cfg:     &System{},
		environ: map[string]string{},
		want:    &System{Server: &Server{Network: "unix"}},
	},
	{
		name: "override",
		cfg: &System{
			Server:    &Server{Network: "unix", Addr: "/tmp/fb.sock"},
			Animation: &Animation{Image: "a.png", FPS: 10},
		},
		environ: map[string]string{
			"FLIPBOOK_NETWORK":   "tcp",
			"FLIPBOOK_ADDR":      "localhost:7070",
			"FLIPBOOK_METRICS":   "localhost:9090",
			"FLIPBOOK_IMAGE":     "b.png",
			"FLIPBOOK_LOG_LEVEL": "warn",
			"NETWORK":            "unix",
		},
		want: &System{
			Server:    &Server{Network: "tcp", Addr: "localhost:7070", Metrics: "localhost:9090"},
			Animation: &Animation{Image: "b.png", FPS: 10},
			LogLevel:  ptr(slog.LevelWarn),
		},
	},
	{
		name:    "bad_level",
		cfg:     &System{},
		environ: map[string]string{"FLIPBOOK_LOG_LEVEL": "loud"},
		wantErr: true,
	},
	{
		name:    "bad_network",
		cfg:     &System{},
		environ: map[string]string{"FLIPBOOK_NETWORK": "udp"},
		wantErr: true,
	},
}

func TestApplyEnv(t *testing.T) {
	for _, test := range applyEnvTests {
		t.Run(test.name, func(t *testing.T) {
			err := ApplyEnv(test.cfg, test.environ)
			if (err != nil) != test.wantErr {
				t.Fatalf("unexpected error: got:%v want error:%t", err, test.wantErr)
			}
			if err != nil {
				return
			}
			if !cmp.Equal(test.want, test.cfg) {
				t.Errorf("unexpected configuration:\n--- want:\n+++ got:\n%s", cmp.Diff(test.want, test.cfg))
			}
		})
	}
}
