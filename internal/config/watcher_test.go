// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/sha1"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/flipbook/internal/locked"
	"github.com/kortschak/flipbook/internal/slogext"
)

var operations = []struct {
	name string
	want Change
	fn   func(dir string) error
}{
	{
		name: "create", fn: func(dir string) error {
			return create(dir, "sheet.png", 0o644, "frames one")
		},
		want: Change{Sum: sumOf("frames one")},
	},
	{
		name: "rewrite_same", fn: func(dir string) error {
			return create(dir, "sheet.png", 0o644, "frames one")
		},
	},
	{
		name: "unrelated", fn: func(dir string) error {
			return create(dir, "other.png", 0o644, "frames other")
		},
	},
	{
		name: "modify", fn: func(dir string) error {
			return create(dir, "sheet.png", 0o644, "frames two")
		},
		want: Change{Sum: sumOf("frames two")},
	},
	{
		name: "replace_by_rename", fn: func(dir string) error {
			err := create(dir, "sheet.png.tmp", 0o644, "frames three")
			if err != nil {
				return err
			}
			return mv(dir, "sheet.png.tmp", "sheet.png")
		},
		want: Change{Sum: sumOf("frames three")},
	},
	{
		name: "remove", fn: func(dir string) error {
			return rm(dir, "sheet.png")
		},
	},
	{
		name: "recreate", fn: func(dir string) error {
			return create(dir, "sheet.png", 0o644, "frames three")
		},
		want: Change{Sum: sumOf("frames three")},
	},
}

func (c Change) isZero() bool {
	return c.Event == nil && c.Sum == nil && c.Err == nil
}

func create(dir, name string, perm fs.FileMode, data string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(data), perm)
}

func mv(dir, from, to string) error {
	return os.Rename(filepath.Join(dir, from), filepath.Join(dir, to))
}

func rm(dir, name string) error {
	return os.RemoveAll(filepath.Join(dir, name))
}

func sumOf(data string) *Sum {
	s := Sum(sha1.Sum([]byte(data)))
	return &s
}

func TestWatcher(t *testing.T) {
	var logBuf locked.BytesBuffer
	log := slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
	defer func() {
		if *verbose {
			t.Logf("log:\n%s\n", &logBuf)
		}
	}()

	dir := t.TempDir()
	path := filepath.Join(dir, "sheet.png")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := make(chan Change)
	w, err := NewWatcher(path, stream, -1, log)
	if err != nil {
		t.Fatalf("unexpected error returned by NewWatcher: %v", err)
	}
	done := make(chan error)
	go func() {
		done <- w.Run(ctx)
	}()

	for _, op := range operations {
		err := op.fn(dir)
		if err != nil {
			t.Errorf("unexpected error running operation %q: %v", op.name, err)
		}
		timer := time.NewTimer(100 * time.Millisecond)
		var got Change
		select {
		case <-timer.C:
		case got = <-stream:
			timer.Stop()
		}
		if got.isZero() != op.want.isZero() {
			if got.isZero() {
				t.Errorf("did not receive %q event in time", op.name)
			} else {
				t.Errorf("unexpected %q event: %v", op.name, got.Event)
			}
		}
		if got.isZero() {
			continue
		}

		if got.Path != path {
			t.Errorf("unexpected path for %q: got:%s want:%s", op.name, got.Path, path)
		}
		if len(got.Event) == 0 {
			t.Errorf("no events for %q", op.name)
		}
		if got.Op() == 0 {
			t.Errorf("no operation for %q", op.name)
		}
		if got.Err != nil {
			t.Errorf("unexpected error for %q: %v", op.name, got.Err)
		}
		if !got.Sum.Equal(op.want.Sum) {
			t.Errorf("unexpected sum for %q: got:%s want:%s", op.name, got.Sum, op.want.Sum)
		}
	}

	cancel()
	select {
	case err = <-done:
		if err != context.Canceled {
			t.Errorf("unexpected error from Run: got:%v want:%v", err, context.Canceled)
		}
	case <-time.After(time.Second):
		t.Error("watcher did not terminate after cancellation")
	}
}

func TestWatcherExistingFile(t *testing.T) {
	dir := t.TempDir()
	err := create(dir, "sheet.png", 0o644, "frames one")
	if err != nil {
		t.Fatalf("unexpected error creating file: %v", err)
	}

	stream := make(chan Change)
	w, err := NewWatcher(filepath.Join(dir, "sheet.png"), stream, -1, slog.New(slogext.NewJSONHandler(&locked.BytesBuffer{}, nil)))
	if err != nil {
		t.Fatalf("unexpected error returned by NewWatcher: %v", err)
	}
	defer w.Close()
	if !w.last.Equal(sumOf("frames one")) {
		t.Errorf("unexpected initial sum: got:%s want:%s", w.last, sumOf("frames one"))
	}
}

func TestWatcherMissingDir(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing", "sheet.png"), nil, -1, slog.New(slogext.NewJSONHandler(&locked.BytesBuffer{}, nil)))
	if err == nil {
		t.Error("expected error for missing directory")
	}
}

var sumTests = []struct {
	a, b *Sum
	want bool
}{
	{a: nil, b: nil, want: true},
	{a: nil, b: &Sum{}, want: false},
	{a: &Sum{}, b: nil, want: false},
	{a: &Sum{}, b: &Sum{}, want: true},
	{a: &Sum{0: 1}, b: &Sum{}, want: false},
	{a: &Sum{}, b: &Sum{0: 1}, want: false},
}

func TestSum(t *testing.T) {
	for _, test := range sumTests {
		got := test.a.Equal(test.b)
		if got != test.want {
			t.Errorf("unexpected result for %q.equal(%q): got:%t want:%t", test.a, test.b, got, test.want)
		}
	}
}

func TestSumText(t *testing.T) {
	want := sumOf("frames one")
	text, err := want.MarshalText()
	if err != nil {
		t.Fatalf("unexpected error marshaling sum: %v", err)
	}
	var got Sum
	err = got.UnmarshalText(text)
	if err != nil {
		t.Fatalf("unexpected error unmarshaling sum: %v", err)
	}
	if !cmp.Equal(want, &got) {
		t.Errorf("unexpected sum:\n--- want:\n+++ got:\n%s", cmp.Diff(want, &got))
	}
	err = got.UnmarshalText([]byte("short"))
	if err == nil {
		t.Error("expected error for short sum text")
	}
}
