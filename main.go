// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The flipbook command plays sprite sheet animations on a Stream Deck
// key or to its log.
//
// Usage:
//
//	flipbook [-config path] [-log level] [-lines] serve [-network net] [-addr addr] [-image path -size n -count n -fps n] [-watch]
//	flipbook [-config path] [-log level] [-lines] play -image path -size n -count n -fps n [-for duration]
//	flipbook [-config path] ctl [-network net] [-addr addr] who|select [-send] path|start size count fps|stop|state
//	flipbook -version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/kortschak/jsonrpc2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kortschak/flipbook/internal/animation"
	"github.com/kortschak/flipbook/internal/animator"
	"github.com/kortschak/flipbook/internal/config"
	"github.com/kortschak/flipbook/internal/device"
	"github.com/kortschak/flipbook/internal/metrics"
	"github.com/kortschak/flipbook/internal/slogext"
	"github.com/kortschak/flipbook/internal/version"
	"github.com/kortschak/flipbook/internal/xdg"
	"github.com/kortschak/flipbook/rpc"
)

func main() {
	os.Exit(Main())
}

// Main is the flipbook command. It returns the process exit code.
func Main() int {
	cfgPath := flag.String("config", "", "configuration file (default $XDG_CONFIG_HOME/flipbook/flipbook.toml if it exists)")
	logging := flag.String("log", "", "logging level (debug, info, warn or error) (default info)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	v := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `Usage of %s:

  %[1]s [options] serve [-network net] [-addr addr] [-image path -size n -count n -fps n] [-watch]
  %[1]s [options] play -image path -size n -count n -fps n [-for duration]
  %[1]s [options] ctl [-network net] [-addr addr] who|select [-send] path|start size count fps|stop|state

Options:
`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if *v {
		err := version.Print(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}
	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
		return 1
	}
	err = config.ApplyEnv(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
		return 1
	}

	var level slog.LevelVar
	if cfg.LogLevel != nil {
		level.Set(*cfg.LogLevel)
	}
	if *logging != "" {
		err = level.UnmarshalText([]byte(*logging))
		if err != nil {
			flag.Usage()
			return 2
		}
	}
	addSource := slogext.NewAtomicBool(*lines || (cfg.AddSource != nil && *cfg.AddSource))

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			log.LogAttrs(ctx, slog.LevelInfo, "terminating")
			cancel()
		case <-ctx.Done():
		}
	}()

	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "serve":
		return serve(ctx, cfg, args, log)
	case "play":
		return play(ctx, cfg, args, log)
	case "ctl":
		return ctl(ctx, cfg, args, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "flipbook: unknown command %q\n", cmd)
		flag.Usage()
		return 2
	}
}

// loadConfig loads the configuration at path, or the user's configuration
// if path is empty. A missing user configuration is not an error.
func loadConfig(path string) (*config.System, error) {
	if path == "" {
		var err error
		path, err = xdg.Config(filepath.Join("flipbook", "flipbook.toml"), false)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			cfg := &config.System{}
			return cfg, config.Check(cfg)
		}
	}
	return config.Load(path)
}

// animationFlags are the animation parameters shared by serve and play.
// Numeric parameters are held as text to be validated by the controller.
type animationFlags struct {
	image string
	size  string
	count string
	fps   string
}

func (a *animationFlags) register(fs *flag.FlagSet, cfg *config.Animation) {
	if cfg == nil {
		cfg = &config.Animation{}
	}
	fs.StringVar(&a.image, "image", cfg.Image, "sprite sheet image path")
	fs.StringVar(&a.size, "size", itoa(cfg.FrameSize), "frame side length in pixels")
	fs.StringVar(&a.count, "count", itoa(cfg.FrameCount), "number of frames")
	fs.StringVar(&a.fps, "fps", itoa(cfg.FPS), "frames per second")
}

// complete returns whether all the animation parameters have been set.
func (a *animationFlags) complete() bool {
	return a.image != "" && a.size != "" && a.count != "" && a.fps != ""
}

// itoa returns the decimal text of i, or the empty string for zero.
func itoa(i int) string {
	if i == 0 {
		return ""
	}
	return strconv.Itoa(i)
}

// newSurface returns the configured display surface. If no device is
// configured, frames are logged.
func newSurface(ctx context.Context, cfg *config.System, log *slog.Logger) (animation.Surface, io.Closer, error) {
	if cfg.Device == nil {
		s := device.NewLogSurface(log, slog.LevelDebug)
		return s, io.NopCloser(nil), nil
	}
	d := cfg.Device
	s, err := device.NewSurface(ctx, d.PID, d.Serial, d.Row, d.Col, log)
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

func play(ctx context.Context, cfg *config.System, args []string, log *slog.Logger) int {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	var anim animationFlags
	anim.register(fs, cfg.Animation)
	dur := fs.Duration("for", 0, "play duration (default until interrupted)")
	err := fs.Parse(args)
	if err != nil {
		return 2
	}
	if !anim.complete() {
		fmt.Fprintln(os.Stderr, "flipbook: play requires image, size, count and fps")
		fs.Usage()
		return 2
	}
	mlog := log.With(slog.String("component", "flipbook.play"))

	surface, closer, err := newSurface(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
		return 1
	}
	defer closer.Close()

	ctrl := animator.New(nil, surface, nil, log)
	_, err = ctrl.LoadFile(ctx, anim.image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
		return 1
	}
	err = ctrl.Start(ctx, anim.size, anim.count, anim.fps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
		return 1
	}

	var timeout <-chan time.Time
	if *dur > 0 {
		timer := time.NewTimer(*dur)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
	case <-timeout:
	}
	st := ctrl.State(ctx)
	ctrl.Stop(ctx)
	mlog.LogAttrs(ctx, slog.LevelInfo, "played", slog.Any("state", st))
	fmt.Printf("played %d frames of %d at %v per frame\n", st.Playback.Ticks, st.Playback.Frames, st.Playback.Interval)
	return 0
}

func serve(ctx context.Context, cfg *config.System, args []string, log *slog.Logger) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	network := fs.String("network", cfg.Server.Network, "server network (unix or tcp)")
	addr := fs.String("addr", cfg.Server.Addr, "server address (default runtime socket or loopback ephemeral port)")
	metricsAddr := fs.String("metrics", cfg.Server.Metrics, "Prometheus metrics listen address (default no metrics)")
	var anim animationFlags
	anim.register(fs, cfg.Animation)
	watch := fs.Bool("watch", cfg.Animation != nil && cfg.Animation.Watch, "reload the image when it changes")
	err := fs.Parse(args)
	if err != nil {
		return 2
	}
	mlog := log.With(slog.String("component", "flipbook.serve"))

	if *network == "unix" && *addr == "" {
		unlock, err := lock()
		if err != nil {
			fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
			return 1
		}
		defer unlock()
	}

	surface, closer, err := newSurface(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
		return 1
	}
	defer closer.Close()

	var (
		obs rpc.RequestObserver
		reg *prometheus.Registry
	)
	if *metricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(reg)
		surface = m.Surface(surface)
		obs = m
		addr, err := metrics.Serve(ctx, *metricsAddr, reg, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flipbook: failed to start metrics server: %v\n", err)
			return 1
		}
		mlog.LogAttrs(ctx, slog.LevelInfo, "metrics", slog.Any("addr", slogext.Stringer{Stringer: addr}))
	}

	ctrl := animator.New(nil, surface, nil, log)
	// Playback must end before the surface is closed.
	defer ctrl.Stop(context.Background())
	if reg != nil {
		metrics.Playing(reg, ctrl.Running)
	}
	if anim.image != "" {
		anim.image, err = filepath.Abs(anim.image)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
			return 1
		}
		_, err = ctrl.LoadFile(ctx, anim.image)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
			return 1
		}
		if anim.complete() {
			err = ctrl.Start(ctx, anim.size, anim.count, anim.fps)
			if err != nil {
				fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
				return 1
			}
		}
	}

	srv, err := rpc.NewServer(ctx, *network, *addr, ctrl, obs, jsonrpc2.NetListenOptions{}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flipbook: failed to start server: %v\n", err)
		return 1
	}
	defer func() {
		err := srv.Close()
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "server close", slog.Any("error", err))
		}
	}()
	mlog.LogAttrs(ctx, slog.LevelInfo, "serving", slog.String("network", *network), slog.Any("addr", slogext.Stringer{Stringer: srv.Addr()}))

	if d, ok := closer.(*device.Surface); ok {
		srv.SetDevice(&rpc.Device{Model: d.PID().String(), PID: uint16(d.PID()), Serial: d.Serial()})
		go d.Watch(ctx, func(ctx context.Context, _ time.Time) {
			toggle(ctx, ctrl, anim, mlog)
		})
	}

	if *watch {
		if anim.image == "" {
			fmt.Fprintln(os.Stderr, "flipbook: watch requires an image")
			return 2
		}
		changes := make(chan config.Change)
		w, err := config.NewWatcher(anim.image, changes, -1, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flipbook: failed to watch image: %v\n", err)
			return 1
		}
		go func() {
			err := w.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				mlog.LogAttrs(ctx, slog.LevelError, "image watcher", slog.Any("error", err))
			}
		}()
		go reload(ctx, ctrl, changes, mlog)
	}

	<-ctx.Done()
	return 0
}

// lock takes the pid lock in the runtime directory and removes any stale
// default socket.
func lock() (unlock func(), err error) {
	dir, err := xdg.MkRuntime(rpc.RuntimeDir)
	if err != nil {
		return nil, err
	}
	pidFile := filepath.Join(dir, "pid")
	fl := flock.New(pidFile)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("flipbook is already running")
	}
	unlock = func() {
		fl.Unlock()
		os.Remove(pidFile)
	}
	pid := fmt.Sprintln(os.Getpid())
	err = os.WriteFile(pidFile, []byte(pid), 0o600)
	if err != nil {
		unlock()
		return nil, err
	}
	sock, err := rpc.SocketPath()
	if err != nil {
		unlock()
		return nil, err
	}
	err = os.Remove(sock)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		unlock()
		return nil, err
	}
	return unlock, nil
}

// toggle stops running playback or starts stopped playback, preferring
// the last accepted parameters.
func toggle(ctx context.Context, ctrl *animator.Controller, anim animationFlags, log *slog.Logger) {
	if ctrl.Running() {
		ctrl.Stop(ctx)
		return
	}
	if ctrl.Restart(ctx) {
		return
	}
	err := ctrl.Start(ctx, anim.size, anim.count, anim.fps)
	if err != nil {
		log.LogAttrs(ctx, slog.LevelWarn, "toggle start", slog.Any("error", err))
	}
}

// reload reloads the image for each change while it is the current image.
func reload(ctx context.Context, ctrl *animator.Controller, changes <-chan config.Change, log *slog.Logger) {
	for {
		var change config.Change
		select {
		case <-ctx.Done():
			return
		case change = <-changes:
		}
		if change.Err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "image watch error", slog.Any("error", change.Err))
			continue
		}
		if path := ctrl.State(ctx).Path; path != change.Path {
			log.LogAttrs(ctx, slog.LevelDebug, "ignoring change to unselected image", slog.String("path", change.Path), slog.String("current", path))
			continue
		}
		err := ctrl.Reload(ctx)
		if err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "image reload", slog.String("path", change.Path), slog.Any("error", err))
			continue
		}
		log.LogAttrs(ctx, slog.LevelInfo, "image reloaded", slog.String("path", change.Path), slog.String("sum", change.Sum.String()))
	}
}

func ctl(ctx context.Context, cfg *config.System, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("ctl", flag.ContinueOnError)
	network := fs.String("network", cfg.Server.Network, "server network (unix or tcp)")
	addr := fs.String("addr", cfg.Server.Addr, "server address (default runtime socket)")
	err := fs.Parse(args)
	if err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	if *addr == "" {
		if *network != "unix" {
			fmt.Fprintln(os.Stderr, "flipbook: ctl requires an address for tcp")
			return 2
		}
		*addr, err = rpc.SocketPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
			return 1
		}
	}

	method := fs.Arg(0)
	mfs := flag.NewFlagSet("ctl "+method, flag.ContinueOnError)
	var (
		send  *bool
		nargs int
	)
	usage := method
	switch method {
	case rpc.Who, rpc.Stop, rpc.State:
	case rpc.SelectImage:
		send = mfs.Bool("send", false, "send the image data rather than its path")
		nargs = 1
		usage += " [-send] path"
	case rpc.Start:
		nargs = 3
		usage += " size count fps"
	default:
		fmt.Fprintf(os.Stderr, "flipbook: unknown method %q\n", method)
		fs.Usage()
		return 2
	}
	mfs.Usage = func() {
		fmt.Fprintf(mfs.Output(), "Usage: %s ctl %s\n", filepath.Base(os.Args[0]), usage)
		mfs.PrintDefaults()
	}
	err = mfs.Parse(fs.Args()[1:])
	if err != nil {
		return 2
	}
	if mfs.NArg() != nargs {
		mfs.Usage()
		return 2
	}
	params := mfs.Args()

	uid := rpc.UID{Module: "flipbook.ctl", Service: uuid.NewString()}
	client, err := rpc.NewClient(ctx, *network, *addr, uid, net.Dialer{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "flipbook: failed to connect: %v\n", err)
		return 1
	}
	defer client.Close()

	var result any
	switch method {
	case rpc.Who:
		result, err = client.Who(ctx)
	case rpc.SelectImage:
		if *send {
			var data []byte
			data, err = os.ReadFile(params[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
				return 1
			}
			result, err = client.SelectData(ctx, data)
		} else {
			var path string
			path, err = filepath.Abs(params[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
				return 1
			}
			result, err = client.SelectFile(ctx, path)
		}
	case rpc.Start:
		result, err = client.Start(ctx, params[0], params[1], params[2])
	case rpc.Stop:
		result, err = client.Stop(ctx)
	case rpc.State:
		result, err = client.State(ctx)
	}
	if err != nil {
		var wireErr *jsonrpc2.WireError
		if errors.As(err, &wireErr) && len(wireErr.Data) != 0 {
			fmt.Fprintf(os.Stderr, "flipbook: %s: %s\n", wireErr.Message, wireErr.Data)
		} else {
			fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
		}
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "\t")
	err = enc.Encode(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flipbook: %v\n", err)
		return 1
	}
	return 0
}
