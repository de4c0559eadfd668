// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync/atomic"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/flipbook/internal/animator"
	"github.com/kortschak/flipbook/internal/sheet"
	"github.com/kortschak/flipbook/internal/slogext"
	"github.com/kortschak/flipbook/internal/version"
	"github.com/kortschak/flipbook/internal/xdg"
)

// RuntimeDir is the path within XDG_RUNTIME_DIR that unix sockets
// are created in if the unix network is used for communication.
const RuntimeDir = "flipbook"

// Controller is the animation controller driven by a Server.
type Controller interface {
	LoadFile(ctx context.Context, path string) (*sheet.Image, error)
	LoadImage(ctx context.Context, r io.Reader) (*sheet.Image, error)
	Start(ctx context.Context, frameSize, frameCount, fps string) error
	Stop(ctx context.Context)
	State(ctx context.Context) animator.State
}

// Server is a JSON RPC 2 command server for an animation controller.
type Server struct {
	listener *listener
	server   *jsonrpc2.Server
	network  string

	ctrl   Controller
	obs    RequestObserver
	device atomic.Pointer[Device]

	log *slog.Logger
}

// RequestObserver records handled calls.
type RequestObserver interface {
	// ObserveRequest is called after each call to a server
	// method with the method name and the wire error code of
	// the result, zero for success.
	ObserveRequest(method string, code int64)
}

var serverUID = UID{Module: "flipbook", Service: "rpc"}

// SocketPath returns the default unix socket path, creating RuntimeDir
// if necessary.
func SocketPath() (string, error) {
	dir, err := xdg.MkRuntime(RuntimeDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "flipbook.sock"), nil
}

// NewServer returns a new Server controlling ctrl and communicating over
// the provided network which may be either "unix" or "tcp". If addr is
// empty, SocketPath is used for unix and an ephemeral loopback port is
// used for tcp. If obs is not nil, it is notified of each handled call.
func NewServer(ctx context.Context, network, addr string, ctrl Controller, obs RequestObserver, options jsonrpc2.NetListenOptions, log *slog.Logger) (*Server, error) {
	s := Server{
		network: network,
		ctrl:    ctrl,
		obs:     obs,
		log:     log.With(slog.String("component", serverUID.String())),
	}
	var err error

	switch network {
	case "unix":
		if addr == "" {
			addr, err = SocketPath()
			if err != nil {
				return nil, err
			}
		}
	case "tcp":
		if addr == "" {
			addr = "localhost:0"
		}
	default:
		return nil, fmt.Errorf("invalid network: %q", network)
	}

	s.listener, err = newListener(ctx, s.network, addr, options)
	if err != nil {
		return nil, err
	}
	s.server = jsonrpc2.NewServer(ctx, s.listener, &s)

	s.log.LogAttrs(ctx, slog.LevelInfo, "new server", slog.String("network", s.network), slog.Any("addr", slogext.Stringer{Stringer: s.listener.Addr()}))
	return &s, nil
}

// Addr returns the listener address of the server.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Bind binds the server's handler to a connection.
func (s *Server) Bind(ctx context.Context, conn *jsonrpc2.Connection) jsonrpc2.ConnectionOptions {
	s.log.LogAttrs(ctx, slog.LevelDebug, "binding")
	return jsonrpc2.ConnectionOptions{
		Handler: s,
	}
}

// Handle is the server's message handler.
func (s *Server) Handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	res, err := s.handle(ctx, req)
	if s.obs != nil && req.IsCall() && !errors.Is(err, jsonrpc2.ErrNotHandled) {
		var code int64
		if err != nil {
			code = ErrCodeInternal
			var wireErr *jsonrpc2.WireError
			if errors.As(err, &wireErr) {
				code = wireErr.Code
			}
		}
		s.obs.ObserveRequest(req.Method, code)
	}
	return res, err
}

func (s *Server) handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	s.log.LogAttrs(ctx, slog.LevelDebug, "handle", slog.Any("req", slogext.Request{Request: req}))
	if !req.IsCall() {
		s.log.LogAttrs(ctx, slog.LevelWarn, "unexpected notification", slog.String("method", req.Method))
		return nil, jsonrpc2.ErrNotHandled
	}

	switch req.Method {
	case Who:
		var m Message[None]
		err := UnmarshalMessage(req.Params, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			return nil, err
		}
		v, err := version.String()
		if err != nil {
			v = err.Error()
		}
		return NewMessage(serverUID, v), nil

	case SelectImage:
		var m Message[Select]
		err := UnmarshalMessage(req.Params, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			return nil, err
		}
		s.log.LogAttrs(ctx, slog.LevelDebug, req.Method, slog.Any("from", m.UID), slog.String("path", m.Body.Path), slog.Int("data_len", len(m.Body.Data)))
		return s.selectImage(ctx, m)

	case Start:
		var m Message[StartParams]
		err := UnmarshalMessage(req.Params, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			return nil, err
		}
		s.log.LogAttrs(ctx, slog.LevelDebug, req.Method, slog.Any("from", m.UID), slog.Any("params", m.Body))
		err = s.ctrl.Start(ctx, m.Body.FrameSize, m.Body.FrameCount, m.Body.FPS)
		if err != nil {
			return nil, wireError(err)
		}
		return NewMessage(serverUID, s.state(ctx)), nil

	case Stop:
		var m Message[None]
		err := UnmarshalMessage(req.Params, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			return nil, err
		}
		s.ctrl.Stop(ctx)
		return NewMessage(serverUID, s.state(ctx)), nil

	case State:
		var m Message[None]
		err := UnmarshalMessage(req.Params, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			return nil, err
		}
		return NewMessage(serverUID, s.state(ctx)), nil

	default:
		return nil, jsonrpc2.ErrNotHandled
	}
}

func (s *Server) selectImage(ctx context.Context, m Message[Select]) (any, error) {
	var (
		img *sheet.Image
		err error
	)
	switch {
	case m.Body.Path != "" && m.Body.Data != nil:
		return nil, NewError(ErrCodeParameters, "only one of path and data may be provided", nil)
	case m.Body.Path != "":
		img, err = s.ctrl.LoadFile(ctx, m.Body.Path)
	case m.Body.Data != nil:
		img, err = s.ctrl.LoadImage(ctx, bytes.NewReader(m.Body.Data))
	default:
		return nil, NewError(ErrCodeParameters, "one of path or data must be provided", nil)
	}
	if err != nil {
		return nil, wireError(err)
	}
	return NewMessage(serverUID, Image{Size: img.Size(), Format: img.Format()}), nil
}

func (s *Server) state(ctx context.Context) SysState {
	return SysState{
		Network: s.network,
		Addr:    s.listener.Addr().String(),
		Device:  s.device.Load(),
		State:   s.ctrl.State(ctx),
	}
}

// SetDevice sets the display device reported in state responses.
func (s *Server) SetDevice(d *Device) {
	s.device.Store(d)
}

// wireError returns err as a *jsonrpc2.WireError with a code that
// reflects the sheet package error kind.
func wireError(err error) error {
	var (
		decErr   *sheet.DecodeError
		sqErr    *sheet.NonSquareError
		paramErr *sheet.ParamError
	)
	switch {
	case errors.Is(err, sheet.ErrNoImage):
		return NewError(ErrCodeNoImage, err.Error(), nil)
	case errors.As(err, &decErr):
		return NewError(ErrCodeDecode, err.Error(), nil)
	case errors.As(err, &sqErr):
		return NewError(ErrCodeNonSquare, err.Error(), map[string]any{
			"width":  sqErr.Width,
			"height": sqErr.Height,
		})
	case errors.As(err, &paramErr):
		return NewError(ErrCodeParameter, err.Error(), map[string]any{
			"field":  paramErr.Field,
			"input":  paramErr.Input,
			"reason": paramErr.Reason,
		})
	default:
		return NewError(ErrCodeInternal, err.Error(), nil)
	}
}

// Close closes the server.
func (s *Server) Close() error {
	ctx := context.Background()
	s.log.LogAttrs(ctx, slog.LevelDebug, "close")
	s.server.Shutdown()
	return s.server.Wait()
}
