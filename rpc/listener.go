// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"

	"github.com/kortschak/jsonrpc2"
)

// listener is a jsonrpc2.Listener for flipbook command connections. Unix
// sockets are only accessible to the owning user and are removed on Close.
type listener struct {
	ln   net.Listener
	sock string
}

func newListener(ctx context.Context, network, addr string, options jsonrpc2.NetListenOptions) (*listener, error) {
	ln, err := options.NetListenConfig.Listen(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	l := &listener{ln: ln}
	if network == "unix" {
		l.sock = ln.Addr().String()
		err = os.Chmod(l.sock, 0o600)
		if err != nil {
			ln.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *listener) Accept(context.Context) (io.ReadWriteCloser, error) {
	return l.ln.Accept()
}

// Close stops listening. Accepted connections are not closed.
func (l *listener) Close() error {
	err := l.ln.Close()
	if l.sock != "" {
		rerr := os.Remove(l.sock)
		if rerr != nil && !errors.Is(rerr, fs.ErrNotExist) && err == nil {
			err = rerr
		}
	}
	return err
}

// Dialer returns nil; clients dial the server with NewClient.
func (l *listener) Dialer() jsonrpc2.Dialer {
	return nil
}
