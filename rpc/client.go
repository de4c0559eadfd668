// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"net"

	"github.com/kortschak/jsonrpc2"
)

// Client is a connection to a flipbook Server.
type Client struct {
	uid  UID
	conn *jsonrpc2.Connection
}

// NewClient returns a new client identified by uid communicating with the
// server at addr on the provided network.
func NewClient(ctx context.Context, network, addr string, uid UID, dialer net.Dialer) (*Client, error) {
	c := Client{uid: uid}
	var err error
	c.conn, err = jsonrpc2.Dial(ctx, jsonrpc2.NetDialer(network, addr, dialer), jsonrpc2.ConnectionOptions{})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UID returns the client's unique ID.
func (c *Client) UID() UID {
	return c.uid
}

// Who returns the server's version.
func (c *Client) Who(ctx context.Context) (string, error) {
	var resp Message[string]
	err := c.Call(ctx, Who, NewMessage(c.uid, None{})).Await(ctx, &resp)
	return resp.Body, err
}

// SelectFile requests the server load the image at path.
func (c *Client) SelectFile(ctx context.Context, path string) (Image, error) {
	return c.selectImage(ctx, Select{Path: path})
}

// SelectData sends the encoded image in data to the server.
func (c *Client) SelectData(ctx context.Context, data []byte) (Image, error) {
	return c.selectImage(ctx, Select{Data: data})
}

func (c *Client) selectImage(ctx context.Context, sel Select) (Image, error) {
	var resp Message[Image]
	err := c.Call(ctx, SelectImage, NewMessage(c.uid, sel)).Await(ctx, &resp)
	return resp.Body, err
}

// Start requests the server start playback with the provided parameters.
// Parameter validation errors are returned as *jsonrpc2.WireError with
// the ErrCodeParameter code.
func (c *Client) Start(ctx context.Context, frameSize, frameCount, fps string) (SysState, error) {
	return c.state(ctx, Start, StartParams{FrameSize: frameSize, FrameCount: frameCount, FPS: fps})
}

// Stop requests the server stop playback.
func (c *Client) Stop(ctx context.Context) (SysState, error) {
	return c.state(ctx, Stop, None{})
}

// State returns the server's state.
func (c *Client) State(ctx context.Context) (SysState, error) {
	return c.state(ctx, State, None{})
}

func (c *Client) state(ctx context.Context, method string, body any) (SysState, error) {
	var resp Message[SysState]
	err := c.Call(ctx, method, NewMessage(c.uid, body)).Await(ctx, &resp)
	return resp.Body, err
}

// Call invokes the target method and returns an object that can be used to await
// the response.
// See [jsonrpc2.Connection.Call].
func (c *Client) Call(ctx context.Context, method string, params any) *jsonrpc2.AsyncCall {
	return c.conn.Call(ctx, method, params)
}

// Close stops listening to requests and closes the client's connection.
// See [jsonrpc2.Connection.Close].
func (c *Client) Close() error {
	return c.conn.Close()
}
