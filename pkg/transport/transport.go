//
// Copyright 2024 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package transport is the one plain request/reply framing this repo
// uses whenever a transaction has to cross an actual OS socket instead
// of a same-process object.IBinder call: the agent's admin surface
// (cmd/interceptctl talking to a live cmd/agent) and the property
// policy service surface (pkg/propsvc talking to cmd/propsvc-mock)
// both carry a binder-shaped (code, flags, data) -> (status, data)
// exchange, so they share this one framing instead of each inventing
// their own.
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// maxFrameLen bounds a single frame's data so a misbehaving peer can't
// force an unbounded allocation.
const maxFrameLen = 1 << 20

// Request is one transaction sent over the wire.
type Request struct {
	Code  uint32
	Flags uint32
	Data  []byte
}

// Response is a Request's answer.
type Response struct {
	Status int32
	Data   []byte
}

// WriteRequest frames req as: code(4) flags(4) datalen(4) data, all
// little-endian.
func WriteRequest(w io.Writer, req Request) error {
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], req.Code)
	binary.LittleEndian.PutUint32(hdr[4:8], req.Flags)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(req.Data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(req.Data)
	return err
}

// ReadRequest reads one frame written by WriteRequest.
func ReadRequest(r io.Reader) (Request, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Request{}, err
	}
	dataLen := binary.LittleEndian.Uint32(hdr[8:12])
	if dataLen > maxFrameLen {
		return Request{}, fmt.Errorf("transport: request frame too large: %d", dataLen)
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return Request{}, err
	}
	return Request{
		Code:  binary.LittleEndian.Uint32(hdr[0:4]),
		Flags: binary.LittleEndian.Uint32(hdr[4:8]),
		Data:  data,
	}, nil
}

// WriteResponse frames resp as: status(4) datalen(4) data.
func WriteResponse(w io.Writer, resp Response) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(resp.Status))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(resp.Data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(resp.Data)
	return err
}

// ReadResponse reads one frame written by WriteResponse.
func ReadResponse(r io.Reader) (Response, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Response{}, err
	}
	dataLen := binary.LittleEndian.Uint32(hdr[4:8])
	if dataLen > maxFrameLen {
		return Response{}, fmt.Errorf("transport: response frame too large: %d", dataLen)
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return Response{}, err
	}
	return Response{
		Status: int32(binary.LittleEndian.Uint32(hdr[0:4])),
		Data:   data,
	}, nil
}

// Handler answers one Request synchronously.
type Handler func(req Request) Response

// Serve accepts connections from ln until it errors (typically
// because the listener was closed) and services each with h,
// sequentially per connection, concurrently across connections.
func Serve(ln net.Listener, h Handler) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go serveConn(conn, h)
	}
}

func serveConn(conn net.Conn, h Handler) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		req, err := ReadRequest(br)
		if err != nil {
			return
		}
		resp := h(req)
		if err := WriteResponse(conn, resp); err != nil {
			return
		}
	}
}

// Client is a synchronous request/reply client over one persistent
// connection. Safe for concurrent use; calls are serialized.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to a transport server, e.g. Dial("unix", path).
func Dial(network, addr string) (*Client, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Call sends req and waits for the matching response.
func (c *Client) Call(req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := WriteRequest(c.conn, req); err != nil {
		return Response{}, err
	}
	return ReadResponse(c.conn)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
