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

package transport

import (
	"bytes"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Code: 7, Flags: 1, Data: []byte("hello")}
	require.NoError(t, WriteRequest(&buf, req))

	got, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	resp := Response{Status: -74, Data: []byte("reply")}
	require.NoError(t, WriteResponse(&buf, resp))

	got, err := ReadResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, resp, got)
}

func TestReadRequestRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Code: 1, Data: nil}
	require.NoError(t, WriteRequest(&buf, req))

	raw := buf.Bytes()
	raw[8] = 0xff
	raw[9] = 0xff
	raw[10] = 0xff
	raw[11] = 0xff

	_, err := ReadRequest(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestServeAndClientRoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "transport.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()

	go Serve(ln, func(req Request) Response {
		return Response{Status: 0, Data: append([]byte("echo:"), req.Data...)}
	})

	client, err := Dial("unix", sock)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(Request{Code: 1, Data: []byte("ping")})
	require.NoError(t, err)
	require.Equal(t, int32(0), resp.Status)
	require.Equal(t, []byte("echo:ping"), resp.Data)

	resp2, err := client.Call(Request{Code: 2, Data: []byte("again")})
	require.NoError(t, err)
	require.Equal(t, []byte("echo:again"), resp2.Data)
}
