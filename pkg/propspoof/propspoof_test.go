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

package propspoof

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/propsvc"
)

type fakeRegistry struct {
	svc object.IBinder
	set bool
}

func (f *fakeRegistry) PropertyService() (object.IBinder, bool) { return f.svc, f.set }

// fakeService answers property-service transactions with a scripted
// reply, exercising Hook.query without a real binder peer.
type fakeService struct {
	reply func(name string) []byte
	err   error
}

func (f *fakeService) Local() bool { return true }

func (f *fakeService) Transact(code uint32, data []byte, flags object.Flags) (int32, []byte, error) {
	if f.err != nil {
		return -1, nil, f.err
	}
	r := propsvc.NewReader(data)
	_, _ = r.ReadInt32() // strict-mode header
	token, _ := r.ReadString16()
	require_ := token != nil && *token == propsvc.InterfaceToken
	_ = require_
	name, _ := r.ReadString16()
	return 0, f.reply(*name), nil
}

func replyWithValue(v string) []byte {
	w := propsvc.NewWriter()
	w.WriteInt32(0)
	w.WriteString16(v)
	return w.Bytes()
}

func replyWithException(code int32) []byte {
	w := propsvc.NewWriter()
	w.WriteInt32(code)
	return w.Bytes()
}

func replyWithNull() []byte {
	w := propsvc.NewWriter()
	w.WriteInt32(0)
	w.WriteNullableString16(nil)
	return w.Bytes()
}

func TestGetNonTargetPropertyFallsThrough(t *testing.T) {
	called := false
	original := func(name string) string { called = true; return "orig-value" }
	h := New(&fakeRegistry{set: true, svc: &fakeService{}}, original)

	v, n := h.Get("ro.not.a.target")
	require.True(t, called)
	require.Equal(t, "orig-value", v)
	require.Equal(t, len("orig-value"), n)
}

func TestGetTargetPropertyNoServiceFallsThrough(t *testing.T) {
	original := func(name string) string { return "orig" }
	h := New(&fakeRegistry{set: false}, original)

	v, _ := h.Get("ro.secure")
	require.Equal(t, "orig", v)
}

func TestGetTargetPropertySpoofed(t *testing.T) {
	original := func(name string) string { t.Fatal("must not fall through"); return "" }
	svc := &fakeService{reply: func(name string) []byte { return replyWithValue("0") }}
	h := New(&fakeRegistry{set: true, svc: svc}, original)

	v, n := h.Get("ro.secure")
	require.Equal(t, "0", v)
	require.Equal(t, 1, n)
}

func TestGetTruncatesToPropValueMax(t *testing.T) {
	long := strings.Repeat("x", PropValueMax+50)
	svc := &fakeService{reply: func(name string) []byte { return replyWithValue(long) }}
	h := New(&fakeRegistry{set: true, svc: svc}, func(name string) string { return "" })

	v, n := h.Get("ro.debuggable")
	require.Len(t, v, PropValueMax-1)
	require.Equal(t, PropValueMax-1, n)
}

func TestGetExceptionFallsThrough(t *testing.T) {
	svc := &fakeService{reply: func(name string) []byte { return replyWithException(7) }}
	h := New(&fakeRegistry{set: true, svc: svc}, func(name string) string { return "fallback" })

	v, _ := h.Get("ro.secure")
	require.Equal(t, "fallback", v)
}

func TestGetNullReplyFallsThrough(t *testing.T) {
	svc := &fakeService{reply: func(name string) []byte { return replyWithNull() }}
	h := New(&fakeRegistry{set: true, svc: svc}, func(name string) string { return "fallback" })

	v, _ := h.Get("ro.secure")
	require.Equal(t, "fallback", v)
}

func TestGetTransportErrorFallsThrough(t *testing.T) {
	svc := &fakeService{err: assertError("boom")}
	h := New(&fakeRegistry{set: true, svc: svc}, func(name string) string { return "fallback" })

	v, _ := h.Get("ro.secure")
	require.Equal(t, "fallback", v)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestIsTargetProperty(t *testing.T) {
	require.True(t, IsTargetProperty("ro.secure"))
	require.True(t, IsTargetProperty("ro.oem_unlock_supported"))
	require.False(t, IsTargetProperty("ro.build.version.sdk"))
}
