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

package binderctl

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/threadqueue"
)

// fakeRegistry scripts NeedIntercept without a real intercept.Registry.
type fakeRegistry struct {
	need map[object.WeakRef]bool
}

func (f *fakeRegistry) NeedIntercept(target object.WeakRef) bool { return f.need[target] }

func buildTransactionBuffer(t *testing.T, cmd uint32, tr binder.TransactionData) []byte {
	t.Helper()
	buf := make([]byte, 4+unsafe.Sizeof(tr))
	binary.LittleEndian.PutUint32(buf, cmd)
	*(*binder.TransactionData)(unsafe.Pointer(&buf[4])) = tr
	return buf
}

func TestProcessReadBufferRewritesInterceptedTarget(t *testing.T) {
	target := object.NewLocal("svc", nil)
	handle := uint64(7)

	nodes := NewNodes()
	weak := object.Weaken(target)
	nodes.byID[handle] = weak

	reg := &fakeRegistry{need: map[object.WeakRef]bool{weak: true}}
	rd := New(nodes, reg, 0xAAAA)

	tr := binder.TransactionData{TargetPtr: handle, Cookie: handle, Code: 55}
	buf := buildTransactionBuffer(t, binder.BRTransaction, tr)

	rd.ProcessReadBuffer(buf, uint64(len(buf)))

	got := (*binder.TransactionData)(unsafe.Pointer(&buf[4]))
	require.Equal(t, uint64(0xAAAA), got.TargetPtr)
	require.Equal(t, uint64(0xAAAA), got.Cookie)
	require.Equal(t, binder.SentinelBackdoorCode, got.Code)

	rec, ok := threadqueue.Pop()
	require.True(t, ok)
	require.Equal(t, uint32(55), rec.Code)
	require.False(t, rec.IsBackdoor)
}

func TestProcessReadBufferLeavesUnregisteredTargetAlone(t *testing.T) {
	target := object.NewLocal("svc", nil)
	handle := uint64(9)

	nodes := NewNodes()
	nodes.byID[handle] = object.Weaken(target)
	reg := &fakeRegistry{need: map[object.WeakRef]bool{}}
	rd := New(nodes, reg, 0xAAAA)

	tr := binder.TransactionData{TargetPtr: handle, Cookie: handle, Code: 55}
	buf := buildTransactionBuffer(t, binder.BRTransaction, tr)

	rd.ProcessReadBuffer(buf, uint64(len(buf)))

	got := (*binder.TransactionData)(unsafe.Pointer(&buf[4]))
	require.Equal(t, handle, got.TargetPtr)
	require.Equal(t, uint32(55), got.Code)

	require.Equal(t, 0, threadqueue.Len())
}

func TestProcessReadBufferBackdoor(t *testing.T) {
	nodes := NewNodes()
	reg := &fakeRegistry{need: map[object.WeakRef]bool{}}
	rd := New(nodes, reg, 0xAAAA)

	tr := binder.TransactionData{
		TargetPtr:  0x1234, // any nonzero address, the original target is irrelevant
		Code:       binder.SentinelBackdoorCode,
		SenderEuid: 0,
	}
	buf := buildTransactionBuffer(t, binder.BRTransaction, tr)

	rd.ProcessReadBuffer(buf, uint64(len(buf)))

	got := (*binder.TransactionData)(unsafe.Pointer(&buf[4]))
	require.Equal(t, uint64(0xAAAA), got.TargetPtr)

	rec, ok := threadqueue.Pop()
	require.True(t, ok)
	require.True(t, rec.IsBackdoor)
}

func TestProcessReadBufferRejectsNonRootBackdoor(t *testing.T) {
	nodes := NewNodes()
	reg := &fakeRegistry{need: map[object.WeakRef]bool{}}
	rd := New(nodes, reg, 0xAAAA)

	tr := binder.TransactionData{
		TargetPtr:  0x1234,
		Code:       binder.SentinelBackdoorCode,
		SenderEuid: 2000,
	}
	buf := buildTransactionBuffer(t, binder.BRTransaction, tr)

	rd.ProcessReadBuffer(buf, uint64(len(buf)))

	got := (*binder.TransactionData)(unsafe.Pointer(&buf[4]))
	require.Equal(t, uint64(0x1234), got.TargetPtr, "non-root sender must not trigger the backdoor")
	require.Equal(t, 0, threadqueue.Len())
}

func TestProcessReadBufferStopsWhenConsumedExceedsBuffer(t *testing.T) {
	nodes := NewNodes()
	reg := &fakeRegistry{need: map[object.WeakRef]bool{}}
	rd := New(nodes, reg, 0xAAAA)

	// Declare far more consumed bytes than the buffer actually holds.
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, binder.BRTransaction)

	require.NotPanics(t, func() {
		rd.ProcessReadBuffer(buf, 9999)
	})
}

func TestNodesPublishResolve(t *testing.T) {
	nodes := NewNodes()
	o := object.NewLocal("x", nil)
	h := nodes.Publish(o)

	got, ok := nodes.Resolve(h)
	require.True(t, ok)
	require.Same(t, o, got)

	_, ok = nodes.Resolve(h + 1)
	require.False(t, ok)
}

func TestIsBinderFDCachesResult(t *testing.T) {
	nodes := NewNodes()
	reg := &fakeRegistry{}
	rd := New(nodes, reg, 0)

	calls := 0
	rd.readlink = func(name string) (string, error) {
		calls++
		return "/dev/binder", nil
	}

	require.True(t, rd.isBinderFD(3))
	require.True(t, rd.isBinderFD(3))
	require.Equal(t, 1, calls, "classification must be cached after the first lookup")
}
