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

package stub

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/intercept"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/threadqueue"
)

func TestDispatchWithNoPendingRecordReturnsUnknownTransaction(t *testing.T) {
	s := New(intercept.NewRegistry())
	status, reply := s.Dispatch(nil, 0, 0, 0)
	require.Equal(t, int32(intercept.StatusUnknownTransaction), status)
	require.Nil(t, reply)
}

func TestDispatchBackdoorReturnsRegistryHandle(t *testing.T) {
	registry := intercept.NewRegistry()
	s := New(registry)

	threadqueue.Push(threadqueue.Record{IsBackdoor: true})
	status, reply := s.Dispatch(nil, 0, 0, 0)
	require.Equal(t, int32(intercept.StatusOK), status)

	p := binder.NewParcelFrom(reply)
	handle, err := p.ReadUint64()
	require.NoError(t, err)

	obj, ok := registry.Objects().Get(handle)
	require.True(t, ok)
	require.Same(t, registry, obj)
}

func TestDispatchPromoteFailureReturnsUnknownTransaction(t *testing.T) {
	registry := intercept.NewRegistry()
	s := New(registry)

	weak := deadWeakRef()

	threadqueue.Push(threadqueue.Record{Code: 7, Target: weak})
	status, reply := s.Dispatch(nil, 0, 100, 200)
	require.Equal(t, int32(intercept.StatusUnknownTransaction), status)
	require.Nil(t, reply)
}

func TestDispatchFallsThroughToOriginalTargetWhenNoInterceptorRegistered(t *testing.T) {
	registry := intercept.NewRegistry()
	s := New(registry)

	called := false
	target := object.NewLocal("real", func(code uint32, data []byte, flags object.Flags) (int32, []byte, error) {
		called = true
		require.EqualValues(t, 7, code)
		return int32(intercept.StatusOK), []byte("original-reply"), nil
	})
	weak := object.Weaken(target)

	threadqueue.Push(threadqueue.Record{Code: 7, Target: weak})
	status, reply := s.Dispatch([]byte("req"), 0, 100, 200)
	require.True(t, called)
	require.Equal(t, int32(intercept.StatusOK), status)
	require.Equal(t, []byte("original-reply"), reply)
}

func TestDispatchRoutesThroughRegisteredInterceptor(t *testing.T) {
	registry := intercept.NewRegistry()
	s := New(registry)

	target := object.NewLocal("real", func(code uint32, data []byte, flags object.Flags) (int32, []byte, error) {
		t.Fatal("original target should not be called when PRE overrides the reply")
		return 0, nil, nil
	})

	var preCalls int
	interceptor := object.NewLocal("interceptor", func(code uint32, data []byte, flags object.Flags) (int32, []byte, error) {
		require.Equal(t, uint32(intercept.CodePreTransact), code)
		preCalls++
		return int32(intercept.StatusOK), overrideReplyVerdict(int32(intercept.StatusOK), []byte("intercepted-reply")), nil
	})

	require.NoError(t, registry.Register(target, interceptor))

	weak := object.Weaken(target)
	threadqueue.Push(threadqueue.Record{Code: 7, Target: weak})
	status, reply := s.Dispatch([]byte("req"), 0, 100, 200)
	require.Equal(t, 1, preCalls)
	require.Equal(t, int32(intercept.StatusOK), status)
	require.Equal(t, []byte("intercepted-reply"), reply)
}

// overrideReplyVerdict builds the PRE_TRANSACT reply parcel carrying a
// VerdictOverrideReply, matching Registry.HandleIntercept's wire
// contract: verdict, status, then the framed reply bytes.
func overrideReplyVerdict(status int32, reply []byte) []byte {
	p := binder.NewParcel()
	p.WriteInt32(3) // intercept.VerdictOverrideReply
	p.WriteInt32(status)
	p.WriteFramedBytes(reply)
	return p.Bytes()
}

// deadWeakRef returns a WeakRef whose referent has already been
// collected, so Promote always fails. The target is built in a
// helper so no strong reference survives on the caller's stack, and
// runtime.GC is forced so the weak pointer clears deterministically.
func deadWeakRef() object.WeakRef {
	w := buildAndWeaken()
	runtime.GC()
	runtime.GC()
	return w
}

func buildAndWeaken() object.WeakRef {
	target := object.NewLocal("gone", nil)
	return object.Weaken(target)
}
