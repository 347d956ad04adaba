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

package intercept

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
)

// fakeInterceptor lets tests script PRE/POST verdicts without a real
// transport, the way fileMonitor/pidmonitor tests fake the clock
// instead of sleeping.
type fakeInterceptor struct {
	preReply  func(data []byte) []byte
	postReply func(data []byte) []byte
	preCalls  int
	postCalls int
	replaced  int
}

func (f *fakeInterceptor) Local() bool { return true }

func (f *fakeInterceptor) Transact(code uint32, data []byte, flags object.Flags) (int32, []byte, error) {
	switch code {
	case CodePreTransact:
		f.preCalls++
		return int32(StatusOK), f.preReply(data), nil
	case CodePostTransact:
		f.postCalls++
		return int32(StatusOK), f.postReply(data), nil
	case CodeInterceptorReplaced:
		f.replaced++
		return int32(StatusOK), nil, nil
	}
	return int32(StatusUnknownTransaction), nil, nil
}

func continueVerdict() []byte {
	p := binder.NewParcel()
	p.WriteInt32(int32(VerdictContinue))
	return p.Bytes()
}

func overrideReplyVerdict(status int32, reply []byte) []byte {
	p := binder.NewParcel()
	p.WriteInt32(int32(VerdictOverrideReply))
	p.WriteInt32(status)
	p.WriteFramedBytes(reply)
	return p.Bytes()
}

func overrideDataVerdict(data []byte) []byte {
	p := binder.NewParcel()
	p.WriteInt32(int32(VerdictOverrideData))
	p.WriteFramedBytes(data)
	return p.Bytes()
}

func skipVerdict() []byte {
	p := binder.NewParcel()
	p.WriteInt32(int32(VerdictSkip))
	return p.Bytes()
}

// S1: CONTINUE through PRE, target runs, CONTINUE through POST.
func TestScenarioS1Continue(t *testing.T) {
	var seenByTarget []byte
	target := object.NewLocal("T", func(code uint32, data []byte, flags object.Flags) (int32, []byte, error) {
		seenByTarget = data
		return int32(StatusOK), []byte("xyz"), nil
	})

	interceptor := &fakeInterceptor{
		preReply:  func(data []byte) []byte { return continueVerdict() },
		postReply: func(data []byte) []byte { return continueVerdict() },
	}

	r := NewRegistry()
	require.NoError(t, r.Register(target, interceptor))

	handled, status, reply := r.HandleIntercept(target, 42, []byte("abc"), 0, 1000, 1234)
	require.True(t, handled)
	require.Equal(t, int32(StatusOK), status)
	require.Equal(t, "xyz", string(reply))
	require.Equal(t, "abc", string(seenByTarget))
	require.Equal(t, 1, interceptor.preCalls)
	require.Equal(t, 1, interceptor.postCalls)
}

// S2: OVERRIDE_REPLY in PRE — target must never be entered.
func TestScenarioS2OverrideReplyInPre(t *testing.T) {
	entered := false
	target := object.NewLocal("T", func(code uint32, data []byte, flags object.Flags) (int32, []byte, error) {
		entered = true
		return int32(StatusOK), []byte("xyz"), nil
	})

	interceptor := &fakeInterceptor{
		preReply: func(data []byte) []byte { return overrideReplyVerdict(-1, []byte("no")) },
	}

	r := NewRegistry()
	require.NoError(t, r.Register(target, interceptor))

	handled, status, reply := r.HandleIntercept(target, 42, []byte("abc"), 0, 1000, 1234)
	require.True(t, handled)
	require.Equal(t, int32(-1), status)
	require.Equal(t, "no", string(reply))
	require.False(t, entered, "original target must not be entered")
	require.Equal(t, 0, interceptor.postCalls, "no POST when PRE already overrides the reply")
}

// S3: OVERRIDE_DATA in PRE — target observes the replacement body.
func TestScenarioS3OverrideData(t *testing.T) {
	var seenByTarget []byte
	target := object.NewLocal("T", func(code uint32, data []byte, flags object.Flags) (int32, []byte, error) {
		seenByTarget = data
		return int32(StatusOK), []byte("reply-unchanged"), nil
	})

	interceptor := &fakeInterceptor{
		preReply:  func(data []byte) []byte { return overrideDataVerdict([]byte("ABC")) },
		postReply: func(data []byte) []byte { return continueVerdict() },
	}

	r := NewRegistry()
	require.NoError(t, r.Register(target, interceptor))

	handled, status, reply := r.HandleIntercept(target, 42, []byte("abc"), 0, 1000, 1234)
	require.True(t, handled)
	require.Equal(t, int32(StatusOK), status)
	require.Equal(t, "reply-unchanged", string(reply))
	require.Equal(t, "ABC", string(seenByTarget))
}

// Verdict SKIP declines interception entirely.
func TestSkipDeclines(t *testing.T) {
	target := object.NewLocal("T", func(code uint32, data []byte, flags object.Flags) (int32, []byte, error) {
		t.Fatalf("target must not be called when declining")
		return 0, nil, nil
	})
	interceptor := &fakeInterceptor{preReply: func(data []byte) []byte { return skipVerdict() }}

	r := NewRegistry()
	require.NoError(t, r.Register(target, interceptor))

	handled, _, _ := r.HandleIntercept(target, 42, []byte("abc"), 0, 1000, 1234)
	require.False(t, handled)
}

// No registration at all: decline, as if there were no hook.
func TestNoInterceptorRegisteredDeclines(t *testing.T) {
	target := object.NewLocal("T", nil)
	r := NewRegistry()
	handled, _, _ := r.HandleIntercept(target, 1, nil, 0, 0, 0)
	require.False(t, handled)
}

// S6 (registration half): replacing an interceptor delivers exactly
// one INTERCEPTOR_REPLACED to the outgoing interceptor.
func TestReplaceInterceptorNotifiesOutgoing(t *testing.T) {
	target := object.NewLocal("T", nil)
	first := &fakeInterceptor{}
	second := &fakeInterceptor{}

	r := NewRegistry()
	require.NoError(t, r.Register(target, first))
	require.NoError(t, r.Register(target, second))

	require.Equal(t, 1, first.replaced)
	require.Equal(t, 0, second.replaced)
}

func TestRegisterRejectsNonLocalTarget(t *testing.T) {
	r := NewRegistry()
	err := r.Register(nil, &fakeInterceptor{})
	require.Error(t, err)
}

func TestUnregisterRequiresMatchingInterceptor(t *testing.T) {
	target := object.NewLocal("T", nil)
	a := &fakeInterceptor{}
	b := &fakeInterceptor{}

	r := NewRegistry()
	require.NoError(t, r.Register(target, a))
	require.Error(t, r.Unregister(target, b))
	require.NoError(t, r.Unregister(target, a))
	require.False(t, r.NeedIntercept(object.Weaken(target)))
}

func TestPropertyServiceSlot(t *testing.T) {
	r := NewRegistry()
	_, ok := r.PropertyService()
	require.False(t, ok)

	svc := &fakeInterceptor{}
	require.NoError(t, r.RegisterPropertyService(svc))

	got, ok := r.PropertyService()
	require.True(t, ok)
	require.Equal(t, object.IBinder(svc), got)
}
