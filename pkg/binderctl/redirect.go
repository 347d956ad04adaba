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
	"fmt"
	"os"
	"strings"
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/metrics"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/threadqueue"
)

var log = logrus.WithField("pkg", "binderctl")

// Redirector is C4. It sits between the process and the real
// BINDER_WRITE_READ ioctl: every call passes through unmodified to the
// kernel, but the buffer the kernel hands back on the read side is
// walked and, for transactions addressed to an object that has a
// registered interceptor (or carries the backdoor code), rewritten in
// place to address the synthetic stub instead (spec §4.2).
type Redirector struct {
	Nodes    *Nodes
	Registry interceptRegistry

	// StubHandle is the Nodes handle published for the synthetic
	// stub's own LocalObject; every rewritten descriptor's
	// target/cookie pair is set to this value.
	StubHandle uint64

	// Metrics records each walked transaction's outcome. Nil is valid
	// (Metrics methods no-op on a nil receiver) for callers that never
	// started the admin listener.
	Metrics *metrics.Metrics

	fdKind sync.Map // map[int]bool: true once a fd is confirmed to be a binder fd

	// readlink is overridable for tests; defaults to os.Readlink.
	readlink func(name string) (string, error)
}

// interceptRegistry is the subset of *intercept.Registry the
// redirector depends on; declared locally so tests can fake it without
// constructing a real registry.
type interceptRegistry interface {
	NeedIntercept(target object.WeakRef) bool
}

// New creates a Redirector. stubHandle is the handle Nodes.Publish
// returned for the synthetic stub's LocalObject.
func New(nodes *Nodes, registry interceptRegistry, stubHandle uint64) *Redirector {
	return &Redirector{
		Nodes:      nodes,
		Registry:   registry,
		StubHandle: stubHandle,
		readlink:   os.Readlink,
	}
}

// isBinderFD reports whether fd refers to a binder device, caching
// the result the way fileMonitor caches path classifications instead
// of re-resolving /proc/self/fd on every ioctl (spec §4.2, §9: "the fd
// classification cache is never invalidated for the life of the
// process").
func (rd *Redirector) isBinderFD(fd int) bool {
	if v, ok := rd.fdKind.Load(fd); ok {
		return v.(bool)
	}
	link, err := rd.readlink(fmt.Sprintf("/proc/self/fd/%d", fd))
	is := err == nil && strings.Contains(link, "binder")
	if is {
		rd.fdKind.Store(fd, true)
	}
	return is
}

// ProcessReadBuffer walks a BINDER_WRITE_READ read buffer exactly as
// the kernel consumed it, rewriting every BR_TRANSACTION /
// BR_TRANSACTION_SEC_CTX descriptor that addresses an intercepted or
// backdoor target. buf is the full read buffer as returned by the
// kernel and consumed is bwr.ReadConsumed. It is exported separately
// from the ioctl wrapper below so it can be unit tested without a real
// driver fd.
//
// Per spec's Open Questions, a negative intermediate consumed value
// (malformed or truncated buffer) stops the walk immediately rather
// than panicking or looping.
func (rd *Redirector) ProcessReadBuffer(buf []byte, consumed uint64) {
	pos := 0
	remaining := int64(consumed)

	for remaining > 0 {
		remaining -= 4
		if remaining < 0 || pos+4 > len(buf) {
			log.Warn("read buffer truncated decoding command word")
			return
		}
		cmd := binary.LittleEndian.Uint32(buf[pos:])
		pos += 4

		size := int(binder.IOCSize(cmd))
		remaining -= int64(size)
		if remaining < 0 {
			log.Warn("read buffer truncated decoding command payload")
			return
		}
		if pos+size > len(buf) {
			log.Warn("read buffer shorter than declared payload")
			return
		}

		switch cmd {
		case binder.BRTransaction:
			rd.redirectTransaction(buf[pos : pos+size])
		case binder.BRTransactionSecCtx:
			if size >= int(unsafe.Sizeof(binder.TransactionDataSecctx{})) {
				rd.redirectTransaction(buf[pos : pos+int(unsafe.Sizeof(binder.TransactionData{}))])
			}
		}

		pos += size
	}
}

// redirectTransaction inspects and possibly rewrites a single
// TransactionData in place within raw (which aliases the caller's
// buffer).
func (rd *Redirector) redirectTransaction(raw []byte) {
	if len(raw) < int(unsafe.Sizeof(binder.TransactionData{})) {
		return
	}
	tr := (*binder.TransactionData)(unsafe.Pointer(&raw[0]))

	if tr.TargetPtr == 0 {
		// Reply or oneway-from-us descriptor with no addressee; spec
		// §4.2 scopes the redirector to addressed transactions only.
		return
	}

	if tr.Code == binder.SentinelBackdoorCode && tr.SenderEuid == 0 {
		threadqueue.Push(threadqueue.Record{IsBackdoor: true})
		rd.rewriteToStub(tr)
		rd.Metrics.ObserveTransaction("backdoor")
		return
	}

	weakTarget, ok := rd.Nodes.WeakRefFor(tr.TargetPtr)
	if !ok {
		// Not a handle this process published: either a remote proxy's
		// address or an object we never saw get created locally.
		// Leaving the descriptor untouched forwards it unmodified.
		rd.Metrics.ObserveTransaction("passthrough")
		return
	}
	if !rd.Registry.NeedIntercept(weakTarget) {
		rd.Metrics.ObserveTransaction("passthrough")
		return
	}

	threadqueue.Push(threadqueue.Record{Code: tr.Code, Target: weakTarget})
	rd.rewriteToStub(tr)
	rd.Metrics.ObserveTransaction("registered")
}

func (rd *Redirector) rewriteToStub(tr *binder.TransactionData) {
	tr.TargetPtr = rd.StubHandle
	tr.Cookie = rd.StubHandle
	tr.Code = binder.SentinelBackdoorCode
}
