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

// Package threadqueue is the spec's "scheduling-unit context": a FIFO
// of redirection records, one per OS thread that services driver
// traffic. The ioctl redirector (pkg/binderctl) pushes a record
// immediately before rewriting a driver descriptor; the synthetic
// stub (pkg/stub) pops it on the matching dispatch. Queue order
// equals driver-delivery order on that thread; since push and pop for
// a given transaction happen back to back on the same call stack with
// no intervening blocking call, the two sides never race in practice,
// but callers that service driver traffic in a dedicated goroutine
// should still call runtime.LockOSThread for the duration of that
// loop — the key here is a Linux TID (unix.Gettid), and Go's
// scheduler is otherwise free to migrate a goroutine across OS
// threads between syscalls.
package threadqueue

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
)

// Record is the spec §3 "Redirection record".
type Record struct {
	// Code is the transaction's original code before C4 rewrote it to
	// the sentinel.
	Code uint32
	// Target is the weak reference to the transaction's original
	// local target. A zero Target (IsBackdoor true) means the
	// backdoor transaction (spec §4.2): there was no real target.
	Target     object.WeakRef
	IsBackdoor bool
}

var (
	mu     sync.Mutex
	queues = make(map[int][]Record)
)

// Push appends a record to the calling OS thread's queue.
func Push(r Record) {
	tid := unix.Gettid()
	mu.Lock()
	queues[tid] = append(queues[tid], r)
	mu.Unlock()
}

// Pop removes and returns the oldest record for the calling OS
// thread's queue. ok is false if the queue is empty.
func Pop() (Record, bool) {
	tid := unix.Gettid()
	mu.Lock()
	defer mu.Unlock()

	q := queues[tid]
	if len(q) == 0 {
		return Record{}, false
	}
	r := q[0]
	if len(q) == 1 {
		delete(queues, tid)
	} else {
		queues[tid] = q[1:]
	}
	return r, true
}

// Len reports the current queue depth for the calling OS thread; used
// only by tests.
func Len() int {
	tid := unix.Gettid()
	mu.Lock()
	defer mu.Unlock()
	return len(queues[tid])
}
