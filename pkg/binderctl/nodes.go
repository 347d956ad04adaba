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

// Package binderctl is C4: the ioctl(BINDER_WRITE_READ) wrapper that
// rewrites inbound transaction descriptors in the kernel-returned
// buffer so the runtime delivers them to the synthetic stub instead
// of their real target (spec §4.2).
package binderctl

import (
	"sync"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
)

// Nodes is the address book the driver would otherwise keep: a table
// from a stable handle (the value actually carried in a
// binder_transaction_data's target/cookie fields) to a weak reference
// to the local object it names. A Go heap pointer cannot be smuggled
// through a kernel-owned buffer and refcounted the way the original
// RefBase::weakref_type* can, so this handle table is the Go-idiomatic
// stand-in: publishing an object hands out a handle, and resolving a
// handle is exactly a weak-reference promotion (spec's "attempt to
// promote the addressing pointer to a strong reference").
type Nodes struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]object.WeakRef
}

// NewNodes creates an empty address book.
func NewNodes() *Nodes {
	return &Nodes{byID: make(map[uint64]object.WeakRef)}
}

// Publish hands out a handle for o. Calling Publish again for the
// same object is harmless but allocates a fresh handle; callers
// publish once per object, typically at construction time.
func (n *Nodes) Publish(o *object.LocalObject) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.byID[id] = object.Weaken(o)
	return id
}

// Resolve promotes handle back to a strong reference. ok is false if
// the handle is unknown or the object it named has been collected.
func (n *Nodes) Resolve(handle uint64) (*object.LocalObject, bool) {
	n.mu.Lock()
	ref, ok := n.byID[handle]
	n.mu.Unlock()
	if !ok {
		return nil, false
	}
	return ref.Promote()
}

// WeakRefFor returns the weak reference published for handle, without
// promoting it, so callers can key the intercept registry without
// holding a strong reference any longer than necessary.
func (n *Nodes) WeakRefFor(handle uint64) (object.WeakRef, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ref, ok := n.byID[handle]
	return ref, ok
}
