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

// Package object models the one thing every component in this repo
// passes around: an IPC-addressable object, local or remote, that can
// be transacted with and weakly referenced.
//
// Ownership follows spec §3/§9 directly: a LocalObject's only strong
// holders are whoever legitimately needs it kept alive (its owning
// service); the intercept registry keeps a weak.Pointer to the
// target so registering an interceptor never itself keeps the target
// alive, and "promoting" a weak reference is just calling Value() and
// checking for nil — Go's garbage collector is the reference count,
// so there is no explicit incStrong/decStrong to undo the way the
// ioctl wrapper's C++ counterpart has to.
package object

import (
	"fmt"
	"weak"
)

// Flags mirrors the IBinder transaction flag bits this repo cares about.
type Flags uint32

const (
	// FlagOneway marks a transaction that expects no reply.
	FlagOneway Flags = 1 << iota
)

// IBinder is anything transactable: a LocalObject serviced in this
// process, or a proxy standing in for one serviced elsewhere.
type IBinder interface {
	// Transact sends code/data to the object and returns its status
	// and reply. flags carries FlagOneway and friends.
	Transact(code uint32, data []byte, flags Flags) (status int32, reply []byte, err error)

	// Local reports whether this object is serviced in this process.
	// The registry only accepts local targets for REGISTER (spec §4.4).
	Local() bool
}

// Handler implements a LocalObject's onTransact.
type Handler func(code uint32, data []byte, flags Flags) (status int32, reply []byte, err error)

// LocalObject is an IPC object serviced directly by a Handler in this
// process — the Go analogue of a BBinder subclass.
type LocalObject struct {
	name    string
	handler Handler
}

// NewLocal wraps h as a LocalObject. name is used only for logging.
func NewLocal(name string, h Handler) *LocalObject {
	return &LocalObject{name: name, handler: h}
}

func (o *LocalObject) String() string { return fmt.Sprintf("LocalObject(%s)", o.name) }

// Transact implements IBinder by calling directly into the handler:
// there is no driver round-trip for a same-process call whose caller
// already holds a strong *LocalObject (this is how C5/C6 invoke the
// real target once they've decided not to intercept, or the original
// target after a PRE verdict of CONTINUE/OVERRIDE_DATA).
func (o *LocalObject) Transact(code uint32, data []byte, flags Flags) (int32, []byte, error) {
	return o.handler(code, data, flags)
}

// Local always returns true for LocalObject.
func (o *LocalObject) Local() bool { return true }

// WeakRef is a non-owning reference to a LocalObject that may fail to
// promote once the object has been collected (spec's "weak
// reference" glossary entry).
type WeakRef struct {
	p weak.Pointer[LocalObject]
}

// Weaken produces a WeakRef to o. Two WeakRefs produced from the same
// *LocalObject compare equal, which is what lets the registry key its
// map by WeakRef directly (spec §3: "keyed by a weak reference to the
// target IPC object").
func Weaken(o *LocalObject) WeakRef {
	return WeakRef{p: weak.Make(o)}
}

// Promote attempts to obtain a strong reference. ok is false if the
// referent has already been garbage collected.
func (w WeakRef) Promote() (o *LocalObject, ok bool) {
	o = w.p.Value()
	return o, o != nil
}
