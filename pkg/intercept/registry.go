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
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
)

var log = logrus.WithField("pkg", "intercept")

// item is the intercept registry's per-target entry (spec §3 "Intercept item").
type item struct {
	target      object.WeakRef
	interceptor object.IBinder
}

// Registry is C6: the mapping from target weak references to
// interceptor objects, plus the single property-service slot. Many
// readers (every intercepted transaction) contend with rare writers
// (REGISTER/UNREGISTER); Registry uses a shared/exclusive lock
// accordingly and never holds it while transacting with an
// interceptor (spec §4.4 concurrency note).
type Registry struct {
	mu              sync.RWMutex
	items           map[object.WeakRef]*item
	propertyService object.IBinder

	// objects lets wire-level callers (REGISTER over a real transport)
	// address targets/interceptors/the property service by handle
	// instead of by Go pointer. Same-process Go callers use the
	// Register/Unregister API directly and never touch it.
	objects *object.Table
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		items:   make(map[object.WeakRef]*item),
		objects: object.NewTable(),
	}
}

// Objects exposes the registry's handle table so other local
// components (the synthetic stub, a transport listener) can resolve
// wire-level object references consistently with the registry.
func (r *Registry) Objects() *object.Table { return r.objects }

// NeedIntercept reports whether target currently has a registered
// interceptor (spec §4.3's synthetic stub consults this indirectly
// via HandleIntercept; the ioctl redirector in pkg/binderctl consults it
// directly to decide whether to rewrite a descriptor).
func (r *Registry) NeedIntercept(target object.WeakRef) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[target]
	return ok
}

// Register upserts an interceptor for target. If target already had a
// different interceptor registered, the outgoing interceptor receives
// a one-way INTERCEPTOR_REPLACED notification before being dropped
// (spec §3 invariant c, testable property 6). target must be local.
func (r *Registry) Register(target *object.LocalObject, interceptor object.IBinder) error {
	if target == nil || !target.Local() {
		return errBadValue("REGISTER: target must be a local object")
	}
	if interceptor == nil {
		return errBadValue("REGISTER: interceptor must not be nil")
	}

	key := object.Weaken(target)

	r.mu.Lock()
	it, existed := r.items[key]
	var outgoing object.IBinder
	if existed {
		if it.interceptor != nil && it.interceptor != interceptor {
			outgoing = it.interceptor
		}
		it.interceptor = interceptor
	} else {
		it = &item{target: key, interceptor: interceptor}
		r.items[key] = it
	}
	r.mu.Unlock()

	if outgoing != nil {
		// One-way: errors are logged, never surfaced to the registrant
		// (spec §3 invariant c only requires delivery be attempted).
		if _, _, err := outgoing.Transact(CodeInterceptorReplaced, nil, object.FlagOneway); err != nil {
			log.WithError(err).Warn("failed to notify replaced interceptor")
		}
	}

	log.WithField("target", target).Info("interceptor registered")
	return nil
}

// Unregister removes target's entry, but only if its current
// interceptor is exactly the one supplied (spec §4.4).
func (r *Registry) Unregister(target *object.LocalObject, interceptor object.IBinder) error {
	if target == nil || !target.Local() {
		return errBadValue("UNREGISTER: target must be a local object")
	}

	key := object.Weaken(target)

	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[key]
	if !ok {
		return errBadValue("UNREGISTER: no entry for target")
	}
	if it.interceptor != interceptor {
		return errBadValue("UNREGISTER: interceptor does not match")
	}
	delete(r.items, key)
	return nil
}

// RegisterPropertyService installs the single property-service slot.
// A null slot means "fall through to original behavior" (spec §3);
// once set, it can only be overwritten, never cleared.
func (r *Registry) RegisterPropertyService(service object.IBinder) error {
	if service == nil {
		return errBadValue("REGISTER_PROPERTY_SERVICE: service must not be nil")
	}
	r.mu.Lock()
	r.propertyService = service
	r.mu.Unlock()
	log.Info("property service binder registered")
	return nil
}

// PropertyService returns the current property-service slot, or
// (nil, false) if unset.
func (r *Registry) PropertyService() (object.IBinder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.propertyService, r.propertyService != nil
}

// interceptorFor copies out the interceptor strong reference under
// the read lock and releases it immediately, per spec §4.4: "the
// dispatcher must not hold any registry lock while transacting with
// the interceptor."
func (r *Registry) interceptorFor(target object.WeakRef) (object.IBinder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[target]
	if !ok {
		return nil, false
	}
	return it.interceptor, true
}

// OnTransact implements object.IBinder for the registry object
// itself, so a privileged caller that obtained a strong reference to
// it (directly, or via the backdoor transaction) can drive
// REGISTER/UNREGISTER/REGISTER_PROPERTY_SERVICE over the wire.
func (r *Registry) OnTransact(code uint32, data []byte, flags object.Flags) (int32, []byte, error) {
	p := binder.NewParcelFrom(data)

	switch code {
	case CodeRegister:
		targetID, err := p.ReadUint64()
		if err != nil {
			return int32(StatusBadValue), nil, nil
		}
		interceptorID, err := p.ReadUint64()
		if err != nil {
			return int32(StatusBadValue), nil, nil
		}
		targetObj, ok := r.objects.Get(targetID)
		if !ok {
			return int32(StatusBadValue), nil, nil
		}
		target, ok := targetObj.(*object.LocalObject)
		if !ok || !target.Local() {
			return int32(StatusBadValue), nil, nil
		}
		interceptor, ok := r.objects.Get(interceptorID)
		if !ok {
			return int32(StatusBadValue), nil, nil
		}
		if err := r.Register(target, interceptor); err != nil {
			return int32(StatusBadValue), nil, nil
		}
		return int32(StatusOK), nil, nil

	case CodeUnregister:
		targetID, err := p.ReadUint64()
		if err != nil {
			return int32(StatusBadValue), nil, nil
		}
		interceptorID, err := p.ReadUint64()
		if err != nil {
			return int32(StatusBadValue), nil, nil
		}
		targetObj, ok := r.objects.Get(targetID)
		if !ok {
			return int32(StatusBadValue), nil, nil
		}
		target, ok := targetObj.(*object.LocalObject)
		if !ok {
			return int32(StatusBadValue), nil, nil
		}
		interceptor, ok := r.objects.Get(interceptorID)
		if !ok {
			return int32(StatusBadValue), nil, nil
		}
		if err := r.Unregister(target, interceptor); err != nil {
			return int32(StatusBadValue), nil, nil
		}
		return int32(StatusOK), nil, nil

	case CodeRegisterPropertyService:
		serviceID, err := p.ReadUint64()
		if err != nil {
			return int32(StatusBadValue), nil, nil
		}
		service, ok := r.objects.Get(serviceID)
		if !ok {
			return int32(StatusBadValue), nil, nil
		}
		if err := r.RegisterPropertyService(service); err != nil {
			return int32(StatusBadValue), nil, nil
		}
		reply := binder.NewParcel()
		reply.WriteInt32(0)
		return int32(StatusOK), reply.Bytes(), nil
	}

	return int32(StatusUnknownTransaction), nil, nil
}

// Local reports that the registry is always serviced in this process.
func (r *Registry) Local() bool { return true }

// Transact lets the registry itself be used wherever an object.IBinder
// is expected (e.g. returned by the backdoor transaction, spec §4.2).
func (r *Registry) Transact(code uint32, data []byte, flags object.Flags) (int32, []byte, error) {
	return r.OnTransact(code, data, flags)
}

type badValueError string

func (e badValueError) Error() string { return string(e) }

func errBadValue(msg string) error { return badValueError(msg) }
