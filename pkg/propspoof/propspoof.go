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

// Package propspoof is C3: the replacement for the imported
// property-get function. It is wired to the real C library symbol by
// internal/symhook at the cgo boundary (cmd/agent); everything in this
// package works in terms of Go strings so the spoofing decision itself
// stays unit-testable without touching libc.
package propspoof

import (
	"github.com/sirupsen/logrus"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/propsvc"
)

var log = logrus.WithField("pkg", "propspoof")

// PropValueMax mirrors bionic's PROP_VALUE_MAX, including the trailing
// null byte the original strncpy+explicit terminator always leaves
// room for.
const PropValueMax = 92

// targetProperties is the fixed, compile-time set of names this hook
// ever intercepts. Deliberately a map literal, not computed: spec §3
// calls it "a small, fixed, lexically compiled set... immutable after
// load."
var targetProperties = map[string]struct{}{
	"ro.boot.verifiedbootstate":   {},
	"ro.boot.flash.locked":        {},
	"ro.boot.veritymode":          {},
	"ro.boot.vbmeta.device_state": {},
	"ro.boot.warranty_bit":        {},
	"ro.secure":                   {},
	"ro.debuggable":               {},
	"ro.oem_unlock_supported":     {},
}

// IsTargetProperty reports whether name is in the fixed target set.
func IsTargetProperty(name string) bool {
	_, ok := targetProperties[name]
	return ok
}

// propertyServiceSource is the subset of *intercept.Registry this hook
// depends on.
type propertyServiceSource interface {
	PropertyService() (object.IBinder, bool)
}

// OriginalFunc is the real property-get function being wrapped.
type OriginalFunc func(name string) string

// Hook is the property-spoofing wrapper (spec §4.1).
type Hook struct {
	registry propertyServiceSource
	original OriginalFunc
}

// New creates a Hook. original is called whenever the hook falls
// through to unhooked behavior (spec testable property 8: this must
// happen for every name not in the target set, and for every failure
// mode while querying the policy service).
func New(registry propertyServiceSource, original OriginalFunc) *Hook {
	return &Hook{registry: registry, original: original}
}

// Get implements the hooked property-get. It returns the value the
// caller should see and its length, matching the original function's
// "(name, out_buffer) -> length" contract except that the caller is
// responsible for copying value into its own buffer (cmd/agent does
// that across the cgo boundary).
func (h *Hook) Get(name string) (value string, length int) {
	if !IsTargetProperty(name) {
		v := h.original(name)
		return v, len(v)
	}

	svc, ok := h.registry.PropertyService()
	if !ok {
		v := h.original(name)
		return v, len(v)
	}

	spoofed, ok := h.query(svc, name)
	if !ok {
		v := h.original(name)
		return v, len(v)
	}

	if len(spoofed) > PropValueMax-1 {
		spoofed = spoofed[:PropValueMax-1]
	}
	return spoofed, len(spoofed)
}

// query performs the synchronous transaction against the policy
// service and decodes its reply. ok is false on any marshaling,
// transport, or application-level (non-zero exception, null reply)
// failure — every such case falls through to the original read (spec
// §4.1 step 5, §6 "Property-service absence").
func (h *Hook) query(svc object.IBinder, name string) (string, bool) {
	w := propsvc.NewWriter()
	w.WriteInterfaceToken(propsvc.InterfaceToken)
	w.WriteString16(name)

	status, replyBytes, err := svc.Transact(propsvc.GetSpoofedPropertyTransaction, w.Bytes(), 0)
	if err != nil {
		log.WithError(err).WithField("property", name).Warn("property service transaction failed")
		return "", false
	}
	if status != 0 {
		log.WithField("property", name).WithField("status", status).Warn("property service returned non-OK status")
		return "", false
	}

	r := propsvc.NewReader(replyBytes)
	exceptionCode, err := r.ReadInt32()
	if err != nil {
		return "", false
	}
	if exceptionCode != 0 {
		log.WithField("property", name).WithField("exception", exceptionCode).Warn("property service threw")
		return "", false
	}

	value, err := r.ReadString16()
	if err != nil || value == nil {
		return "", false
	}
	return *value, true
}
