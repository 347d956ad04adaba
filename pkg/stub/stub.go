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

// Package stub is C5: the one object the driver is made to believe
// every redirected transaction targets. It never does anything other
// than pop the matching redirection record and hand off to C6 (or, on
// promotion failure / backdoor, answer directly); spec §4.3 forbids it
// from doing any other blocking work.
package stub

import (
	"github.com/sirupsen/logrus"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/intercept"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/threadqueue"
)

var log = logrus.WithField("pkg", "stub")

// Stub is the synthetic stub object.
type Stub struct {
	registry *intercept.Registry
}

// New creates a Stub backed by registry, C6's single instance.
func New(registry *intercept.Registry) *Stub {
	return &Stub{registry: registry}
}

// Dispatch handles one transaction redirected to the stub (spec §4.3).
// callerUID/callerPID are the sender credentials taken from the
// driver's transaction descriptor.
func (s *Stub) Dispatch(request []byte, flags object.Flags, callerUID, callerPID int32) (status int32, reply []byte) {
	rec, ok := threadqueue.Pop()
	if !ok {
		log.Warn("stub dispatched with no pending redirection record")
		return int32(intercept.StatusUnknownTransaction), nil
	}

	if rec.IsBackdoor {
		id := s.registry.Objects().Put(s.registry)
		p := binder.NewParcel()
		p.WriteUint64(id)
		log.Debug("backdoor requested")
		return int32(intercept.StatusOK), p.Bytes()
	}

	target, ok := rec.Target.Promote()
	if !ok {
		log.Warn("promote failed: original target no longer exists")
		return int32(intercept.StatusUnknownTransaction), nil
	}

	handled, status, reply := s.registry.HandleIntercept(target, rec.Code, request, flags, callerUID, callerPID)
	if handled {
		return status, reply
	}

	// PRE said SKIP, or interception otherwise declined: forward to
	// the original target as if nothing were hooked (spec §4.3).
	status, reply, err := target.Transact(rec.Code, request, flags)
	if err != nil {
		log.WithError(err).Warn("fallback transact to original target failed")
	}
	return status, reply
}
