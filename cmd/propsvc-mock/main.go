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

// Command propsvc-mock stands in for the out-of-scope policy service
// spec.md §1 treats as an external collaborator: a small Unix-socket
// server speaking exactly the wire contract pkg/propsvc owns, so
// pkg/propspoof's client path is exercisable end-to-end (SPEC_FULL.md
// §6) without a real Android property-policy daemon. It has no
// production behavior of its own; every value it returns was set by
// an operator through cmd/interceptctl.
package main

import (
	"flag"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/sysbox-libs/utils"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/intercept"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/propsvc"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/transport"
)

// processName is what CreatePidFile checks the pid file's recorded
// pid resolves to via /proc/<pid>/exe, so it must match this binary's
// installed name.
const processName = "propsvc-mock"

var log = logrus.WithField("cmd", "propsvc-mock")

// store is the mock's entire state: a name -> spoofed-value map. A
// name with no entry answers "null", which pkg/propspoof's client
// treats as a decline (spec §4.1 step 4).
type store struct {
	mu     sync.RWMutex
	values map[string]string
}

func newStore() *store { return &store{values: make(map[string]string)} }

func (s *store) set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

func (s *store) get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

func main() {
	sockPath := flag.String("socket", "", "unix socket path to listen on")
	pidFile := flag.String("pidfile", "", "optional pid file path, refuses to start if another instance is running")
	flag.Parse()
	if *sockPath == "" {
		log.Fatal("-socket is required")
	}

	if *pidFile != "" {
		if err := utils.CreatePidFile(processName, *pidFile); err != nil {
			log.WithError(err).Fatal("pid file check failed")
		}
		defer func() {
			if err := utils.DestroyPidFile(*pidFile); err != nil {
				log.WithError(err).Warn("failed to remove pid file")
			}
		}()
	}

	st := newStore()

	_ = os.Remove(*sockPath)
	ln, err := net.Listen("unix", *sockPath)
	if err != nil {
		log.WithError(err).Fatal("listen failed")
	}
	log.WithField("path", *sockPath).Info("propsvc-mock listening")

	if err := transport.Serve(ln, st.handle); err != nil {
		log.WithError(err).Fatal("serve failed")
	}
}

func (s *store) handle(req transport.Request) transport.Response {
	switch req.Code {
	case propsvc.GetSpoofedPropertyTransaction:
		return s.handleGet(req)
	case propsvc.AdminSetPropertyTransaction:
		return s.handleSet(req)
	default:
		return transport.Response{Status: int32(intercept.StatusUnknownTransaction)}
	}
}

// handleGet decodes a request built by propspoof's query (spec §4.1
// step 3: strict-mode header, interface token, property name) and
// answers with the exception/nullable-string reply shape step 4
// expects.
func (s *store) handleGet(req transport.Request) transport.Response {
	r := propsvc.NewReader(req.Data)

	if _, err := r.ReadInt32(); err != nil { // strict-mode header
		return transport.Response{Status: int32(intercept.StatusBadValue)}
	}
	if _, err := r.ReadString16(); err != nil { // interface token
		return transport.Response{Status: int32(intercept.StatusBadValue)}
	}
	name, err := r.ReadString16()
	if err != nil || name == nil {
		return transport.Response{Status: int32(intercept.StatusBadValue)}
	}

	w := propsvc.NewWriter()
	w.WriteInt32(0) // exception code: none
	if value, ok := s.get(*name); ok {
		w.WriteNullableString16(&value)
	} else {
		w.WriteNullableString16(nil)
	}

	log.WithField("property", *name).Debug("property queried")
	return transport.Response{Status: int32(intercept.StatusOK), Data: w.Bytes()}
}

// handleSet applies an operator-supplied override. Framing is the
// generic {u64 length, bytes} pair pkg/binder.Parcel already defines
// for this repo's own internal protocols, not the property-service
// wire contract — cmd/interceptctl is a same-repo client, not a
// second implementation of the policy-service ABI.
func (s *store) handleSet(req transport.Request) transport.Response {
	p := binder.NewParcelFrom(req.Data)
	name, err := p.ReadFramedBytes()
	if err != nil {
		return transport.Response{Status: int32(intercept.StatusBadValue)}
	}
	value, err := p.ReadFramedBytes()
	if err != nil {
		return transport.Response{Status: int32(intercept.StatusBadValue)}
	}

	s.set(string(name), string(value))
	log.WithField("property", string(name)).WithField("value", string(value)).Info("property override set")
	return transport.Response{Status: int32(intercept.StatusOK)}
}
