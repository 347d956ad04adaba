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

package main

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/intercept"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/metrics"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/transport"
)

// adminAddr is loopback-only, OS-assigned port: the admin surface
// exists for operators and cmd/interceptctl running on the same
// host/namespace, never for the network.
const adminAddr = "127.0.0.1:0"

var adminServer *http.Server

// startAdminListener exposes m on a loopback HTTP /metrics endpoint.
// Binding is best-effort: a failure here is logged, never fatal to
// the injection itself, since metrics are observability, not a load-
// bearing part of interception (spec §2 lists logging/metrics
// formatting as the kind of ambient concern the core treats as an
// external collaborator).
func startAdminListener(m *metrics.Metrics) {
	ln, err := net.Listen("tcp", adminAddr)
	if err != nil {
		log.WithError(err).Warn("admin listener failed to bind, metrics unavailable")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	adminServer = &http.Server{Handler: mux}

	log.WithField("addr", ln.Addr().String()).Info("admin metrics listener started")
	go func() {
		if err := adminServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("admin listener stopped")
		}
	}()
}

// registrySocketEnv names the environment variable that sets the path
// of the agent's registry admin socket. When it is unset the agent
// still listens, on the pid-keyed default from adminSocketPath.
const registrySocketEnv = "SYSBOX_IPC_INTERCEPTOR_ADMIN_SOCK"

// startRegistryListener exposes reg's REGISTER/UNREGISTER/
// REGISTER_PROPERTY_SERVICE transactions, plus the backdoor
// transaction (spec §6), over a Unix-domain socket named by
// registrySocketEnv. This is new operator tooling (SPEC_FULL.md §5):
// spec.md itself only ever reaches the registry via a real Binder
// transaction or the backdoor, both of which assume a caller already
// inside the kernel's IPC graph. A socket gives cmd/interceptctl the
// same two entry points without requiring it to also speak the
// driver's wire ABI.
func startRegistryListener(reg *intercept.Registry) {
	sockPath := os.Getenv(registrySocketEnv)
	if sockPath == "" {
		sockPath = adminSocketPath(os.Getpid())
	}

	_ = os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		log.WithError(err).Warn("registry admin socket failed to bind")
		return
	}

	log.WithField("path", sockPath).Info("registry admin socket listening")
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveRegistryConn(conn, reg)
		}
	}()
}

// serveRegistryConn answers requests on one connection until it
// errors or the peer disconnects. Binder's own backdoor rule keys off
// the sender's effective uid (spec §4.2); over a Unix socket the
// kernel-verified equivalent is SO_PEERCRED, read once per connection
// since a single client is one uid for its lifetime.
func serveRegistryConn(conn net.Conn, reg *intercept.Registry) {
	defer conn.Close()

	peerUID := peerCredUID(conn)
	br := bufio.NewReader(conn)
	for {
		req, err := transport.ReadRequest(br)
		if err != nil {
			return
		}
		resp := handleRegistryRequest(reg, req, peerUID)
		if err := transport.WriteResponse(conn, resp); err != nil {
			return
		}
	}
}

// peerCredUID reads the connecting process's effective uid via
// SO_PEERCRED. It returns an id guaranteed never to equal 0 if the
// credential can't be read, so a failure here can never be mistaken
// for a privileged caller.
func peerCredUID(conn net.Conn) uint32 {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return ^uint32(0)
	}
	f, err := uc.File()
	if err != nil {
		return ^uint32(0)
	}
	defer f.Close()

	cred, err := unix.GetsockoptUcred(int(f.Fd()), unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return ^uint32(0)
	}
	return cred.Uid
}

// handleRegistryRequest dispatches one framed request to reg. The
// backdoor code is handled here rather than inside Registry.OnTransact
// because only a transport-level caller has a kernel-verified uid to
// check against: a same-process Go caller already holds whatever
// access Register/Unregister gives it directly.
func handleRegistryRequest(reg *intercept.Registry, req transport.Request, peerUID uint32) transport.Response {
	if req.Code == binder.SentinelBackdoorCode {
		if peerUID != 0 {
			log.WithField("uid", peerUID).Warn("backdoor transaction from non-root peer, declining")
			return transport.Response{Status: int32(intercept.StatusUnknownTransaction)}
		}
		id := reg.Objects().Put(reg)
		p := binder.NewParcel()
		p.WriteUint64(id)
		log.Info("backdoor transaction granted registry handle")
		return transport.Response{Status: int32(intercept.StatusOK), Data: p.Bytes()}
	}

	status, reply, err := reg.OnTransact(req.Code, req.Data, object.Flags(req.Flags))
	if err != nil {
		return transport.Response{Status: int32(intercept.StatusBadValue)}
	}
	return transport.Response{Status: status, Data: reply}
}

// adminSocketPath is the default registry socket path (under /tmp,
// keyed by pid) used when registrySocketEnv is unset. cmd/interceptctl
// does not compute it; the operator passes the path via --socket.
func adminSocketPath(pid int) string {
	return fmt.Sprintf("/tmp/sysbox-ipc-interceptor-admin-%d.sock", pid)
}
