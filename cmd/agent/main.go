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

// Command agent is the shared object internal/injector loads into a
// target process. It wires C1 (internal/symhook) against the
// driver's ioctl import and libc's __system_property_get import, and
// wires C3 (pkg/propspoof), C4 (pkg/binderctl) and C5/C6
// (pkg/stub, pkg/intercept) into the resulting hooks.
//
// The target process's own binder thread pool dispatch loop (the
// thing that actually ends up calling BBinder::onTransact once the
// kernel hands a thread a redirected BR_TRANSACTION) is outside what
// this module can build without fabricating an unevidenced native
// ABI — identical in kind to C1's own "external collaborator"
// boundary for the real PLT-hooking library. This package's job stops
// at making the hooks observable and operable: install them, wire
// them to the registry, and expose what happened over metrics.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef int (*ioctl_fn)(int, unsigned long, void *);
typedef int (*prop_get_fn)(const char *, char *);

extern int hookedIoctl(int fd, unsigned long request, void *argp);
extern int hookedSystemPropertyGet(const char *name, char *value);

static uintptr_t hooked_ioctl_addr(void) { return (uintptr_t)hookedIoctl; }
static uintptr_t hooked_system_property_get_addr(void) { return (uintptr_t)hookedSystemPropertyGet; }

static prop_get_fn g_original_prop_get = 0;

static void set_original_prop_get(uintptr_t addr) { g_original_prop_get = (prop_get_fn)addr; }

static int call_original_prop_get(const char *name, char *value) {
	if (!g_original_prop_get) {
		return 0;
	}
	return g_original_prop_get(name, value);
}

static ioctl_fn g_original_ioctl = 0;

static void set_original_ioctl(uintptr_t addr) { g_original_ioctl = (ioctl_fn)addr; }
*/
import "C"

import (
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nestybox/sysbox-ipc-interceptor/internal/symhook"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binderctl"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/intercept"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/metrics"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/procmap"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/propspoof"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/stub"
)

var log = logrus.WithField("cmd", "agent")

// Process-global singletons, wired once from entry. The agent is one
// shared object loaded once per target process, so this mirrors the
// original's gBinderInterceptor/gBinderStub file-scope globals rather
// than threading state through cgo calls, which have no place to put
// a receiver.
var (
	metricsInst *metrics.Metrics
	registry    *intercept.Registry
	nodes       *binderctl.Nodes
	redirector  *binderctl.Redirector
	stubSvc     *stub.Stub
	propHook    *propspoof.Hook
)

func main() {}

//export entry
func entry(handle unsafe.Pointer) C.int {
	log.WithField("handle", handle).Info("agent injected")

	metricsInst = metrics.New(nil)
	registry = intercept.NewRegistry()
	nodes = binderctl.NewNodes()
	stubSvc = stub.New(registry)

	stubObj := object.NewLocal("stub", func(code uint32, data []byte, flags object.Flags) (int32, []byte, error) {
		status, reply := stubSvc.Dispatch(data, flags, int32(unix.Geteuid()), int32(unix.Getpid()))
		return status, reply, nil
	})
	stubHandle := nodes.Publish(stubObj)
	redirector = binderctl.New(nodes, registry, stubHandle)
	redirector.Metrics = metricsInst

	propHook = propspoof.New(registry, originalPropertyGet)

	if err := installHooks(); err != nil {
		log.WithError(err).Error("hook installation failed")
		return 0
	}

	startAdminListener(metricsInst)
	startRegistryListener(registry)
	return 1
}

// installHooks scans the target's memory map for the binder driver
// library and libc, then stages and commits the ioctl and
// __system_property_get PLT hooks (spec §2 control flow: "the agent,
// once loaded into the target, invokes C1 to rewrite the target's
// imports of ioctl... and the property-get function").
func installHooks() error {
	entries, err := procmap.Self()
	if err != nil {
		return err
	}

	patcher := symhook.New()

	binderLib, binderFound := findLibrary(entries, "/libbinder.so")
	if binderFound {
		original, err := patcher.RegisterHook(binderLib.Dev, binderLib.Inode, "ioctl", uintptr(C.hooked_ioctl_addr()))
		if err != nil {
			log.WithError(err).Warn("ioctl hook registration failed")
			metricsInst.ObserveHookInstall("failed")
		} else {
			C.set_original_ioctl(C.uintptr_t(original))
			metricsInst.ObserveHookInstall("staged")
		}
	} else {
		log.Warn("libbinder.so not found, skipping ioctl hook")
	}

	libc, libcFound := findLibrary(entries, "/libc.so")
	if libcFound {
		original, err := patcher.RegisterHook(libc.Dev, libc.Inode, "__system_property_get", uintptr(C.hooked_system_property_get_addr()))
		if err != nil {
			log.WithError(err).Warn("__system_property_get hook registration failed")
			metricsInst.ObserveHookInstall("failed")
		} else {
			C.set_original_prop_get(C.uintptr_t(original))
			metricsInst.ObserveHookInstall("staged")
		}
	} else {
		log.Warn("libc.so not found, skipping property hook")
	}

	if !binderFound && !libcFound {
		return errNoTargetLibraries
	}

	if err := patcher.Commit(); err != nil {
		metricsInst.ObserveHookInstall("failed")
		return err
	}
	metricsInst.ObserveHookInstall("committed")
	return nil
}

type agentError string

func (e agentError) Error() string { return string(e) }

const errNoTargetLibraries = agentError("neither libbinder.so nor libc.so found in process map")

// findLibrary returns the first mapped entry whose path ends with
// suffix (e.g. "/libc.so"), the same matching rule the original uses
// (std::string_view::ends_with) to tell the real shared object apart
// from unrelated paths that merely contain the name.
func findLibrary(entries []procmap.Entry, suffix string) (procmap.Entry, bool) {
	for _, e := range entries {
		if e.Path != "" && len(e.Path) >= len(suffix) && e.Path[len(e.Path)-len(suffix):] == suffix {
			return e, true
		}
	}
	return procmap.Entry{}, false
}

// originalPropertyGet calls through the saved original
// __system_property_get, the fallback path propspoof.Hook uses for
// names outside the fixed target set or once the policy service
// declines/fails.
func originalPropertyGet(name string) string {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	buf := make([]byte, propspoof.PropValueMax)
	n := C.call_original_prop_get(cName, (*C.char)(unsafe.Pointer(&buf[0])))
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}

//export hookedIoctl
func hookedIoctl(fd C.int, request C.ulong, argp unsafe.Pointer) C.int {
	if redirector == nil {
		return rawIoctlFallback(fd, request, argp)
	}

	// Redirector.Ioctl performs the real syscall itself for every
	// request number, then only inspects bwr's fields when request is
	// actually BINDER_WRITE_READ (spec §4.2: "any other request number
	// passes through untouched"); argp's pointer value is passed
	// through regardless of the struct it actually addresses.
	bwr := (*binder.WriteRead)(argp)
	if err := redirector.Ioctl(int(fd), uint32(request), bwr); err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return C.int(-int32(errno))
		}
		return -1
	}
	return 0
}

// rawIoctlFallback covers calls made before the redirector is wired;
// it issues the real ioctl syscall directly. Once the redirector is
// set, every request number goes through Redirector.Ioctl instead.
func rawIoctlFallback(fd C.int, request C.ulong, argp unsafe.Pointer) C.int {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(request), uintptr(argp))
	if errno != 0 {
		return C.int(-int32(errno))
	}
	return 0
}

//export hookedSystemPropertyGet
func hookedSystemPropertyGet(name *C.char, value *C.char) C.int {
	if propHook == nil {
		return C.call_original_prop_get(name, value)
	}

	goName := C.GoString(name)
	spoofed, length := propHook.Get(goName)
	if length == 0 {
		return 0
	}

	out := unsafe.Slice((*byte)(unsafe.Pointer(value)), propspoof.PropValueMax)
	n := copy(out[:propspoof.PropValueMax-1], spoofed)
	out[n] = 0
	return C.int(n)
}
