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

// Package injector is C7: ptrace-based remote code injection. Inject
// attaches to a running process, locates libc/libdl inside it by
// translating symbol addresses from this process's own view of the
// same shared objects, hands it the agent library's file descriptor
// over an abstract-namespace Unix socket, and calls android_dlopen_ext
// + dlsym + the named entry point, all without the target process ever
// needing a filesystem path it can dlopen by name (spec §4.5).
package injector

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/procmap"
)

var log = logrus.WithField("pkg", "injector")

const (
	androidDlextUseLibraryFD = 0x10 // ANDROID_DLEXT_USE_LIBRARY_FD, android/dlext.h
	rtldNow                  = 0x2
)

// androidDlextinfo mirrors enough of struct android_dlextinfo for
// ANDROID_DLEXT_USE_LIBRARY_FD: a uint64 flags field followed by the
// library_fd int (padded to 8 bytes; the real struct has more trailing
// fields the loader doesn't read when only this flag is set).
type androidDlextinfo struct {
	flags     uint64
	libraryFD int64
}

func (d androidDlextinfo) bytes() []byte {
	buf := make([]byte, 16)
	le := func(b []byte, v uint64) {
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * i))
		}
	}
	le(buf[0:8], d.flags)
	le(buf[8:16], uint64(d.libraryFD))
	return buf
}

// symbolSet is every remote address Inject needs resolved before it can
// do anything; resolving them all up front means a missing symbol fails
// loudly before any remote state has been touched.
type symbolSet struct {
	libcReturnAddr uintptr // best-effort re-entry point for a dangling ret, may be 0

	close          uintptr
	socket         uintptr
	bind           uintptr
	recvmsg        uintptr
	errnoLocation  uintptr
	strlen         uintptr
	androidDlopen  uintptr
	dlsym          uintptr
	dlerror        uintptr
}

func resolveSymbols(localEntries, remoteEntries []procmap.Entry) (symbolSet, error) {
	var s symbolSet
	var err error

	resolve := func(lib, sym string) uintptr {
		if err != nil {
			return 0
		}
		var addr uintptr
		addr, err = TranslateSymbol(localEntries, remoteEntries, lib, sym)
		if err != nil {
			err = fmt.Errorf("resolve %s in %s: %w", sym, lib, err)
		}
		return addr
	}

	s.close = resolve("libc.so", "close")
	s.socket = resolve("libc.so", "socket")
	s.bind = resolve("libc.so", "bind")
	s.recvmsg = resolve("libc.so", "recvmsg")
	s.androidDlopen = resolve("libdl.so", "android_dlopen_ext")
	s.dlsym = resolve("libdl.so", "dlsym")
	if err != nil {
		return symbolSet{}, err
	}

	// Best-effort only: a missing __errno / dlerror / strlen / return
	// address degrades diagnostics, not the injection itself.
	if addr, e := TranslateSymbol(localEntries, remoteEntries, "libc.so", "__errno"); e == nil {
		s.errnoLocation = addr
	} else if addr, e := TranslateSymbol(localEntries, remoteEntries, "libc.so", "__errno_location"); e == nil {
		s.errnoLocation = addr
	}
	if addr, e := TranslateSymbol(localEntries, remoteEntries, "libc.so", "strlen"); e == nil {
		s.strlen = addr
	}
	if addr, e := TranslateSymbol(localEntries, remoteEntries, "libdl.so", "dlerror"); e == nil {
		s.dlerror = addr
	}
	if entry, ok := procmap.FindLibrary(remoteEntries, "libc.so"); ok {
		s.libcReturnAddr = uintptr(entry.Start)
	}

	return s, nil
}

// Inject attaches to pid, loads libPath into its address space, and
// calls entryName(handle) there, then restores pid's original register
// state and detaches (spec §4.5, testable property 10).
func Inject(pid int, libPath, entryName string) error {
	log.WithFields(logrus.Fields{"pid": pid, "lib": libPath, "entry": entryName}).Info("injecting")

	tracee, err := Attach(pid)
	if err != nil {
		return err
	}
	defer func() {
		if err := tracee.Detach(); err != nil {
			log.WithError(err).Warn("detach failed")
		}
	}()

	wd := startWatchdog(pid)
	defer wd.stop()

	remoteEntries, err := procmap.ForPID(pid)
	if err != nil {
		return fmt.Errorf("scan remote maps: %w", err)
	}
	localEntries, err := procmap.Self()
	if err != nil {
		return fmt.Errorf("scan local maps: %w", err)
	}

	syms, err := resolveSymbols(localEntries, remoteEntries)
	if err != nil {
		return err
	}

	libFD, err := passLibraryFD(tracee, syms, libPath)
	if err != nil {
		return err
	}

	handle, err := dlopenRemote(tracee, syms, libPath, libFD)
	if err != nil {
		return err
	}

	entryAddr, err := dlsymRemote(tracee, syms, handle, entryName)
	if err != nil {
		return err
	}

	if _, err := tracee.RemoteCall(entryAddr, syms.libcReturnAddr, []uintptr{handle}); err != nil {
		return fmt.Errorf("call entry %s: %w", entryName, err)
	}

	log.Info("injection succeeded")
	return nil
}

// passLibraryFD opens libPath locally and hands its descriptor to the
// tracee over an abstract-namespace socket the tracee itself creates
// and binds (spec §4.5 steps 5-6): the library is never opened by path
// inside the target, only by an fd it receives.
func passLibraryFD(tracee *Tracee, syms symbolSet, libPath string) (remoteFD int, err error) {
	if terr := TagSecurityContext(libPath, "u:object_r:system_file:s0"); terr != nil {
		log.WithError(terr).Debug("setfilecon unavailable (non-fatal, expected on non-SELinux kernels)")
	}

	localLib, err := os.Open(libPath)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", libPath, err)
	}
	defer localLib.Close()

	magic := generateMagic()
	name := abstractName(magic)

	remoteSocketFD, err := tracee.RemoteCall(syms.socket, 0, []uintptr{unix.AF_UNIX, unix.SOCK_DGRAM | unix.SOCK_CLOEXEC, 0})
	if err != nil {
		return -1, fmt.Errorf("remote socket: %w", err)
	}
	closeRemote := func(fd uintptr) {
		if _, cerr := tracee.RemoteCall(syms.close, 0, []uintptr{fd}); cerr != nil {
			log.WithError(cerr).Warn("failed to close remote fd during cleanup")
		}
	}
	defer func() {
		if err != nil {
			closeRemote(remoteSocketFD)
		}
	}()

	sockaddrBytes := buildRemoteSockaddrUn(name)
	regs, err := tracee.GetRegs()
	if err != nil {
		return -1, err
	}
	remoteSockaddrPtr, err := tracee.PushMemory(&regs, sockaddrBytes)
	if err != nil {
		return -1, fmt.Errorf("push sockaddr: %w", err)
	}
	if err := tracee.SetRegs(&regs); err != nil {
		return -1, err
	}

	if _, err = tracee.RemoteCall(syms.bind, 0, []uintptr{remoteSocketFD, remoteSockaddrPtr, uintptr(len(sockaddrBytes))}); err != nil {
		return -1, fmt.Errorf("remote bind: %w", err)
	}

	cmsgSpace := buildCmsgSpace()
	regs, err = tracee.GetRegs()
	if err != nil {
		return -1, err
	}
	remoteCmsgPtr, err := tracee.PushMemory(&regs, cmsgSpace)
	if err != nil {
		return -1, fmt.Errorf("push cmsg buffer: %w", err)
	}
	// No regular-data iovec: the original only ever waits on the
	// control message, leaving msg_iov/msg_iovlen zeroed.
	msghdrBytes := buildRemoteMsghdr(0, 0, 0, remoteCmsgPtr, 0, 0, uint64(len(cmsgSpace)))
	remoteMsghdrPtr, err := tracee.PushMemory(&regs, msghdrBytes)
	if err != nil {
		return -1, fmt.Errorf("push msghdr: %w", err)
	}
	if err := tracee.SetRegs(&regs); err != nil {
		return -1, err
	}

	const msgWaitall = 0x100
	if err = tracee.RemotePreCall(syms.recvmsg, 0, []uintptr{remoteSocketFD, remoteMsghdrPtr, msgWaitall}); err != nil {
		return -1, fmt.Errorf("remote pre-call recvmsg: %w", err)
	}

	localSocket, err := openLocalAbstractSocket(name)
	if err != nil {
		return -1, err
	}
	defer unix.Close(localSocket)

	if err = sendFD(localSocket, name, int(localLib.Fd())); err != nil {
		return -1, fmt.Errorf("sendmsg lib fd: %w", err)
	}

	if _, err = tracee.RemotePostCall(); err != nil {
		return -1, fmt.Errorf("remote post-call recvmsg: %w", err)
	}

	received, err := tracee.ReadMem(remoteCmsgPtr, len(cmsgSpace))
	if err != nil {
		return -1, fmt.Errorf("read back cmsg buffer: %w", err)
	}
	fd, err := parseReceivedFD(received)
	if err != nil {
		return -1, fmt.Errorf("parse received fd: %w", err)
	}

	closeRemote(remoteSocketFD)
	return fd, nil
}

// dlopenRemote calls android_dlopen_ext(libPath, RTLD_NOW, &extinfo) in
// the tracee with ANDROID_DLEXT_USE_LIBRARY_FD set to libFD, then closes
// libFD remotely since the loader keeps its own reference once mapped.
func dlopenRemote(tracee *Tracee, syms symbolSet, libPath string, libFD int) (uintptr, error) {
	regs, err := tracee.GetRegs()
	if err != nil {
		return 0, err
	}

	extinfo := androidDlextinfo{flags: androidDlextUseLibraryFD, libraryFD: int64(libFD)}
	remoteExtinfoPtr, err := tracee.PushMemory(&regs, extinfo.bytes())
	if err != nil {
		return 0, fmt.Errorf("push android_dlextinfo: %w", err)
	}
	remotePathPtr, err := tracee.PushString(&regs, libPath)
	if err != nil {
		return 0, fmt.Errorf("push lib path: %w", err)
	}
	if err := tracee.SetRegs(&regs); err != nil {
		return 0, err
	}

	handle, err := tracee.RemoteCall(syms.androidDlopen, syms.libcReturnAddr, []uintptr{remotePathPtr, rtldNow, remoteExtinfoPtr})
	if err != nil {
		return 0, fmt.Errorf("remote android_dlopen_ext: %w", err)
	}
	if handle == 0 {
		msg := remoteDlerror(tracee, syms)
		if _, cerr := tracee.RemoteCall(syms.close, 0, []uintptr{uintptr(libFD)}); cerr != nil {
			log.WithError(cerr).Warn("failed to close remote lib fd after dlopen failure")
		}
		return 0, fmt.Errorf("android_dlopen_ext returned null handle: %s", msg)
	}

	if _, err := tracee.RemoteCall(syms.close, 0, []uintptr{uintptr(libFD)}); err != nil {
		log.WithError(err).Warn("failed to close remote lib fd after successful dlopen")
	}
	return handle, nil
}

// remoteDlerror calls dlerror() then strlen() on its result to recover
// a human-readable failure reason, best-effort: any step failing here
// just means a less useful error message, not an injection failure.
func remoteDlerror(tracee *Tracee, syms symbolSet) string {
	if syms.dlerror == 0 {
		return "dlerror address unavailable"
	}
	strPtr, err := tracee.RemoteCall(syms.dlerror, syms.libcReturnAddr, nil)
	if err != nil || strPtr == 0 {
		return "dlerror returned no message"
	}
	if syms.strlen == 0 {
		return "dlerror message present, length unknown (strlen unavailable)"
	}
	length, err := tracee.RemoteCall(syms.strlen, syms.libcReturnAddr, []uintptr{strPtr})
	if err != nil || length == 0 || length > 1024 {
		return "dlerror message present, length invalid"
	}
	buf, err := tracee.ReadMem(strPtr, int(length))
	if err != nil {
		return "dlerror message present, could not be read"
	}
	return string(buf)
}

// dlsymRemote calls dlsym(handle, entryName) in the tracee.
func dlsymRemote(tracee *Tracee, syms symbolSet, handle uintptr, entryName string) (uintptr, error) {
	regs, err := tracee.GetRegs()
	if err != nil {
		return 0, err
	}
	remoteNamePtr, err := tracee.PushString(&regs, entryName)
	if err != nil {
		return 0, fmt.Errorf("push entry name: %w", err)
	}
	if err := tracee.SetRegs(&regs); err != nil {
		return 0, err
	}

	addr, err := tracee.RemoteCall(syms.dlsym, syms.libcReturnAddr, []uintptr{handle, remoteNamePtr})
	if err != nil {
		return 0, fmt.Errorf("remote dlsym: %w", err)
	}
	if addr == 0 {
		return 0, fmt.Errorf("dlsym found no symbol %q", entryName)
	}
	return addr, nil
}
