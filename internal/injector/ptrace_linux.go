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

package injector

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/nestybox/sysbox-libs/pidfd"
)

// noPidFD marks a Tracee whose pidfd couldn't be opened (old kernel,
// missing pidfd_open): the liveness guard in Detach degrades to a
// no-op rather than failing the whole session over a diagnostic extra.
const noPidFD pidfd.PidFd = -1

// Tracee wraps one attached process-tracing session (spec's
// "Remote-injection session"): saved register file, the attached pid,
// and a pidfd guarding that pid against reuse — all scratch memory
// lives on the target's own stack and is released implicitly when
// registers are restored.
type Tracee struct {
	Pid    int
	backup unix.PtraceRegs

	// pidFD pins Pid against reuse for the lifetime of the session: a
	// target that exits and is replaced by an unrelated process with
	// the same pid must not receive Detach's SIGCONT/register restore.
	pidFD pidfd.PidFd
}

// Attach stops pid via PTRACE_ATTACH, waits for the stop, and snapshots
// its full register file.
func Attach(pid int) (*Tracee, error) {
	if err := unix.PtraceAttach(pid); err != nil {
		return nil, fmt.Errorf("ptrace attach %d: %w", pid, err)
	}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		unix.PtraceDetach(pid)
		return nil, fmt.Errorf("wait4 %d: %w", pid, err)
	}
	if !ws.Stopped() || ws.StopSignal() != unix.SIGSTOP {
		unix.PtraceDetach(pid)
		return nil, fmt.Errorf("pid %d stopped unexpectedly: %v", pid, ws)
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		unix.PtraceDetach(pid)
		return nil, fmt.Errorf("ptrace getregs %d: %w", pid, err)
	}

	pfd, err := pidfd.Open(pid, 0)
	if err != nil {
		log.WithError(err).Debug("pidfd_open unavailable, skipping pid-reuse guard")
		pfd = noPidFD
	}

	return &Tracee{Pid: pid, backup: regs, pidFD: pfd}, nil
}

// Detach restores the pre-attach register snapshot and detaches (spec
// §4.5 step 10, testable property 10: the target sees byte-identical
// general registers once resumed). If pid was recycled by an unrelated
// process mid-session, the pidfd liveness check refuses to touch it.
func (t *Tracee) Detach() error {
	if t.pidFD != noPidFD {
		defer unix.Close(int(t.pidFD))
		if err := t.pidFD.SendSignal(0, 0); err != nil {
			return fmt.Errorf("pid %d no longer live, refusing to restore/detach: %w", t.Pid, err)
		}
	}

	if err := unix.PtraceSetRegs(t.Pid, &t.backup); err != nil {
		unix.PtraceDetach(t.Pid)
		return fmt.Errorf("ptrace setregs (restore) %d: %w", t.Pid, err)
	}
	if err := unix.PtraceDetach(t.Pid); err != nil {
		return fmt.Errorf("ptrace detach %d: %w", t.Pid, err)
	}
	return nil
}

// GetRegs reads the tracee's current register file.
func (t *Tracee) GetRegs() (unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	err := unix.PtraceGetRegs(t.Pid, &regs)
	return regs, err
}

// SetRegs writes the tracee's register file.
func (t *Tracee) SetRegs(regs *unix.PtraceRegs) error {
	return unix.PtraceSetRegs(t.Pid, regs)
}

// ReadMem copies n bytes out of the tracee's address space at addr.
func (t *Tracee) ReadMem(addr uintptr, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := unix.PtracePeekData(t.Pid, addr, buf)
	if err != nil {
		return nil, fmt.Errorf("ptrace peekdata %d @%#x: %w", t.Pid, addr, err)
	}
	return buf[:got], nil
}

// WriteMem writes data into the tracee's address space at addr.
func (t *Tracee) WriteMem(addr uintptr, data []byte) error {
	n, err := unix.PtracePokeData(t.Pid, addr, data)
	if err != nil {
		return fmt.Errorf("ptrace pokedata %d @%#x: %w", t.Pid, addr, err)
	}
	if n != len(data) {
		return fmt.Errorf("ptrace pokedata %d @%#x: short write %d/%d", t.Pid, addr, n, len(data))
	}
	return nil
}

// PushMemory allocates len(data) bytes (16-byte aligned) on the
// tracee's stack, as addressed by regs, writes data there, and returns
// the new pointer. regs.Sp is updated in place; the caller still owns
// writing regs back with SetRegs.
func (t *Tracee) PushMemory(regs *unix.PtraceRegs, data []byte) (uintptr, error) {
	sp := stackPointer(regs)
	sp -= uintptr(len(data))
	sp &^= 0xF // 16-byte align, matching the platform ABI's stack alignment requirement
	if err := t.WriteMem(sp, data); err != nil {
		return 0, err
	}
	setStackPointer(regs, sp)
	return sp, nil
}

// PushString null-terminates s, pushes it, and returns its address.
func (t *Tracee) PushString(regs *unix.PtraceRegs, s string) (uintptr, error) {
	return t.PushMemory(regs, append([]byte(s), 0))
}
