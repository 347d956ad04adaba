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
)

// prepareCall loads regs with everything needed to synthesize a call
// to target(args...): arguments in the ABI's argument registers, the
// return address set so an unexpected return lands somewhere benign
// (spec §4.5 step 4), and the program counter pointed at target.
// returnAddr == 0 means "don't touch the return address," used when
// the caller has no safe address to offer (the original's "libc return
// addr can be 0... remote_call handles this by not setting lr").
func (t *Tracee) prepareCall(regs *unix.PtraceRegs, target, returnAddr uintptr, args []uintptr) error {
	setArgs(regs, args)
	if returnAddr != 0 {
		if err := t.setReturnAddress(regs, returnAddr); err != nil {
			return err
		}
	}
	setProgramCounter(regs, target)
	return nil
}

// continueAndWait resumes the tracee and blocks until it stops again —
// which, for a synthesized call returning to a deliberately-invalid
// address, happens the moment the callee returns (spec §3 glossary,
// "ptrace as a cooperative scheduler").
func (t *Tracee) continueAndWait() error {
	if err := unix.PtraceCont(t.Pid, 0); err != nil {
		return fmt.Errorf("ptrace cont %d: %w", t.Pid, err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(t.Pid, &ws, 0, nil); err != nil {
		return fmt.Errorf("wait4 %d: %w", t.Pid, err)
	}
	if !ws.Stopped() {
		return fmt.Errorf("tracee %d did not stop as expected: %v", t.Pid, ws)
	}
	return nil
}

// RemoteCall synthesizes a call to target(args...) inside the tracee,
// blocks until it completes, and returns the callee's return-value
// register.
func (t *Tracee) RemoteCall(target, returnAddr uintptr, args []uintptr) (uintptr, error) {
	regs, err := t.GetRegs()
	if err != nil {
		return 0, err
	}
	if err := t.prepareCall(&regs, target, returnAddr, args); err != nil {
		return 0, err
	}
	if err := t.SetRegs(&regs); err != nil {
		return 0, err
	}
	if err := t.continueAndWait(); err != nil {
		return 0, err
	}

	result, err := t.GetRegs()
	if err != nil {
		return 0, err
	}
	return returnValue(&result), nil
}

// RemotePreCall starts a synthesized call and resumes the tracee
// without waiting for it to finish — the half of the "remote call as a
// cooperative scheduler" primitive that lets the injector start the
// target's recvmsg, then do its own sendmsg, before finishing the pair
// with RemotePostCall (spec §4.5 steps 5-6).
func (t *Tracee) RemotePreCall(target, returnAddr uintptr, args []uintptr) error {
	regs, err := t.GetRegs()
	if err != nil {
		return err
	}
	if err := t.prepareCall(&regs, target, returnAddr, args); err != nil {
		return err
	}
	if err := t.SetRegs(&regs); err != nil {
		return err
	}
	return unix.PtraceCont(t.Pid, 0)
}

// RemotePostCall waits for a call started by RemotePreCall to finish
// and returns its result.
func (t *Tracee) RemotePostCall() (uintptr, error) {
	var ws unix.WaitStatus
	if _, err := unix.Wait4(t.Pid, &ws, 0, nil); err != nil {
		return 0, fmt.Errorf("wait4 %d: %w", t.Pid, err)
	}
	if !ws.Stopped() {
		return 0, fmt.Errorf("tracee %d did not stop as expected: %v", t.Pid, ws)
	}

	regs, err := t.GetRegs()
	if err != nil {
		return 0, err
	}
	return returnValue(&regs), nil
}

// RemoteErrno reads the tracee's errno by calling its libc's
// thread-local errno-location function (e.g. __errno / __errno_location)
// and dereferencing the returned pointer.
func (t *Tracee) RemoteErrno(errnoLocationAddr, returnAddr uintptr) (int32, error) {
	if errnoLocationAddr == 0 {
		return 0, fmt.Errorf("errno-location address unavailable")
	}
	ptr, err := t.RemoteCall(errnoLocationAddr, returnAddr, nil)
	if err != nil {
		return 0, err
	}
	buf, err := t.ReadMem(ptr, 4)
	if err != nil {
		return 0, err
	}
	return int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16 | int32(buf[3])<<24, nil
}
