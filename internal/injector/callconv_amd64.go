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

//go:build amd64

package injector

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// System V AMD64 calling convention: first six integer arguments in
// rdi, rsi, rdx, rcx, r8, r9; return address is whatever the call
// instruction pushed onto the stack, so synthesizing a call means
// pushing the return address ourselves before setting rip.
const maxIntArgRegs = 6

func stackPointer(regs *unix.PtraceRegs) uintptr    { return uintptr(regs.Rsp) }
func setStackPointer(regs *unix.PtraceRegs, sp uintptr) { regs.Rsp = uint64(sp) }

func programCounter(regs *unix.PtraceRegs) uintptr { return uintptr(regs.Rip) }
func setProgramCounter(regs *unix.PtraceRegs, pc uintptr) { regs.Rip = uint64(pc) }

func returnValue(regs *unix.PtraceRegs) uintptr { return uintptr(regs.Rax) }

func setArgs(regs *unix.PtraceRegs, args []uintptr) {
	dst := []*uint64{&regs.Rdi, &regs.Rsi, &regs.Rdx, &regs.Rcx, &regs.R8, &regs.R9}
	for i, a := range args {
		if i >= maxIntArgRegs {
			break
		}
		*dst[i] = uint64(a)
	}
}

// setReturnAddress pushes addr onto the tracee's stack (8-byte,
// naturally aligned) and points rsp at it, the same effect a real
// `call` instruction has before the callee starts executing — any
// unexpected `ret` inside the synthesized call lands at addr.
func (t *Tracee) setReturnAddress(regs *unix.PtraceRegs, addr uintptr) error {
	sp := stackPointer(regs) - 8
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(addr))
	if err := t.WriteMem(sp, b[:]); err != nil {
		return err
	}
	setStackPointer(regs, sp)
	return nil
}
