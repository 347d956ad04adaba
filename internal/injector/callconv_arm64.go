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

//go:build arm64

package injector

import (
	"golang.org/x/sys/unix"
)

// AAPCS64: first eight integer arguments in x0-x7; the link register
// (x30) holds the return address a `bl` would have set, so no stack
// manipulation is needed to synthesize one.
const (
	maxIntArgRegs = 8
	linkRegister  = 30
)

func stackPointer(regs *unix.PtraceRegs) uintptr        { return uintptr(regs.Sp) }
func setStackPointer(regs *unix.PtraceRegs, sp uintptr) { regs.Sp = uint64(sp) }

func programCounter(regs *unix.PtraceRegs) uintptr        { return uintptr(regs.Pc) }
func setProgramCounter(regs *unix.PtraceRegs, pc uintptr) { regs.Pc = uint64(pc) }

func returnValue(regs *unix.PtraceRegs) uintptr { return uintptr(regs.Regs[0]) }

func setArgs(regs *unix.PtraceRegs, args []uintptr) {
	for i, a := range args {
		if i >= maxIntArgRegs {
			break
		}
		regs.Regs[i] = uint64(a)
	}
}

// setReturnAddress sets the link register directly; unlike amd64,
// nothing needs to be pushed onto the stack.
func (t *Tracee) setReturnAddress(regs *unix.PtraceRegs, addr uintptr) error {
	regs.Regs[linkRegister] = uint64(addr)
	return nil
}
