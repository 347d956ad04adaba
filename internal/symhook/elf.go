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

package symhook

import (
	"debug/elf"
	"fmt"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/procmap"
)

// resolvePLTSlot opens lib.Path on disk, finds symbol's JUMP_SLOT
// relocation, and returns the slot's runtime address within the
// calling process given lib is one of its own /proc/self/maps
// entries.
func resolvePLTSlot(lib procmap.Entry, symbol string) (uintptr, error) {
	f, err := elf.Open(lib.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return 0, fmt.Errorf("unsupported ELF class %v", f.Class)
	}

	bias, err := loadBias(f, lib)
	if err != nil {
		return 0, err
	}

	vaddr, err := findJumpSlotVaddr(f, symbol)
	if err != nil {
		return 0, err
	}

	return uintptr(bias + vaddr), nil
}

// loadBias returns the runtime offset between a PIE object's linked
// vaddrs and where it actually ended up in memory: the first PT_LOAD
// segment's runtime start address minus its linked vaddr. lib must be
// the mapping that covers that first PT_LOAD segment (the lowest
// mapped region for the object, which procmap.FindLibrary/findLibrary
// both return).
func loadBias(f *elf.File, lib procmap.Entry) (int64, error) {
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD {
			return int64(lib.Start) - int64(prog.Vaddr), nil
		}
	}
	return 0, fmt.Errorf("no PT_LOAD segment")
}

// findJumpSlotVaddr locates symbol's dynamic symbol table index and
// the relocation entry (.rela.plt or .rela.dyn) of type R_*_JUMP_SLOT
// targeting it, returning that relocation's linked vaddr — the
// location of the GOT slot the PLT stub indirects through.
func findJumpSlotVaddr(f *elf.File, symbol string) (uint64, error) {
	syms, err := f.DynamicSymbols()
	if err != nil {
		return 0, err
	}

	var symIndex = -1
	for i, s := range syms {
		if s.Name == symbol {
			symIndex = i + 1 // dynsym index 0 is always the null entry
			break
		}
	}
	if symIndex < 0 {
		return 0, fmt.Errorf("symbol %q not found in dynamic symbol table", symbol)
	}

	for _, sectionName := range []string{".rela.plt", ".rela.dyn"} {
		sec := f.Section(sectionName)
		if sec == nil {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return 0, err
		}
		vaddr, ok := scanRela64(data, uint32(symIndex), jumpSlotType(f.Machine))
		if ok {
			return vaddr, nil
		}
	}

	return 0, fmt.Errorf("no JUMP_SLOT relocation for symbol index %d", symIndex)
}

// jumpSlotType returns the architecture-specific R_*_JUMP_SLOT
// relocation type constant.
func jumpSlotType(machine elf.Machine) uint32 {
	switch machine {
	case elf.EM_X86_64:
		return uint32(elf.R_X86_64_JMP_SLOT)
	case elf.EM_AARCH64:
		return uint32(elf.R_AARCH64_JUMP_SLOT)
	case elf.EM_386:
		return uint32(elf.R_386_JMP_SLOT)
	case elf.EM_ARM:
		return uint32(elf.R_ARM_JUMP_SLOT)
	default:
		return 0
	}
}

// scanRela64 walks a raw Elf64_Rela table (24 bytes per entry: Offset,
// Info, Addend) looking for an entry whose symbol index and
// relocation type match, returning its Offset (the linked vaddr of the
// GOT slot it describes).
func scanRela64(data []byte, symIndex uint32, relType uint32) (uint64, bool) {
	const entSize = 24
	for off := 0; off+entSize <= len(data); off += entSize {
		offset := leUint64(data[off:])
		info := leUint64(data[off+8:])
		sym := uint32(info >> 32)
		typ := uint32(info)
		if sym == symIndex && typ == relType {
			return offset, true
		}
	}
	return 0, false
}

func leUint64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
