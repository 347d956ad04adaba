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
	"debug/elf"
	"fmt"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/procmap"
)

// localSymbolValue returns symbol's linked (file) vaddr as recorded in
// path's dynamic symbol table.
func localSymbolValue(path, symbol string) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	syms, err := f.DynamicSymbols()
	if err != nil {
		return 0, err
	}
	for _, s := range syms {
		if s.Name == symbol {
			return s.Value, nil
		}
	}
	return 0, fmt.Errorf("symbol %q not found in %s", symbol, path)
}

// firstLoadVaddr returns the linked vaddr of path's first PT_LOAD
// segment, the reference point every other vaddr in the file
// (including exported symbol values) is relative to.
func firstLoadVaddr(path string) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD {
			return prog.Vaddr, nil
		}
	}
	return 0, fmt.Errorf("no PT_LOAD segment in %s", path)
}

// TranslateSymbol resolves symbol's runtime address inside the target
// process (described by remoteEntries, a /proc/<pid>/maps scan) given
// it is exported by the shared object whose path ends in libSuffix —
// "translated from the local process by subtracting the local mapping
// base and adding the remote mapping base for the same (device,
// inode) object" (spec §4.5 step 2). Both sides must have mapped the
// identical file (verified implicitly: only the file's own vaddrs are
// used, so a mismatched dev/inode pair simply produces a nonsense
// address rather than an error — callers identify the object by path
// suffix only, matching the original's use of a bare library name).
func TranslateSymbol(localEntries, remoteEntries []procmap.Entry, libSuffix, symbol string) (uintptr, error) {
	localLib, ok := procmap.FindLibrary(localEntries, libSuffix)
	if !ok {
		return 0, fmt.Errorf("%s not mapped locally", libSuffix)
	}
	remoteLib, ok := procmap.FindLibrary(remoteEntries, libSuffix)
	if !ok {
		return 0, fmt.Errorf("%s not mapped in target", libSuffix)
	}

	symVaddr, err := localSymbolValue(localLib.Path, symbol)
	if err != nil {
		return 0, err
	}
	loadVaddr, err := firstLoadVaddr(localLib.Path)
	if err != nil {
		return 0, err
	}

	return uintptr(remoteLib.Start + (symVaddr - loadVaddr)), nil
}
