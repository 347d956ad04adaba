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

// Package symhook is C1, the PLT hook facade: given a loaded object
// identified by (device, inode), rewrite one imported symbol's
// procedure-linkage slot to point at a caller-supplied trampoline and
// hand back the address it used to hold. The spec treats the actual
// PLT-rewriting mechanism as an external collaborator — the real
// production agent would link a platform library for this (lsplt, on
// Android) — so this package is the facade the core consumes plus a
// best-effort self-process implementation good enough to exercise that
// facade end to end: ELF64 objects, standard .rela.dyn/.rela.plt
// JUMP_SLOT relocations, no RELR-compressed relocations.
package symhook

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/procmap"
)

// Registrar is the interface C3/C4's wiring code (cmd/agent) consumes.
// Keeping it separate from *Patcher lets tests substitute a fake.
type Registrar interface {
	// RegisterHook rewrites symbol's PLT/GOT slot in the loaded object
	// identified by (dev, inode) to replacement, returning the address
	// it held before. The rewrite is staged, not applied, until Commit
	// writes every staged hook together, the way lsplt's real API
	// separates registration from commit.
	RegisterHook(dev string, inode uint64, symbol string, replacement uintptr) (original uintptr, err error)
	// Commit applies every staged hook.
	Commit() error
}

// patch is one staged rewrite.
type patch struct {
	addr        uintptr
	replacement uintptr
}

// Patcher is the default Registrar.
type Patcher struct {
	mu      sync.Mutex
	pending []patch

	// mapsFn and readWord/writeWord are overridable for tests.
	mapsFn    func() ([]procmap.Entry, error)
	readWord  func(addr uintptr) uintptr
	writeWord func(addr uintptr, val uintptr) error
}

// New creates a Patcher that hooks symbols in the calling process.
func New() *Patcher {
	return &Patcher{
		mapsFn:    procmap.Self,
		readWord:  readWordAt,
		writeWord: writeWordAt,
	}
}

// RegisterHook implements Registrar.
func (p *Patcher) RegisterHook(dev string, inode uint64, symbol string, replacement uintptr) (uintptr, error) {
	entries, err := p.mapsFn()
	if err != nil {
		return 0, errors.Wrap(err, "symhook: read process map")
	}

	lib, ok := findLibrary(entries, dev, inode)
	if !ok {
		return 0, fmt.Errorf("symhook: no mapping for dev=%s inode=%d", dev, inode)
	}

	slotAddr, err := resolvePLTSlot(lib, symbol)
	if err != nil {
		return 0, errors.Wrapf(err, "symhook: resolve %s in %s", symbol, lib.Path)
	}

	original := p.readWord(slotAddr)

	p.mu.Lock()
	p.pending = append(p.pending, patch{addr: slotAddr, replacement: replacement})
	p.mu.Unlock()

	return original, nil
}

// Commit implements Registrar.
func (p *Patcher) Commit() error {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, pt := range pending {
		if err := p.writeWord(pt.addr, pt.replacement); err != nil {
			return errors.Wrapf(err, "symhook: commit hook at %#x", pt.addr)
		}
	}
	return nil
}

// findLibrary picks the lowest-addressed mapping for the loaded object
// whose device/inode match, the same identity the spec uses to name a
// "specific loaded object" (path alone is ambiguous under bind mounts
// and namespaces; device+inode is not).
func findLibrary(entries []procmap.Entry, dev string, inode uint64) (procmap.Entry, bool) {
	for _, e := range entries {
		if e.Dev == dev && e.Inode == inode && e.Path != "" {
			return e, true
		}
	}
	return procmap.Entry{}, false
}
