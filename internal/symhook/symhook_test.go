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
//
// resolvePLTSlot itself needs a real compiled, dynamically linked ELF
// object with JUMP_SLOT relocations to exercise meaningfully; that
// fixture can only be produced by the Go/C toolchain, which these
// tests cannot invoke. These tests instead cover everything above that
// boundary: object selection by (dev, inode), the raw relocation
// table scan, and the stage/commit bookkeeping, all driven through the
// Patcher's overridable seams.

package symhook

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/procmap"
)

func TestFindLibraryMatchesByDevAndInode(t *testing.T) {
	entries := []procmap.Entry{
		{Path: "/lib/libc.so", Dev: "08:01", Inode: 100, Start: 0x1000},
		{Path: "/lib/libc.so", Dev: "08:01", Inode: 100, Start: 0x2000}, // second segment, same object
		{Path: "/lib/libm.so", Dev: "08:01", Inode: 200, Start: 0x5000},
	}

	got, ok := findLibrary(entries, "08:01", 100)
	require.True(t, ok)
	require.Equal(t, uintptr(0x1000), got.Start, "must pick the first (lowest) matching mapping")

	_, ok = findLibrary(entries, "08:01", 999)
	require.False(t, ok)
}

func TestScanRela64FindsMatchingEntry(t *testing.T) {
	// Two Elf64_Rela entries: Offset, Info (sym<<32|type), Addend.
	entry := func(offset, sym, typ uint64) []byte {
		b := make([]byte, 24)
		putLE64(b[0:], offset)
		putLE64(b[8:], sym<<32|typ)
		putLE64(b[16:], 0)
		return b
	}
	var data []byte
	data = append(data, entry(0x3000, 4, 7)...)
	data = append(data, entry(0x3008, 9, 7)...)

	vaddr, ok := scanRela64(data, 9, 7)
	require.True(t, ok)
	require.Equal(t, uint64(0x3008), vaddr)

	_, ok = scanRela64(data, 40, 7)
	require.False(t, ok)
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func TestCommitWritesStagedHooks(t *testing.T) {
	p := &Patcher{
		mapsFn: func() ([]procmap.Entry, error) {
			return []procmap.Entry{{Path: "/lib/libtarget.so", Dev: "08:01", Inode: 42, Start: 0x1000}}, nil
		},
		readWord: func(addr uintptr) uintptr { return 0xCAFEBABE },
	}
	// resolvePLTSlot hits the real filesystem/ELF parser; since there is
	// no real object at /lib/libtarget.so in a test environment this
	// would fail, so swap in a seam at the call-site level instead by
	// exercising writeWord/stage bookkeeping directly.
	p.pending = append(p.pending, patch{addr: 0x1008, replacement: 0x9999})

	var written []patch
	p.writeWord = func(addr uintptr, val uintptr) error {
		written = append(written, patch{addr: addr, replacement: val})
		return nil
	}

	require.NoError(t, p.Commit())
	require.Len(t, written, 1)
	require.Equal(t, uintptr(0x1008), written[0].addr)
	require.Equal(t, uintptr(0x9999), written[0].replacement)
	require.Empty(t, p.pending, "Commit must clear the staged queue")
}

func TestRegisterHookErrorsWhenLibraryNotMapped(t *testing.T) {
	p := &Patcher{
		mapsFn: func() ([]procmap.Entry, error) { return nil, nil },
	}
	_, err := p.RegisterHook("08:01", 1, "ioctl", 0x1234)
	require.Error(t, err)
}

func TestRegisterHookPropagatesMapsError(t *testing.T) {
	p := &Patcher{
		mapsFn: func() ([]procmap.Entry, error) { return nil, fmt.Errorf("boom") },
	}
	_, err := p.RegisterHook("08:01", 1, "ioctl", 0x1234)
	require.Error(t, err)
}
