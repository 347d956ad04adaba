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
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// readWordAt reads a pointer-sized word directly out of this
// process's own address space.
func readWordAt(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

// writeWordAt overwrites a pointer-sized word in this process's own
// address space. The containing page is made writable for the
// duration of the write and left that way: the GOT page for a given
// object is rewritten at most once per hooked symbol, so leaving it
// writable avoids tracking original per-page protections across an
// unbounded set of later hooks into the same page, at the cost of
// leaving that one page permanently writable for the life of the
// process.
func writeWordAt(addr uintptr, val uintptr) error {
	pageSize := uintptr(os.Getpagesize())
	pageStart := addr &^ (pageSize - 1)

	page := unsafe.Slice((*byte)(unsafe.Pointer(pageStart)), pageSize)
	if err := unix.Mprotect(page, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return err
	}

	*(*uintptr)(unsafe.Pointer(addr)) = val
	return nil
}
