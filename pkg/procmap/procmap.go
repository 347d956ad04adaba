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

// Package procmap is C2: a parser for /proc/[pid]/maps, used by the
// hook installer (internal/symhook) to find where a target library is
// mapped in a process before patching its PLT/GOT, and by the injector
// (internal/injector) to translate a local address into its remote
// equivalent by finding the same library, matched by path suffix, in
// both processes' maps.
package procmap

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// appFs is overridden in tests the same way utils.appFs is in the
// teacher package, so parsing logic never touches a real /proc.
var appFs = afero.NewOsFs()

// Perms are the four permission bits a maps line can carry.
type Perms struct {
	Read, Write, Exec, Shared bool
}

// Entry is one mapped region of a process's address space.
type Entry struct {
	Start, End uint64
	Perms      Perms
	Offset     uint64
	Dev        string // "major:minor", as printed by the kernel
	Inode      uint64
	Path       string // may be empty (anonymous mapping) or a pseudo-path ([heap], [stack], ...)
}

// Size returns the mapped region's length in bytes.
func (e Entry) Size() uint64 { return e.End - e.Start }

// Self parses the current process's memory map.
func Self() ([]Entry, error) {
	return ForPID(0)
}

// ForPID parses pid's memory map. pid == 0 means "self".
func ForPID(pid int) ([]Entry, error) {
	path := "/proc/self/maps"
	if pid != 0 {
		path = fmt.Sprintf("/proc/%d/maps", pid)
	}

	f, err := appFs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		e, ok, err := parseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("procmap: %s: %w", path, err)
		}
		if ok {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// parseLine parses one /proc/[pid]/maps line, e.g.:
//
//	7f1a2b000000-7f1a2b021000 r-xp 00000000 08:01 131082  /system/lib64/libc.so
//
// ok is false for a structurally empty line (the scanner never yields
// one in practice, but the caller treats it identically either way).
func parseLine(line string) (Entry, bool, error) {
	if strings.TrimSpace(line) == "" {
		return Entry{}, false, nil
	}

	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Entry{}, false, fmt.Errorf("malformed line %q", line)
	}

	addrRange := strings.SplitN(fields[0], "-", 2)
	if len(addrRange) != 2 {
		return Entry{}, false, fmt.Errorf("malformed address range %q", fields[0])
	}
	start, err := strconv.ParseUint(addrRange[0], 16, 64)
	if err != nil {
		return Entry{}, false, err
	}
	end, err := strconv.ParseUint(addrRange[1], 16, 64)
	if err != nil {
		return Entry{}, false, err
	}

	permStr := fields[1]
	if len(permStr) < 4 {
		return Entry{}, false, fmt.Errorf("malformed perms %q", permStr)
	}
	perms := Perms{
		Read:   permStr[0] == 'r',
		Write:  permStr[1] == 'w',
		Exec:   permStr[2] == 'x',
		Shared: permStr[3] == 's',
	}

	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return Entry{}, false, err
	}

	inode, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return Entry{}, false, err
	}

	var mappedPath string
	if len(fields) > 5 {
		mappedPath = strings.Join(fields[5:], " ")
	}

	return Entry{
		Start:  start,
		End:    end,
		Perms:  perms,
		Offset: offset,
		Dev:    fields[3],
		Inode:  inode,
		Path:   mappedPath,
	}, true, nil
}

// FindLibrary returns the first listed mapping (the lowest-addressed
// one, as the kernel lists mappings in address order) of the shared
// object whose path ends in name (e.g. "libc.so"), whatever its
// permissions: the base a caller needs to turn a symbol's file offset
// into a runtime address.
func FindLibrary(entries []Entry, name string) (Entry, bool) {
	for _, e := range entries {
		if e.Path != "" && strings.HasSuffix(e.Path, name) {
			return e, true
		}
	}
	return Entry{}, false
}
