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

package binderctl

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
)

// Ioctl is the drop-in replacement for a raw ioctl(fd, BINDER_WRITE_READ,
// &bwr) call: it performs the real syscall unconditionally, then — only
// for a binder fd, and only once the kernel has actually returned data
// — walks and rewrites the read buffer before the caller ever sees it
// (spec §4.2). Any other request number passes through untouched.
func (rd *Redirector) Ioctl(fd int, req uint32, bwr *binder.WriteRead) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(bwr)))
	if errno != 0 {
		return errno
	}

	if req != binder.BinderWriteRead || bwr.ReadBuffer == 0 || bwr.ReadConsumed == 0 {
		return nil
	}
	if !rd.isBinderFD(fd) {
		return nil
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(bwr.ReadBuffer))), bwr.ReadConsumed)
	rd.ProcessReadBuffer(buf, bwr.ReadConsumed)
	return nil
}
