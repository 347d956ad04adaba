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
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// magicLen is the number of random bytes appended to the abstract
// socket name, enough that two concurrent injections never collide.
const magicLen = 16

// generateMagic returns a fresh random suffix for the abstract-namespace
// socket name the injector and its tracee rendezvous on.
func generateMagic() []byte {
	id := uuid.New()
	return id[:]
}

// abstractName builds the socket name as Go's own Sockaddr conventions
// expect it: a leading '@' is the signal (see golang.org/x/sys/unix's
// SockaddrUnix.sockaddr) that this is a Linux abstract-namespace name,
// not a path on disk.
func abstractName(magic []byte) string {
	return "@sysbox-inject-" + fmt.Sprintf("%x", magic)
}

// buildRemoteSockaddrUn lays out the raw bytes of a struct sockaddr_un
// for an abstract-namespace address, suitable for pushing into a
// tracee's memory with PushMemory and passing directly to its bind/
// connect/sendto syscalls. Go's own net and x/sys/unix packages only
// know how to perform this marshaling for the calling process's own
// socket calls, not for bytes destined for another process's address
// space, so the layout is reproduced by hand here: a little-endian
// uint16 AF_UNIX family, a single NUL byte marking the abstract
// namespace, then the name with no trailing terminator (mirroring the
// sl-- adjustment Go's own sockaddr() makes for abstract names).
func buildRemoteSockaddrUn(name string) []byte {
	path := name[1:] // drop the leading '@' marker, it's not part of the wire bytes
	buf := make([]byte, 2+1+len(path))
	binary.LittleEndian.PutUint16(buf[0:2], unix.AF_UNIX)
	// buf[2] is already zero: the abstract-namespace marker byte.
	copy(buf[3:], path)
	return buf
}

// buildCmsgSpace returns a zeroed buffer sized to hold exactly one
// SCM_RIGHTS control message carrying a single file descriptor, for the
// tracee's recvmsg to fill in.
func buildCmsgSpace() []byte {
	return make([]byte, unix.CmsgSpace(4))
}

// buildRemoteMsghdr lays out a struct msghdr by hand, pointing at
// buffers already pushed into the tracee's own address space. Like
// buildRemoteSockaddrUn, this exists because the struct must be read
// by a syscall executing in a different process than the one
// constructing it, so Go's Msghdr can't be populated with local
// pointers and handed to the tracee directly.
func buildRemoteMsghdr(name, iovBase, iov, control uintptr, nameLen uint32, iovLen, controlLen uint64) []byte {
	buf := make([]byte, unix.SizeofMsghdr)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(name))
	binary.LittleEndian.PutUint32(buf[8:12], nameLen)
	// 4 bytes of padding at buf[12:16].
	binary.LittleEndian.PutUint64(buf[16:24], uint64(iov))
	binary.LittleEndian.PutUint64(buf[24:32], iovLen)
	binary.LittleEndian.PutUint64(buf[32:40], uint64(control))
	binary.LittleEndian.PutUint64(buf[40:48], controlLen)
	// Flags at buf[48:52] left zero; 4 bytes of trailing padding.
	_ = iovBase
	return buf
}

// buildRemoteIovec lays out a single struct iovec by hand, for the same
// reason as buildRemoteMsghdr.
func buildRemoteIovec(base uintptr, length uint64) []byte {
	buf := make([]byte, unix.SizeofIovec)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(base))
	binary.LittleEndian.PutUint64(buf[8:16], length)
	return buf
}

// openLocalAbstractSocket creates the injector's own end of the
// rendezvous socket: a SOCK_DGRAM Unix socket bound to the given
// abstract name with a "-local" suffix (so it never collides with the
// name the tracee binds), ready to sendmsg an SCM_RIGHTS control
// message to whatever address the tracee binds to.
func openLocalAbstractSocket(name string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: name + "-local"}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}
	return fd, nil
}

// sendFD transmits fd as ancillary data (SCM_RIGHTS) over localSocket to
// the abstract address the tracee bound to, with a single byte of
// regular payload (some recvmsg callers reject an entirely empty
// message).
func sendFD(localSocket int, remoteName string, fd int) error {
	oob := unix.UnixRights(fd)
	return unix.Sendmsg(localSocket, []byte{0}, oob, &unix.SockaddrUnix{Name: remoteName}, 0)
}

// parseReceivedFD extracts the file descriptor number from a raw
// SCM_RIGHTS control-message buffer read back out of the tracee's
// memory after its recvmsg completed. The descriptor number it
// contains is meaningful only in the tracee's own fd table.
func parseReceivedFD(cmsgBuf []byte) (int, error) {
	msgs, err := unix.ParseSocketControlMessage(cmsgBuf)
	if err != nil {
		return -1, fmt.Errorf("parse control message: %w", err)
	}
	if len(msgs) == 0 {
		return -1, fmt.Errorf("no control messages present")
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return -1, fmt.Errorf("parse unix rights: %w", err)
	}
	if len(fds) == 0 {
		return -1, fmt.Errorf("no file descriptors in control message")
	}
	return fds[0], nil
}
