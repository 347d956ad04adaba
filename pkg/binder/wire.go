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

// Package binder lays out the Binder driver's ioctl ABI: the
// binder_write_read buffer, the handful of BR_* command codes the
// redirector cares about, and the binder_transaction_data descriptor
// embedded in them. Field layouts follow drivers/android/binder.h;
// command codes are derived with the same generic _IOC encoding the
// kernel uses rather than hardcoded, so a kernel that renumbers them
// (32 vs 64-bit compat ABI, new command additions) is still decoded
// correctly as long as the struct sizes match.
package binder

import "unsafe"

// generic ioctl command encoding, see <asm-generic/ioctl.h>.
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocDirNone  = 0
	iocDirWrite = 1
	iocDirRead  = 2
)

func ioc(dir, typ, nr, size uint32) uint32 {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

// IOCSize extracts the payload size encoded in the low bits of a
// driver command word (spec §4.2: "the payload size is encoded in the
// low bits of the command per the driver's ABI").
func IOCSize(cmd uint32) uint32 {
	return (cmd >> iocSizeShift) & (1<<iocSizeBits - 1)
}

// binderIOCType is the ioctl type byte used for driver *requests*
// (BINDER_WRITE_READ itself). The driver's *return* protocol inside the
// read buffer — the BR_* command words the redirector actually matches
// against — uses a different type byte; see binderReturnType.
const binderIOCType = 'b'

// binderReturnType is the ioctl type byte the kernel uses for BR_*
// command words returned in a binder_write_read's read buffer,
// distinct from the 'b' type used to encode BINDER_WRITE_READ's own
// request code above.
const binderReturnType = 'r'

// WriteRead mirrors struct binder_write_read. All fields are fixed
// 64-bit wire quantities regardless of host pointer width.
type WriteRead struct {
	WriteSize     uint64
	WriteConsumed uint64
	WriteBuffer   uint64
	ReadSize      uint64
	ReadConsumed  uint64
	ReadBuffer    uint64
}

// BinderWriteRead is the BINDER_WRITE_READ ioctl request code.
var BinderWriteRead = ioc(iocDirRead|iocDirWrite, binderIOCType, 1, uint32(unsafe.Sizeof(WriteRead{})))

// TransactionData mirrors struct binder_transaction_data. The
// target/cookie union members are always read and written through
// their pointer-sized representation; spec §4.2 only ever addresses
// objects via the pointer form, never the handle form, because the
// redirector only deals with transactions destined to local objects.
type TransactionData struct {
	TargetPtr   uint64
	Cookie      uint64
	Code        uint32
	Flags       uint32
	SenderPid   int32
	SenderEuid  uint32
	DataSize    uint64
	OffsetsSize uint64
	Buffer      uint64
	Offsets     uint64
}

// TransactionDataSecctx mirrors struct binder_transaction_data_secctx:
// a TransactionData plus a trailing pointer to the sender's security
// context string.
type TransactionDataSecctx struct {
	Transaction TransactionData
	SecCtx      uint64
}

var (
	// BRTransaction is BR_TRANSACTION, delivered for ordinary inbound calls.
	BRTransaction = ioc(iocDirRead, binderReturnType, 2, uint32(unsafe.Sizeof(TransactionData{})))
	// BRTransactionSecCtx is BR_TRANSACTION_SEC_CTX, delivered when the
	// kernel was asked for the sender's security context alongside the
	// transaction (CONFIG_ANDROID_BINDER_IPC selinux extension).
	BRTransactionSecCtx = ioc(iocDirRead, binderReturnType, 21, uint32(unsafe.Sizeof(TransactionDataSecctx{})))
)

// SentinelBackdoorCode is the reserved transaction code that, from a
// uid-0 sender, yields a strong reference to the interceptor registry
// itself (spec §4.2, §6).
const SentinelBackdoorCode uint32 = 0xDEADBEEF

// FirstCallTransaction mirrors IBinder::FIRST_CALL_TRANSACTION.
const FirstCallTransaction uint32 = 0x00000001
