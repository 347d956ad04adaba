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

package binder

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// Parcel is a minimal, allocation-light read/write cursor over a byte
// buffer, used two ways in this repo:
//
//   - marshaling requests/replies to the out-of-scope property policy
//     service, where the wire format (spec §4.1) must match what that
//     service actually parses: a 32-bit strict-mode header, then
//     length-prefixed UTF-16 strings padded to 4 bytes;
//   - marshaling the registry/dispatcher's own internal transactions
//     (REGISTER, PRE_TRANSACT, ...), where only this repo's two ends
//     need to agree, so plain native-endian integers and a
//     {u64 length, bytes} framing for override bodies (spec §4.4) are
//     used instead of full Binder object headers.
type Parcel struct {
	buf []byte
	pos int
}

// NewParcel creates an empty, writable Parcel.
func NewParcel() *Parcel { return &Parcel{} }

// NewParcelFrom wraps an existing buffer for reading.
func NewParcelFrom(data []byte) *Parcel { return &Parcel{buf: data} }

// Bytes returns the parcel's underlying buffer.
func (p *Parcel) Bytes() []byte { return p.buf }

// DataSize returns the number of bytes written so far.
func (p *Parcel) DataSize() int { return len(p.buf) }

// DataPosition returns the current read/write cursor.
func (p *Parcel) DataPosition() int { return p.pos }

// SetDataPosition repositions the cursor, e.g. to skip padding.
func (p *Parcel) SetDataPosition(pos int) { p.pos = pos }

func pad4(n int) int { return (n + 3) &^ 3 }

func (p *Parcel) writeRaw(b []byte) {
	p.buf = append(p.buf, b...)
	p.pos = len(p.buf)
}

func (p *Parcel) readRaw(n int) ([]byte, error) {
	if p.pos+n > len(p.buf) {
		return nil, fmt.Errorf("binder: parcel underrun: need %d bytes at %d, have %d", n, p.pos, len(p.buf))
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

// WriteInt32 appends a native-endian int32.
func (p *Parcel) WriteInt32(v int32) { p.WriteUint32(uint32(v)) }

// WriteUint32 appends a native-endian uint32.
func (p *Parcel) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	p.writeRaw(b[:])
}

// WriteUint64 appends a native-endian uint64.
func (p *Parcel) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	p.writeRaw(b[:])
}

// ReadInt32 reads a native-endian int32.
func (p *Parcel) ReadInt32() (int32, error) {
	v, err := p.ReadUint32()
	return int32(v), err
}

// ReadUint32 reads a native-endian uint32.
func (p *Parcel) ReadUint32() (uint32, error) {
	b, err := p.readRaw(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint64 reads a native-endian uint64.
func (p *Parcel) ReadUint64() (uint64, error) {
	b, err := p.readRaw(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteBytes appends a raw byte slice with no framing (caller frames it).
func (p *Parcel) WriteBytes(b []byte) { p.writeRaw(b) }

// ReadBytes reads n raw bytes.
func (p *Parcel) ReadBytes(n int) ([]byte, error) { return p.readRaw(n) }

// WriteFramedBytes writes the {u64 length, bytes} framing spec §4.4
// uses for PRE/POST override bodies.
func (p *Parcel) WriteFramedBytes(b []byte) {
	p.WriteUint64(uint64(len(b)))
	p.writeRaw(b)
}

// ReadFramedBytes reads the {u64 length, bytes} framing back.
func (p *Parcel) ReadFramedBytes() ([]byte, error) {
	n, err := p.ReadUint64()
	if err != nil {
		return nil, err
	}
	return p.readRaw(int(n))
}

// WriteInterfaceToken writes the platform's strict-mode header (a
// single zero word) followed by the interface name as a String16
// (spec §4.1 step 3).
func (p *Parcel) WriteInterfaceToken(name string) {
	p.WriteInt32(0) // strict-mode policy header
	p.WriteString16(name)
}

// WriteString16 writes a non-null UTF-16 string: a 32-bit length in
// UTF-16 code units, that many code units, a zero terminator, and
// zero-padding to a 4-byte boundary (spec §4.1 step 3).
func (p *Parcel) WriteString16(s string) {
	units := utf16.Encode([]rune(s))
	p.WriteInt32(int32(len(units)))

	byteLen := (len(units) + 1) * 2 // + null terminator
	start := len(p.buf)
	p.buf = append(p.buf, make([]byte, pad4(byteLen))...)
	for i, u := range units {
		binary.LittleEndian.PutUint16(p.buf[start+i*2:], u)
	}
	// the null terminator word and any padding are already zero.
	p.pos = len(p.buf)
}

// WriteNullString16 writes the null-string encoding: a negative
// length and nothing else (spec §4.1 step 4, "a negative length
// denotes null").
func (p *Parcel) WriteNullString16() {
	p.WriteInt32(-1)
}

// ReadString16 reads a nullable UTF-16 string per spec §4.1 step 4. A
// negative length yields ok=false with no error: the value was null,
// not malformed.
func (p *Parcel) ReadString16() (s string, ok bool, err error) {
	length, err := p.ReadInt32()
	if err != nil {
		return "", false, err
	}
	if length < 0 {
		return "", false, nil
	}

	byteLen := (int(length) + 1) * 2
	raw, err := p.readRaw(pad4(byteLen))
	if err != nil {
		return "", false, err
	}

	units := make([]uint16, length)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return string(utf16.Decode(units)), true, nil
}
