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

// Package propsvc is the one wire contract this repo specifies
// bit-exactly: the request/reply encoding the property-spoofing hook
// (pkg/propspoof) uses to talk to the policy service that actually
// decides spoofed values. That service is an external collaborator —
// only this codec is owned here, and by both sides: the hook encodes
// requests with it, and cmd/propsvc-mock decodes them with it to
// stand in for a real policy service in development and tests.
package propsvc

import (
	"encoding/binary"
	"fmt"
)

// InterfaceToken is the fixed ASCII interface name every request's
// header must carry.
const InterfaceToken = "android.os.IPropertyServiceHider"

// GetSpoofedPropertyTransaction is IBinder::FIRST_CALL_TRANSACTION + 0.
const GetSpoofedPropertyTransaction uint32 = 1

// AdminSetPropertyTransaction is not part of the policy-service wire
// contract spec.md §4.1/§6 pin down; it's cmd/propsvc-mock's own
// side-channel code, shared here so cmd/interceptctl's "props set"
// subcommand and the mock server agree on it without duplicating the
// literal. A real policy service never receives or needs to handle
// this code.
const AdminSetPropertyTransaction uint32 = 0x70726f70 // "prop"

// Writer builds a request/reply buffer using the platform's Parcel
// wire format: 32-bit little-endian words, and strings encoded as a
// 32-bit length (UTF-16 code units, -1 for null) followed by that many
// code units plus a zero terminator, zero-padded to a 4-byte boundary.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// WriteInt32 appends a 32-bit little-endian word.
func (w *Writer) WriteInt32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

// WriteInterfaceToken writes the strict-mode policy header (always 0
// in this repo — rich StrictMode state is never propagated) followed
// by name as a String16.
func (w *Writer) WriteInterfaceToken(name string) {
	w.WriteInt32(0)
	w.WriteString16(name)
}

// WriteString16 writes s as a non-null String16: length in UTF-16 code
// units, then that many code units, a zero terminator, zero-padded to
// 4 bytes.
func (w *Writer) WriteString16(s string) {
	units := utf16Encode(s)
	w.WriteInt32(int32(len(units)))
	w.writeUnitsWithTerminator(units)
}

// WriteNullableString16 writes s as a nullable String16: a length of
// -1 encodes null.
func (w *Writer) WriteNullableString16(s *string) {
	if s == nil {
		w.WriteInt32(-1)
		return
	}
	w.WriteString16(*s)
}

func (w *Writer) writeUnitsWithTerminator(units []uint16) {
	body := make([]byte, 0, (len(units)+1)*2)
	for _, u := range units {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], u)
		body = append(body, b[:]...)
	}
	body = append(body, 0, 0) // terminator

	pad := (4 - len(body)%4) % 4
	w.buf = append(w.buf, body...)
	for i := 0; i < pad; i++ {
		w.buf = append(w.buf, 0)
	}
}

// Reader decodes a buffer written with Writer's conventions.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// ReadInt32 reads one 32-bit little-endian word.
func (r *Reader) ReadInt32() (int32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("propsvc: underrun reading int32")
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v, nil
}

// ReadString16 reads a nullable String16. s is nil if the encoded
// length was -1 (null). A negative length other than -1, or a length
// implausibly large for a property value, is treated as malformed.
func (r *Reader) ReadString16() (s *string, err error) {
	length, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if length == -1 {
		return nil, nil
	}
	if length < 0 || length > 4096 {
		return nil, fmt.Errorf("propsvc: implausible String16 length %d", length)
	}

	byteLen := (int(length) + 1) * 2 // + terminator
	padded := byteLen + (4-byteLen%4)%4
	if r.pos+padded > len(r.buf) {
		return nil, fmt.Errorf("propsvc: underrun reading String16 body")
	}

	units := make([]uint16, length)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(r.buf[r.pos+2*i:])
	}
	r.pos += padded

	decoded := utf16Decode(units)
	return &decoded, nil
}

func utf16Encode(s string) []uint16 {
	out := make([]uint16, 0, len(s))
	for _, r := range s {
		if r <= 0xFFFF {
			out = append(out, uint16(r))
			continue
		}
		r -= 0x10000
		out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
	}
	return out
}

func utf16Decode(units []uint16) string {
	runes := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if u >= 0xD800 && u <= 0xDBFF && i+1 < len(units) && units[i+1] >= 0xDC00 && units[i+1] <= 0xDFFF {
			r := (rune(u)-0xD800)<<10 + (rune(units[i+1]) - 0xDC00) + 0x10000
			runes = append(runes, r)
			i++
			continue
		}
		runes = append(runes, rune(u))
	}
	return string(runes)
}
