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

package propsvc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteInterfaceToken(InterfaceToken)
	w.WriteString16("ro.boot.verifiedbootstate")

	r := NewReader(w.Bytes())
	strict, err := r.ReadInt32()
	require.NoError(t, err)
	require.Equal(t, int32(0), strict)

	token, err := r.ReadString16()
	require.NoError(t, err)
	require.NotNil(t, token)
	require.Equal(t, InterfaceToken, *token)

	name, err := r.ReadString16()
	require.NoError(t, err)
	require.NotNil(t, name)
	require.Equal(t, "ro.boot.verifiedbootstate", *name)
}

func TestReplyRoundTripNonNull(t *testing.T) {
	w := NewWriter()
	w.WriteInt32(0) // no exception
	green := "green"
	w.WriteNullableString16(&green)

	r := NewReader(w.Bytes())
	exc, err := r.ReadInt32()
	require.NoError(t, err)
	require.Equal(t, int32(0), exc)

	got, err := r.ReadString16()
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "green", *got)
}

func TestReplyRoundTripNull(t *testing.T) {
	w := NewWriter()
	w.WriteInt32(0)
	w.WriteNullableString16(nil)

	r := NewReader(w.Bytes())
	_, err := r.ReadInt32()
	require.NoError(t, err)

	got, err := r.ReadString16()
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestString16PaddingToFourBytes(t *testing.T) {
	w := NewWriter()
	w.WriteString16("ab") // 2 units + terminator = 3 units = 6 bytes, pads to 8
	require.Equal(t, 4+8, len(w.Bytes()))
}

func TestReadString16RejectsImplausibleLength(t *testing.T) {
	w := NewWriter()
	w.WriteInt32(1 << 20)
	r := NewReader(w.Bytes())
	_, err := r.ReadString16()
	require.Error(t, err)
}

func TestReadInt32Underrun(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.ReadInt32()
	require.Error(t, err)
}

func TestUTF16RoundTripsNonASCII(t *testing.T) {
	w := NewWriter()
	w.WriteString16("café")
	r := NewReader(w.Bytes())
	got, err := r.ReadString16()
	require.NoError(t, err)
	require.Equal(t, "café", *got)
}
