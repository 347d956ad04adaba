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

package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/intercept"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/propsvc"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/transport"
)

func setReq(t *testing.T, name, value string) transport.Request {
	t.Helper()
	p := binder.NewParcel()
	p.WriteFramedBytes([]byte(name))
	p.WriteFramedBytes([]byte(value))
	return transport.Request{Code: propsvc.AdminSetPropertyTransaction, Data: p.Bytes()}
}

func getReq(t *testing.T, name string) transport.Request {
	t.Helper()
	w := propsvc.NewWriter()
	w.WriteInterfaceToken(propsvc.InterfaceToken)
	w.WriteString16(name)
	return transport.Request{Code: propsvc.GetSpoofedPropertyTransaction, Data: w.Bytes()}
}

func TestSetThenGetReturnsValue(t *testing.T) {
	st := newStore()

	resp := st.handle(setReq(t, "ro.secure", "0"))
	require.Equal(t, int32(intercept.StatusOK), resp.Status)

	resp = st.handle(getReq(t, "ro.secure"))
	require.Equal(t, int32(intercept.StatusOK), resp.Status)

	r := propsvc.NewReader(resp.Data)
	exc, err := r.ReadInt32()
	require.NoError(t, err)
	require.Equal(t, int32(0), exc)

	value, err := r.ReadString16()
	require.NoError(t, err)
	require.NotNil(t, value)
	require.Equal(t, "0", *value)
}

func TestGetUnsetPropertyReturnsNull(t *testing.T) {
	st := newStore()

	resp := st.handle(getReq(t, "ro.build.id"))
	require.Equal(t, int32(intercept.StatusOK), resp.Status)

	r := propsvc.NewReader(resp.Data)
	_, err := r.ReadInt32()
	require.NoError(t, err)
	value, err := r.ReadString16()
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestUnknownTransactionCode(t *testing.T) {
	st := newStore()
	resp := st.handle(transport.Request{Code: 999})
	require.Equal(t, int32(intercept.StatusUnknownTransaction), resp.Status)
}
