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
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/object"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/transport"
)

// RemoteService adapts a transport.Client into an object.IBinder, so
// pkg/propspoof's Hook can transact with a policy service that lives
// in a separate process (spec §1: the policy service is an external
// collaborator, reached only through the wire contract this package
// owns) exactly the way it transacts with an in-process fake in
// tests.
type RemoteService struct {
	client *transport.Client
}

// NewRemoteService wraps client.
func NewRemoteService(client *transport.Client) *RemoteService {
	return &RemoteService{client: client}
}

// Transact implements object.IBinder by round-tripping through the
// transport client.
func (s *RemoteService) Transact(code uint32, data []byte, flags object.Flags) (int32, []byte, error) {
	resp, err := s.client.Call(transport.Request{Code: code, Flags: uint32(flags), Data: data})
	if err != nil {
		return 0, nil, err
	}
	return resp.Status, resp.Data, nil
}

// Local always returns false: a RemoteService is, by construction,
// never the local object the registry's REGISTER path requires.
func (s *RemoteService) Local() bool { return false }
