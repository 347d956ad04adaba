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
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/intercept"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/transport"
)

func newBackdoorCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "backdoor",
		Short: "Send the reserved 0xDEADBEEF transaction to obtain a registry handle (spec §4.2, §6)",
		Long: `Sends the backdoor transaction code directly to the agent's registry
admin socket. This only succeeds when interceptctl itself is running as
uid 0 (spec §4.2's "sender effective user id is 0" check), enforced on
the agent side via SO_PEERCRED, not by anything interceptctl asserts
about itself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialRegistry(v)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Call(transport.Request{Code: binder.SentinelBackdoorCode})
			if err != nil {
				return fmt.Errorf("backdoor transaction failed: %w", err)
			}
			if resp.Status != int32(intercept.StatusOK) {
				return fmt.Errorf("backdoor declined: status %d (not running as uid 0?)", resp.Status)
			}

			p := binder.NewParcelFrom(resp.Data)
			handle, err := p.ReadUint64()
			if err != nil {
				return fmt.Errorf("malformed backdoor reply: %w", err)
			}
			cmd.Printf("registry handle: %d\n", handle)
			return nil
		},
	}
}
